package middleware

import (
	"strconv" // Number formatting
	"time"    // Request timing

	"txn_webhook/internal/metrics" // Prometheus collectors

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/google/uuid"     // Request IDs
	"github.com/sirupsen/logrus" // Logging library
)

const (
	RequestIDHeader   = "X-Request-ID"      // Echoed or generated per request
	ProcessTimeHeader = "X-Process-Time-ms" // Handler duration in milliseconds
)

// RequestID reuses the caller's request ID or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)        // Store request ID in context
		c.Header(RequestIDHeader, id) // Return it to the caller
		c.Next()                      // Proceed to the next handler
	}
}

// ProcessTime adds the X-Process-Time-ms header and logs every request
func ProcessTime(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// Replaced on first write; bodiless responses keep the placeholder
		c.Writer.Header().Set(ProcessTimeHeader, "0")
		wrapped := &timedWriter{ResponseWriter: c.Writer, start: start}
		c.Writer = wrapped
		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestLatency.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,         // HTTP method
			"path":       c.Request.URL.Path,       // Request path
			"status":     status,                   // Response status
			"elapsed_ms": formatMillis(elapsed),    // Handler duration
			"request_id": c.GetString("requestID"), // Correlation ID
		}).Info("Request handled")
	}
}

// timedWriter stamps the elapsed time right before the headers go out
type timedWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timedWriter) stamp() {
	if !w.stamped {
		w.stamped = true
		w.ResponseWriter.Header().Set(ProcessTimeHeader, formatMillis(time.Since(w.start)))
	}
}

func (w *timedWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timedWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timedWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 2, 64)
}
