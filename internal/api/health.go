package api

import (
	"context"  // Probe deadlines
	"net/http" // HTTP status codes
	"time"     // Current server time

	"github.com/gin-gonic/gin" // Gin web framework
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports a fixed healthy status with the current server time
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "HEALTHY",                                 // Liveness never depends on backends
			"current_time": time.Now().UTC().Format(time.RFC3339Nano), // Server time
		})
	}
}

// ReadinessHandler pings every named dependency and fails when any is down
func ReadinessHandler(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{}
		status := http.StatusOK
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		ready := "READY"
		if status != http.StatusOK {
			ready = "NOT_READY"
		}
		c.JSON(status, gin.H{"status": ready, "checks": checks})
	}
}
