package api

import (
	"txn_webhook/internal/middleware" // Request ID and timing middleware

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/sirupsen/logrus"                              // Logging library
)

// RouterConfig carries the router dependencies
type RouterConfig struct {
	Service        TransactionService // Ingestion service
	Logger         logrus.FieldLogger // Request and error logging
	Ready          map[string]Pinger  // Readiness dependencies
	TrustedProxies []string           // Proxies allowed to set client IP headers
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	r := gin.New() // Gin router without default middleware
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.ProcessTime(cfg.Logger))

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	r.GET("/", HealthHandler())                          // Health probe
	r.GET("/healthz/ready", ReadinessHandler(cfg.Ready)) // Readiness probe
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))     // Prometheus metrics

	v1 := r.Group("/v1")
	v1.POST("/webhooks/transactions", ReceiveWebhookHandler(cfg.Service, cfg.Logger))       // Webhook ingestion
	v1.GET("/transactions", ListTransactionsHandler(cfg.Service, cfg.Logger))               // Transaction listing
	v1.GET("/transactions/:transaction_id", GetTransactionHandler(cfg.Service, cfg.Logger)) // Transaction lookup
	return r, nil
}
