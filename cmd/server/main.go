package main

import (
	"context"   // Signal-cancelled lifetime
	"errors"    // Error matching
	"net/http"  // HTTP server
	"os"        // OS signals
	"os/signal" // Signal handling
	"syscall"   // SIGTERM
	"time"      // Shutdown deadline

	"txn_webhook/internal/api"     // HTTP handlers and router
	"txn_webhook/internal/config"  // Configuration
	"txn_webhook/internal/db"      // Database bootstrap
	"txn_webhook/internal/ingest"  // Ingestion service
	"txn_webhook/internal/logging" // Logger setup
	"txn_webhook/internal/outbox"  // Outbox relay
	"txn_webhook/internal/queue"   // Work queue
	"txn_webhook/internal/store"   // Transaction storage
	"txn_webhook/internal/utils"   // Redis cache

	"github.com/gin-gonic/gin"   // Gin web framework
	"golang.org/x/sync/errgroup" // Server and relay lifecycle
)

// Main function to set up and run the webhook server and outbox relay
func main() {
	cfg := config.LoadConfig() // Load configuration
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the database
	gdb, err := db.Open(cfg)
	if err != nil {
		logger.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Connect to Redis, used by both the queue and the cache
	redisClient, err := queue.Connect(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	transactions := store.NewTransactionStore(gdb)
	publisher := queue.NewPublisher(redisClient, cfg.Queue.Stream)
	cache := utils.NewCache(redisClient, "txn:", cfg.CacheTTL)
	svc := ingest.NewService(transactions, publisher, cache, logger)
	relay := outbox.NewRelay(transactions, publisher, cfg.Outbox.Interval, cfg.Outbox.Grace, cfg.Outbox.Batch, logger)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r, err := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Logger:         logger,
		Ready:          map[string]api.Pinger{"database": transactions, "redis": cache},
		TrustedProxies: []string{"127.0.0.1"},
	})
	if err != nil {
		logger.Fatalf("failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return relay.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
	logger.Info("Server stopped")
}
