package main

import (
	"context"   // Signal-cancelled lifetime
	"os"        // OS signals
	"os/signal" // Signal handling
	"syscall"   // SIGTERM

	"txn_webhook/internal/config"    // Configuration
	"txn_webhook/internal/db"        // Database bootstrap
	"txn_webhook/internal/logging"   // Logger setup
	"txn_webhook/internal/processor" // Transaction processor
	"txn_webhook/internal/queue"     // Work queue
	"txn_webhook/internal/store"     // Transaction storage
)

// Main entry point for the processing worker
func main() {
	cfg := config.LoadConfig() // Load configuration
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg)
	if err != nil {
		logger.Fatalf("failed to connect to DB: %v", err)
	}
	redisClient, err := queue.Connect(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	p := processor.New(
		store.NewTransactionStore(gdb),
		processor.DelayExecutor{Delay: cfg.Processing.Delay},
		cfg.Processing.Timeout,
		logger,
	)
	consumer := queue.NewConsumer(processor.HandlerName, redisClient, queue.Options{
		Stream:            cfg.Queue.Stream,
		Group:             cfg.Queue.Group,
		Consumer:          cfg.Queue.Consumer,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		RetryBase:         cfg.Queue.RetryBase,
		RetryMax:          cfg.Queue.RetryMax,
		Concurrency:       cfg.Queue.Concurrency,
	}, p.Handle, p.Fail, logger)

	if err := consumer.Run(ctx); err != nil {
		logger.Fatalf("worker stopped: %v", err)
	}
}
