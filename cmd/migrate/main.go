package main

import (
	"txn_webhook/internal/config"  // Custom import path (Config)
	"txn_webhook/internal/db"      // Custom import path (Database)
	"txn_webhook/internal/logging" // Custom import path (Logging)
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	gdb, err := db.Open(cfg)
	if err != nil {
		logger.Fatalf("failed to connect to DB: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatalf("migration failed: %v", err)
	}
	logger.Info("Migration completed successfully")
}
