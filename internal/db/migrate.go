package db

import (
	"txn_webhook/internal/domain" // Importing domain models

	"gorm.io/gorm" // GORM ORM library
)

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing columns, constraints and indexes
	return db.AutoMigrate(&domain.Transaction{}, &domain.OutboxMessage{})
}
