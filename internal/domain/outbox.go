package domain

import "time"

// OutboxMessage records a work item that must reach the queue. It is written
// in the same database transaction as the Transaction it refers to.
type OutboxMessage struct {
	ID            uint       `gorm:"primaryKey"`
	TransactionID string     `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt     time.Time  `gorm:"not null;index"`
	DispatchedAt  *time.Time `gorm:"index"`
	Attempts      int        `gorm:"not null;default:0"`
	LastError     string     `gorm:"size:512"`
}

// TableName specifies the table name for the OutboxMessage model.
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
