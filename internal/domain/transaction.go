package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Fixed-point money amounts
)

// Status is the processing state of a Transaction
type Status string

const (
	StatusProcessing Status = "PROCESSING" // Accepted, waiting for the processor
	StatusProcessed  Status = "PROCESSED"  // Terminal, processed_at is set
	StatusFailed     Status = "FAILED"     // Terminal, retries exhausted
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

const (
	MaxIDLength       = 128 // Column size of ids and account references
	MaxCurrencyLength = 16  // Column size of currency codes
)

// Transaction Model
type Transaction struct {
	TransactionID      string     `gorm:"primaryKey;size:128" json:"transaction_id"`    // Idempotency key
	SourceAccount      string     `gorm:"size:128;not null" json:"source_account"`      // Debited account
	DestinationAccount string     `gorm:"size:128;not null" json:"destination_account"` // Credited account
	Amount             Amount     `gorm:"not null" json:"amount"`                       // Transaction amount
	Currency           string     `gorm:"size:16;not null" json:"currency"`             // Currency code
	Status             Status     `gorm:"size:16;not null;index" json:"status"`         // Processing state
	FailureReason      string     `gorm:"size:512" json:"failure_reason,omitempty"`     // Set only when FAILED
	CreatedAt          time.Time  `gorm:"not null;index" json:"created_at"`             // Creation time
	ProcessedAt        *time.Time `json:"processed_at"`                                 // Set once on PROCESSED
	UpdatedAt          time.Time  `json:"-"`                                            // Bookkeeping
}

// TableName specifies the table name for the Transaction model.
func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction builds a freshly accepted transaction
func NewTransaction(id, source, destination string, amount decimal.Decimal, currency string, now time.Time) Transaction {
	return Transaction{
		TransactionID:      id,
		SourceAccount:      source,
		DestinationAccount: destination,
		Amount:             NewAmount(amount),
		Currency:           currency,
		Status:             StatusProcessing,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
