package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"txn_webhook/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no transaction exists for an id.
	ErrNotFound = errors.New("transaction not found")

	errAlreadyExists = errors.New("transaction already exists")
)

const maxErrorLen = 512

// ListFilter narrows a transaction listing.
type ListFilter struct {
	Status domain.Status
	Offset int
	Limit  int
}

// TransactionStore persists transactions and their outbox rows with GORM.
type TransactionStore struct {
	db *gorm.DB
}

func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// CreateWithOutbox inserts txn together with its outbox row in one database
// transaction. The insert is unconditional and a conflict on the primary key
// is the duplicate signal: created is false and nothing is written.
func (s *TransactionStore) CreateWithOutbox(ctx context.Context, txn *domain.Transaction) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyExists // Rollback, the row belongs to another submission
		}
		msg := domain.OutboxMessage{TransactionID: txn.TransactionID, CreatedAt: txn.CreatedAt}
		return tx.Create(&msg).Error
	})
	switch {
	case errors.Is(err, errAlreadyExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("create transaction %s: %w", txn.TransactionID, err)
	}
	return true, nil
}

// Get loads the current state of a transaction.
func (s *TransactionStore) Get(ctx context.Context, id string) (domain.Transaction, error) {
	var txn domain.Transaction
	err := s.db.WithContext(ctx).Where("transaction_id = ?", id).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Transaction{}, ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return txn, nil
}

// List returns one page of transactions, newest first, and the total count.
func (s *TransactionStore) List(ctx context.Context, f ListFilter) ([]domain.Transaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&domain.Transaction{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{}) // Shared by the count and the page query
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	var txns []domain.Transaction
	err := q.Order("created_at desc").Order("transaction_id").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&txns).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txns, total, nil
}

// MarkProcessed moves a PROCESSING transaction to PROCESSED. It reports false
// when the transaction is missing or already terminal.
func (s *TransactionStore) MarkProcessed(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("transaction_id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":       domain.StatusProcessed,
			"processed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark transaction %s processed: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a PROCESSING transaction to FAILED with the given reason.
func (s *TransactionStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("transaction_id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":         domain.StatusFailed,
			"failure_reason": truncate(reason, maxErrorLen),
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark transaction %s failed: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Ping checks the database connection.
func (s *TransactionStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
