package store

import (
	"context"
	"fmt"
	"time"

	"txn_webhook/internal/domain"

	"gorm.io/gorm"
)

// PendingOutbox returns undispatched outbox rows created at or before
// olderThan, oldest first.
func (s *TransactionStore) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxMessage, error) {
	var msgs []domain.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND created_at <= ?", olderThan).
		Order("created_at").Order("id").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load pending outbox: %w", err)
	}
	return msgs, nil
}

// MarkDispatched stamps the outbox row of a transaction as published.
func (s *TransactionStore) MarkDispatched(ctx context.Context, transactionID string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&domain.OutboxMessage{}).
		Where("transaction_id = ? AND dispatched_at IS NULL", transactionID).
		Updates(map[string]any{
			"dispatched_at": at,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox %s dispatched: %w", transactionID, err)
	}
	return nil
}

// RecordDispatchFailure counts a failed publish attempt on the outbox row.
func (s *TransactionStore) RecordDispatchFailure(ctx context.Context, transactionID string, cause error) error {
	err := s.db.WithContext(ctx).Model(&domain.OutboxMessage{}).
		Where("transaction_id = ? AND dispatched_at IS NULL", transactionID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncate(cause.Error(), maxErrorLen),
		}).Error
	if err != nil {
		return fmt.Errorf("record outbox %s failure: %w", transactionID, err)
	}
	return nil
}
