// Package outbox republishes accepted transactions whose work item never
// reached the queue.
package outbox

import (
	"context"
	"time"

	"txn_webhook/internal/domain"
	"txn_webhook/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Store is the outbox view of the transaction store.
type Store interface {
	PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxMessage, error)
	MarkDispatched(ctx context.Context, transactionID string, at time.Time) error
	RecordDispatchFailure(ctx context.Context, transactionID string, cause error) error
}

// Enqueuer publishes a work item for a transaction id.
type Enqueuer interface {
	Enqueue(ctx context.Context, transactionID string) error
}

type Relay struct {
	store    Store
	queue    Enqueuer
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewRelay builds a relay that sweeps every interval for rows older than
// grace, batch rows at a time.
func NewRelay(s Store, q Enqueuer, interval, grace time.Duration, batch int, logger logrus.FieldLogger) *Relay {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batch < 1 {
		batch = 100
	}
	return &Relay{
		store:    s,
		queue:    q,
		interval: interval,
		grace:    grace,
		batch:    batch,
		logger:   logger.WithField("component", "outbox_relay"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.WithField("interval", r.interval.String()).Info("Outbox relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Warn("Outbox sweep failed")
			}
		}
	}
}

// Sweep publishes one batch of undispatched rows and reports how many made
// it onto the queue.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	msgs, err := r.store.PendingOutbox(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, msg := range msgs {
		log := r.logger.WithFields(logrus.Fields{
			"transaction_id": msg.TransactionID,
			"attempts":       msg.Attempts,
		})
		if err := r.queue.Enqueue(ctx, msg.TransactionID); err != nil {
			log.WithError(err).Warn("Outbox publish failed")
			metrics.OutboxErrors.Inc()
			if recErr := r.store.RecordDispatchFailure(ctx, msg.TransactionID, err); recErr != nil {
				log.WithError(recErr).Error("Failed to record outbox failure")
			}
			continue
		}
		if err := r.store.MarkDispatched(ctx, msg.TransactionID, r.now()); err != nil {
			// Published but not marked: the next sweep enqueues it again,
			// which the processor tolerates.
			log.WithError(err).Warn("Failed to mark outbox dispatched")
		}
		published++
		metrics.OutboxPublished.Inc()
	}
	if published > 0 {
		r.logger.WithField("count", published).Info("Outbox rows republished")
	}
	return published, nil
}
