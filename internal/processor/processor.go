// Package processor moves accepted transactions to a terminal state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txn_webhook/internal/domain"
	"txn_webhook/internal/metrics"
	"txn_webhook/internal/store"

	"github.com/sirupsen/logrus"
)

// HandlerName is the queue handler the processor registers under.
const HandlerName = "process_transaction"

// Store is the storage the processor needs.
type Store interface {
	Get(ctx context.Context, id string) (domain.Transaction, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error)
}

// Executor performs the actual work for one transaction. It must return
// promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, txn domain.Transaction) error
}

// DelayExecutor stands in for real settlement work by waiting Delay.
type DelayExecutor struct {
	Delay time.Duration
}

func (e DelayExecutor) Execute(ctx context.Context, txn domain.Transaction) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Processor struct {
	store    Store
	executor Executor
	timeout  time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time
}

// New builds a Processor. A zero timeout leaves the item bounded only by ctx.
func New(s Store, executor Executor, timeout time.Duration, logger logrus.FieldLogger) *Processor {
	return &Processor{
		store:    s,
		executor: executor,
		timeout:  timeout,
		logger:   logger.WithField("handler", HandlerName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one work item. It re-reads the transaction, so redelivery
// of an already terminal or unknown id is a no-op.
func (p *Processor) Handle(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.ProcessorLatency.Observe(time.Since(start).Seconds()) }()
	log := p.logger.WithField("transaction_id", id)

	txn, err := p.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Transaction not found, skipping")
		metrics.ProcessorOutcomes.WithLabelValues("missing").Inc()
		return nil
	}
	if err != nil {
		metrics.ProcessorOutcomes.WithLabelValues("error").Inc()
		return err
	}
	if txn.Status != domain.StatusProcessing {
		log.WithField("status", txn.Status).Info("Transaction already terminal, skipping")
		metrics.ProcessorOutcomes.WithLabelValues("skipped").Inc()
		return nil
	}

	log.Info("Processing transaction")
	workCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.executor.Execute(workCtx, txn); err != nil {
		metrics.ProcessorOutcomes.WithLabelValues("error").Inc()
		return fmt.Errorf("process transaction %s: %w", id, err)
	}

	updated, err := p.store.MarkProcessed(ctx, id, p.now())
	if err != nil {
		metrics.ProcessorOutcomes.WithLabelValues("error").Inc()
		return err
	}
	if !updated {
		// Another worker finished the same redelivered item first.
		log.Info("Transaction finished concurrently, keeping first result")
		metrics.ProcessorOutcomes.WithLabelValues("skipped").Inc()
		return nil
	}
	log.Info("Finished processing transaction")
	metrics.ProcessorOutcomes.WithLabelValues("processed").Inc()
	return nil
}

// Fail records a transaction as FAILED once the queue gave up on it.
func (p *Processor) Fail(ctx context.Context, id string, cause error) error {
	reason := "processing failed"
	if cause != nil {
		reason = cause.Error()
	}
	updated, err := p.store.MarkFailed(ctx, id, reason, p.now())
	if err != nil {
		return err
	}
	if updated {
		p.logger.WithFields(logrus.Fields{"transaction_id": id, "reason": reason}).Error("Transaction failed")
		metrics.ProcessorOutcomes.WithLabelValues("failed").Inc()
	}
	return nil
}
