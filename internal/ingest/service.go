// Package ingest accepts transaction webhooks exactly once per id and hands
// them to the processing queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"txn_webhook/internal/domain"
	"txn_webhook/internal/metrics"
	"txn_webhook/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrInvalidInput = errors.New("invalid transaction")
)

// Result is the outcome of a submission.
type Result string

const (
	ResultAccepted      Result = "ACCEPTED"
	ResultAlreadyExists Result = "ALREADY_EXISTS"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitRequest is an inbound transaction event.
type SubmitRequest struct {
	TransactionID      string
	SourceAccount      string
	DestinationAccount string
	Amount             decimal.Decimal
	Currency           string
}

// Store is the durable storage used by the service.
type Store interface {
	CreateWithOutbox(ctx context.Context, txn *domain.Transaction) (bool, error)
	Get(ctx context.Context, id string) (domain.Transaction, error)
	List(ctx context.Context, f store.ListFilter) ([]domain.Transaction, int64, error)
	MarkDispatched(ctx context.Context, transactionID string, at time.Time) error
	RecordDispatchFailure(ctx context.Context, transactionID string, cause error) error
}

// Enqueuer publishes a work item for a transaction id.
type Enqueuer interface {
	Enqueue(ctx context.Context, transactionID string) error
}

// Cache holds terminal transactions, which never change again.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// ListOptions selects one page of transactions.
type ListOptions struct {
	Status   string
	Page     int
	PageSize int
}

// Page is one page of a listing.
type Page struct {
	Transactions []domain.Transaction `json:"transactions"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	Total        int64                `json:"total"`
	TotalPages   int                  `json:"total_pages"`
}

type Service struct {
	store  Store
	queue  Enqueuer
	cache  Cache
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewService wires the service. cache may be nil.
func NewService(s Store, q Enqueuer, cache Cache, logger logrus.FieldLogger) *Service {
	return &Service{
		store:  s,
		queue:  q,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit records the transaction on first sighting and enqueues it once.
// Duplicates, including concurrent ones, report ResultAlreadyExists.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if err := validate(req); err != nil {
		metrics.IngestResults.WithLabelValues("invalid").Inc()
		return "", err
	}
	log := s.logger.WithField("transaction_id", req.TransactionID)

	txn := domain.NewTransaction(req.TransactionID, req.SourceAccount, req.DestinationAccount, req.Amount, req.Currency, s.now())
	created, err := s.store.CreateWithOutbox(ctx, &txn)
	if err != nil {
		metrics.IngestResults.WithLabelValues("error").Inc()
		return "", err
	}
	if !created {
		log.Info("Duplicate transaction webhook")
		metrics.IngestResults.WithLabelValues("already_exists").Inc()
		return ResultAlreadyExists, nil
	}

	// The row is committed; the enqueue must not depend on the caller staying connected.
	bg := context.WithoutCancel(ctx)
	if err := s.queue.Enqueue(bg, txn.TransactionID); err != nil {
		log.WithError(err).Warn("Enqueue failed, outbox relay will retry")
		metrics.EnqueueFailures.Inc()
		if recErr := s.store.RecordDispatchFailure(bg, txn.TransactionID, err); recErr != nil {
			log.WithError(recErr).Error("Failed to record outbox failure")
		}
	} else if err := s.store.MarkDispatched(bg, txn.TransactionID, s.now()); err != nil {
		log.WithError(err).Warn("Failed to mark outbox dispatched")
	}

	log.WithFields(logrus.Fields{
		"amount":   txn.Amount.String(),
		"currency": txn.Currency,
	}).Info("Transaction accepted")
	metrics.IngestResults.WithLabelValues("accepted").Inc()
	return ResultAccepted, nil
}

// Get returns the current state of a transaction.
func (s *Service) Get(ctx context.Context, id string) (domain.Transaction, error) {
	var txn domain.Transaction
	if s.cache != nil {
		found, err := s.cache.Get(ctx, id, &txn)
		if err == nil && found {
			return txn, nil
		}
		if err != nil {
			s.logger.WithError(err).WithField("transaction_id", id).Warn("Cache read failed")
		}
	}

	txn, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transaction{}, ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if s.cache != nil && txn.Status.Terminal() {
		if err := s.cache.Set(ctx, id, txn); err != nil {
			s.logger.WithError(err).WithField("transaction_id", id).Warn("Cache write failed")
		}
	}
	return txn, nil
}

// List pages through transactions, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (Page, error) {
	status := domain.Status(strings.ToUpper(strings.TrimSpace(opts.Status)))
	if status != "" && !status.Valid() {
		return Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, opts.Status)
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}

	txns, total, err := s.store.List(ctx, store.ListFilter{
		Status: status,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return Page{}, err
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	return Page{
		Transactions: txns,
		Page:         page,
		PageSize:     size,
		Total:        total,
		TotalPages:   int((total + int64(size) - 1) / int64(size)),
	}, nil
}

func validate(req SubmitRequest) error {
	var problems []string
	for _, f := range []struct {
		name, value string
		max         int
	}{
		{"transaction_id", req.TransactionID, domain.MaxIDLength},
		{"source_account", req.SourceAccount, domain.MaxIDLength},
		{"destination_account", req.DestinationAccount, domain.MaxIDLength},
		{"currency", req.Currency, domain.MaxCurrencyLength},
	} {
		switch {
		case strings.TrimSpace(f.value) == "":
			problems = append(problems, "missing "+f.name)
		case utf8.RuneCountInString(f.value) > f.max:
			problems = append(problems, fmt.Sprintf("%s longer than %d characters", f.name, f.max))
		}
	}
	if !domain.Fits(req.Amount) {
		problems = append(problems, fmt.Sprintf("amount must have at most %d integer and %d fractional digits",
			domain.AmountIntegerDigits, domain.AmountScale))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, ", "))
	}
	return nil
}
