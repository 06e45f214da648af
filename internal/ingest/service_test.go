package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"txn_webhook/internal/domain"
	"txn_webhook/internal/store"
	"txn_webhook/internal/testutil"
	"txn_webhook/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (q *fakeQueue) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *fakeQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

// failingStore fails every write, standing in for a database outage.
type failingStore struct {
	*store.TransactionStore
}

func (failingStore) CreateWithOutbox(ctx context.Context, txn *domain.Transaction) (bool, error) {
	return false, errors.New("database is down")
}

func request(id string) SubmitRequest {
	return SubmitRequest{
		TransactionID:      id,
		SourceAccount:      "A",
		DestinationAccount: "B",
		Amount:             decimal.RequireFromString("100.0"),
		Currency:           "USD",
	}
}

func newService(t *testing.T, q *fakeQueue) (*Service, *store.TransactionStore) {
	t.Helper()
	s := store.NewTransactionStore(testutil.NewDB(t))
	logger, _ := test.NewNullLogger()
	return NewService(s, q, nil, logger), s
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	svc, s := newService(t, q)

	res, err := svc.Submit(ctx, request("tx1"))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	res, err = svc.Submit(ctx, request("tx1"))
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyExists, res)

	assert.Equal(t, []string{"tx1"}, q.enqueued())
	_, total, err := s.List(ctx, store.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	pending, err := s.PendingOutbox(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "direct enqueue marks the outbox row dispatched")
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	svc, s := newService(t, q)

	const n = 20
	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Submit(ctx, request("tx-race"))
		}(i)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i] == ResultAccepted {
			accepted++
		} else {
			assert.Equal(t, ResultAlreadyExists, results[i])
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []string{"tx-race"}, q.enqueued())

	_, total, err := s.List(ctx, store.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestSubmitThenReadReturnsProcessing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeQueue{})

	res, err := svc.Submit(ctx, request("tx1"))
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, res)

	txn, err := svc.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, txn.Status)
	assert.False(t, txn.CreatedAt.IsZero())
	assert.Nil(t, txn.ProcessedAt)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(100)))
}

func TestGetUnknownTransaction(t *testing.T) {
	svc, _ := newService(t, &fakeQueue{})

	_, err := svc.Get(context.Background(), "never-submitted")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	q := &fakeQueue{}
	svc, _ := newService(t, q)

	req := request("tx1")
	req.SourceAccount = "  "
	req.Currency = ""

	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "source_account")
	assert.Contains(t, err.Error(), "currency")
	assert.Empty(t, q.enqueued())
}

func TestSubmitEnqueueFailureLeavesOutboxRow(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{fail: errors.New("redis unavailable")}
	svc, s := newService(t, q)

	res, err := svc.Submit(ctx, request("tx1"))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	pending, err := s.PendingOutbox(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx1", pending[0].TransactionID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "redis unavailable", pending[0].LastError)
}

func TestSubmitStorageFailureDoesNotEnqueue(t *testing.T) {
	q := &fakeQueue{}
	logger, _ := test.NewNullLogger()
	svc := NewService(failingStore{}, q, nil, logger)

	_, err := svc.Submit(context.Background(), request("tx1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, q.enqueued())
}

func TestGetCachesTerminalTransactions(t *testing.T) {
	ctx := context.Background()
	s := store.NewTransactionStore(testutil.NewDB(t))
	mr, client := testutil.NewRedis(t)
	logger, _ := test.NewNullLogger()
	svc := NewService(s, &fakeQueue{}, utils.NewCache(client, "txn:", time.Minute), logger)

	_, err := svc.Submit(ctx, request("tx1"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("txn:tx1"), "PROCESSING transactions are never cached")

	processedAt := time.Now().UTC()
	_, err = s.MarkProcessed(ctx, "tx1", processedAt)
	require.NoError(t, err)

	txn, err := svc.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, txn.Status)
	assert.True(t, mr.Exists("txn:tx1"))

	cached, err := svc.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, cached.Status)
	require.NotNil(t, cached.ProcessedAt)
	assert.True(t, cached.ProcessedAt.Equal(processedAt))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t, &fakeQueue{})
	for _, id := range []string{"tx1", "tx2", "tx3"} {
		_, err := svc.Submit(ctx, request(id))
		require.NoError(t, err)
	}
	_, err := s.MarkProcessed(ctx, "tx1", time.Now().UTC())
	require.NoError(t, err)

	page, err := svc.List(ctx, ListOptions{Status: "processing", Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Transactions, 1)

	page, err = svc.List(ctx, ListOptions{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Transactions, 3)

	page, err = svc.List(ctx, ListOptions{Status: "FAILED"})
	require.NoError(t, err)
	assert.NotNil(t, page.Transactions)
	assert.Empty(t, page.Transactions)

	_, err = svc.List(ctx, ListOptions{Status: "done"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitRejectsValuesThatDoNotFitStorage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{"too many fractional digits", func(r *SubmitRequest) { r.Amount = decimal.RequireFromString("1.123456789") }, "amount"},
		{"too many integer digits", func(r *SubmitRequest) { r.Amount = decimal.RequireFromString("1234567890123.5") }, "amount"},
		{"long transaction id", func(r *SubmitRequest) { r.TransactionID = strings.Repeat("x", 129) }, "transaction_id"},
		{"long account", func(r *SubmitRequest) { r.DestinationAccount = strings.Repeat("é", 129) }, "destination_account"},
		{"long currency", func(r *SubmitRequest) { r.Currency = strings.Repeat("U", 17) }, "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			svc, _ := newService(t, q)
			req := request("tx1")
			tt.mutate(&req)

			_, err := svc.Submit(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.field)
			assert.Empty(t, q.enqueued())
		})
	}

	svc, _ := newService(t, &fakeQueue{})
	req := request(strings.Repeat("x", 128))
	req.Amount = decimal.RequireFromString("999999999999.99999999")
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	txn, err := svc.Get(context.Background(), req.TransactionID)
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(req.Amount))
}
