package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"txn_webhook/internal/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "transactions:test"

type recorder struct {
	mu        sync.Mutex
	handled   []string
	exhausted []string
	fail      error
}

func (r *recorder) handle(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, id)
	return r.fail
}

func (r *recorder) onExhausted(ctx context.Context, id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = append(r.exhausted, id)
	return nil
}

func newConsumer(t *testing.T, client *redis.Client, rec *recorder, opts Options) *Consumer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Stream = testStream
	opts.Group = "processors"
	opts.Consumer = "worker-1"
	if opts.Block == 0 {
		opts.Block = 10 * time.Millisecond
	}
	c := NewConsumer("process_transaction", client, opts, rec.handle, rec.onExhausted, logger)
	require.NoError(t, c.EnsureGroup(context.Background()))
	return c
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, 10*time.Second), "attempt %d", tt.attempt)
	}
	assert.Equal(t, 8*time.Second, Backoff(4, time.Second, 0))
}

func TestDecode(t *testing.T) {
	item, err := decode(redis.XMessage{ID: "1-0", Values: map[string]any{"transaction_id": "tx1", "attempt": "3"}})
	require.NoError(t, err)
	assert.Equal(t, WorkItem{ID: "1-0", TransactionID: "tx1", Attempt: 3}, item)

	item, err = decode(redis.XMessage{ID: "2-0", Values: map[string]any{"transaction_id": "tx2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempt)

	_, err = decode(redis.XMessage{ID: "3-0", Values: map[string]any{"attempt": "1"}})
	require.Error(t, err)

	_, err = decode(redis.XMessage{ID: "4-0", Values: map[string]any{"transaction_id": "tx4", "attempt": "zero"}})
	require.Error(t, err)
}

func TestEnqueueCarriesOnlyTheID(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	p := NewPublisher(client, testStream)

	require.NoError(t, p.Enqueue(ctx, "tx1"))
	require.Error(t, p.Enqueue(ctx, ""))

	msgs, err := client.XRange(ctx, testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"transaction_id": "tx1", "attempt": "1"}, msgs[0].Values)
}

func TestPollAcksOnSuccess(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	rec := &recorder{}
	c := newConsumer(t, client, rec, Options{})

	require.NoError(t, NewPublisher(client, testStream).Enqueue(ctx, "tx1"))

	handled, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"tx1"}, rec.handled)

	pending, err := client.XPending(ctx, testStream, "processors").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)

	handled, err = c.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestPollSchedulesRetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	rec := &recorder{fail: errors.New("ledger busy")}
	c := newConsumer(t, client, rec, Options{MaxAttempts: 3, RetryBase: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, NewPublisher(client, testStream).Enqueue(ctx, "tx1"))
	_, err := c.Poll(ctx)
	require.NoError(t, err)

	retries, err := client.ZRangeWithScores(ctx, RetryKey(testStream), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, "2:tx1", retries[0].Member)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), retries[0].Score)

	n, err := c.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "retry is not due yet")

	now = now.Add(time.Minute)
	n, err = c.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec.fail = nil
	handled, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"tx1", "tx1"}, rec.handled)

	count, err := client.ZCard(ctx, RetryKey(testStream)).Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPollDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	rec := &recorder{fail: errors.New("ledger rejected")}
	c := newConsumer(t, client, rec, Options{MaxAttempts: 2, RetryBase: time.Millisecond})

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: testStream,
		Values: map[string]any{"transaction_id": "tx1", "attempt": 2},
	}).Err())

	_, err := c.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"tx1"}, rec.exhausted)
	dead, err := client.XRange(ctx, DeadLetterKey(testStream), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "tx1", dead[0].Values["transaction_id"])
	assert.Equal(t, "ledger rejected", dead[0].Values["error"])

	count, err := client.ZCard(ctx, RetryKey(testStream)).Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPollDeadLettersMalformedEntries(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	rec := &recorder{}
	c := newConsumer(t, client, rec, Options{})

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: testStream,
		Values: map[string]any{"garbage": "1"},
	}).Err())

	handled, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, rec.handled)
	assert.Empty(t, rec.exhausted)

	dead, err := client.XLen(ctx, DeadLetterKey(testStream)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, dead)
}

func TestPollReclaimsStaleEntries(t *testing.T) {
	ctx := context.Background()
	_, client := testutil.NewRedis(t)
	rec := &recorder{}
	c := newConsumer(t, client, rec, Options{VisibilityTimeout: 5 * time.Millisecond})

	require.NoError(t, NewPublisher(client, testStream).Enqueue(ctx, "tx1"))
	// A crashed worker read the entry and never acked it.
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "processors",
		Consumer: "crashed",
		Streams:  []string{testStream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	handled, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"tx1"}, rec.handled)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, client := testutil.NewRedis(t)
	rec := &recorder{}
	c := newConsumer(t, client, rec, Options{Concurrency: 2, PromoteInterval: 5 * time.Millisecond})

	require.NoError(t, NewPublisher(client, testStream).Enqueue(context.Background(), "tx1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.handled) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
