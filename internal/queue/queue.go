// Package queue carries transaction work items over Redis Streams with
// at-least-once delivery, delayed retries and a dead-letter stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldTransactionID = "transaction_id"
	fieldAttempt       = "attempt"
	fieldError         = "error"
	fieldFailedAt      = "failed_at"
	fieldOriginalID    = "original_id"
)

// WorkItem is one delivery of a transaction reference.
type WorkItem struct {
	ID            string // Stream entry id
	TransactionID string
	Attempt       int
}

// Connect connects to the redis server and returns the client.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,     // Redis server address
		Password: password, // Redis password
		DB:       db,       // Redis database number
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RetryKey is the sorted set holding delayed retries for a stream.
func RetryKey(stream string) string { return stream + ":retry" }

// DeadLetterKey is the stream receiving exhausted work items.
func DeadLetterKey(stream string) string { return stream + ":dead" }

// Publisher enqueues work items. Only the transaction id travels; consumers
// re-read current state from the store.
type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// Enqueue publishes the first delivery of a transaction.
func (p *Publisher) Enqueue(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return errors.New("enqueue: empty transaction id")
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{fieldTransactionID: transactionID, fieldAttempt: 1},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", transactionID, err)
	}
	return nil
}

func decode(msg redis.XMessage) (WorkItem, error) {
	item := WorkItem{ID: msg.ID, Attempt: 1}
	id, _ := msg.Values[fieldTransactionID].(string)
	if id == "" {
		return item, fmt.Errorf("entry %s has no %s", msg.ID, fieldTransactionID)
	}
	item.TransactionID = id
	if raw, ok := msg.Values[fieldAttempt].(string); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return item, fmt.Errorf("entry %s has invalid %s %q", msg.ID, fieldAttempt, raw)
		}
		item.Attempt = n
	}
	return item, nil
}

// Backoff returns the delay before the given retry attempt: base doubled per
// previous attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// retryMember encodes a delayed retry as "<attempt>:<transaction id>".
func retryMember(transactionID string, attempt int) string {
	return strconv.Itoa(attempt) + ":" + transactionID
}
