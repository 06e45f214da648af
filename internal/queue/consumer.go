package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txn_webhook/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes one transaction reference. A non-nil error schedules
// a retry.
type HandlerFunc func(ctx context.Context, transactionID string) error

// ExhaustedFunc is called once an item has failed MaxAttempts times and has
// been written to the dead-letter stream.
type ExhaustedFunc func(ctx context.Context, transactionID string, cause error) error

// Options configures a Consumer.
type Options struct {
	Stream            string
	Group             string
	Consumer          string
	MaxAttempts       int
	VisibilityTimeout time.Duration // Pending entries idle this long are reclaimed
	RetryBase         time.Duration
	RetryMax          time.Duration
	Concurrency       int
	Block             time.Duration // XREADGROUP block; negative polls without blocking
	PromoteInterval   time.Duration
}

func (o *Options) defaults() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 2 * time.Minute
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Block == 0 {
		o.Block = 2 * time.Second
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
}

// promoteScript moves due retries back onto the work stream atomically.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  local attempt, id = string.match(member, '^(%d+):(.*)$')
  if attempt then
    redis.call('XADD', KEYS[2], '*', 'transaction_id', id, 'attempt', attempt)
  end
end
return #due
`)

// Consumer is a named handler bound to one stream and consumer group.
type Consumer struct {
	name        string
	client      *redis.Client
	opts        Options
	handler     HandlerFunc
	onExhausted ExhaustedFunc
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewConsumer(name string, client *redis.Client, opts Options, handler HandlerFunc, onExhausted ExhaustedFunc, logger logrus.FieldLogger) *Consumer {
	opts.defaults()
	return &Consumer{
		name:        name,
		client:      client,
		opts:        opts,
		handler:     handler,
		onExhausted: onExhausted,
		logger:      logger.WithFields(logrus.Fields{"handler": name, "stream": opts.Stream}),
		now:         time.Now,
	}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.opts.Group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Concurrency workers poll the stream
// and one loop promotes due retries. In-flight items finish or stay pending
// for reclaim.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.WithField("concurrency", c.opts.Concurrency).Info("Consumer started")
	defer c.logger.Info("Consumer stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Concurrency; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
					c.logger.WithError(err).Warn("Poll failed")
					sleep(ctx, time.Second)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(c.opts.PromoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.PromoteDue(ctx); err != nil && ctx.Err() == nil {
					c.logger.WithError(err).Warn("Retry promotion failed")
				}
			}
		}
	})
	return g.Wait()
}

// Poll handles at most one work item: a stale pending entry if any,
// otherwise a new one. It reports whether an item was handled.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	msg, ok, err := c.reclaim(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		msg, ok, err = c.read(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	c.process(ctx, msg)
	return true, nil
}

func (c *Consumer) reclaim(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		MinIdle:  c.opts.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("reclaim pending: %w", err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	c.logger.WithField("entry_id", msgs[0].ID).Info("Reclaimed stale work item")
	return msgs[0], true, nil
}

func (c *Consumer) read(ctx context.Context) (redis.XMessage, bool, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    1,
		Block:    c.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("read group: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	item, err := decode(msg)
	if err != nil {
		c.logger.WithError(err).Error("Dropping malformed work item")
		c.deadLetter(ctx, item, err)
		return
	}
	log := c.logger.WithFields(logrus.Fields{
		"transaction_id": item.TransactionID,
		"attempt":        item.Attempt,
		"entry_id":       item.ID,
	})

	err = c.handler(ctx, item.TransactionID)
	// Bookkeeping below must survive a shutdown that lands mid-item.
	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if ackErr := c.client.XAck(bg, c.opts.Stream, c.opts.Group, item.ID).Err(); ackErr != nil {
			log.WithError(ackErr).Warn("Ack failed, item will be redelivered")
		}
		metrics.QueueDeliveries.WithLabelValues(c.name, "acked").Inc()
	case ctx.Err() != nil:
		// Shutdown: leave the entry pending so another worker reclaims it.
		log.WithError(err).Warn("Work item abandoned on shutdown")
		metrics.QueueDeliveries.WithLabelValues(c.name, "abandoned").Inc()
	case item.Attempt >= c.opts.MaxAttempts:
		log.WithError(err).Error("Work item exhausted retries")
		c.deadLetter(bg, item, err)
	default:
		c.scheduleRetry(bg, item, err, log)
	}
}

func (c *Consumer) scheduleRetry(ctx context.Context, item WorkItem, cause error, log logrus.FieldLogger) {
	delay := Backoff(item.Attempt, c.opts.RetryBase, c.opts.RetryMax)
	due := c.now().Add(delay)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, RetryKey(c.opts.Stream), redis.Z{
			Score:  float64(due.UnixMilli()),
			Member: retryMember(item.TransactionID, item.Attempt+1),
		})
		pipe.XAck(ctx, c.opts.Stream, c.opts.Group, item.ID)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Scheduling retry failed, item stays pending")
		return
	}
	log.WithError(cause).WithField("retry_in", delay.String()).Warn("Work item failed, retry scheduled")
	metrics.QueueDeliveries.WithLabelValues(c.name, "retried").Inc()
}

func (c *Consumer) deadLetter(ctx context.Context, item WorkItem, cause error) {
	log := c.logger.WithFields(logrus.Fields{"transaction_id": item.TransactionID, "entry_id": item.ID})
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: DeadLetterKey(c.opts.Stream),
			Values: map[string]any{
				fieldTransactionID: item.TransactionID,
				fieldAttempt:       item.Attempt,
				fieldError:         cause.Error(),
				fieldFailedAt:      c.now().UTC().Format(time.RFC3339Nano),
				fieldOriginalID:    item.ID,
			},
		})
		pipe.XAck(ctx, c.opts.Stream, c.opts.Group, item.ID)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Dead-lettering failed, item stays pending")
		return
	}
	metrics.QueueDeliveries.WithLabelValues(c.name, "dead_lettered").Inc()

	if c.onExhausted != nil && item.TransactionID != "" {
		if err := c.onExhausted(ctx, item.TransactionID, cause); err != nil {
			log.WithError(err).Error("Exhausted callback failed")
		}
	}
}

// PromoteDue moves retries whose delay has elapsed back onto the stream and
// reports how many were moved.
func (c *Consumer) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, c.client,
		[]string{RetryKey(c.opts.Stream), c.opts.Stream},
		c.now().UnixMilli(), 100,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	if n > 0 {
		metrics.QueueRetriesPromoted.WithLabelValues(c.name).Add(float64(n))
	}
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
