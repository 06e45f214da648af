package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion, queue and processor counters for the webhook service.

var (
	// Ingestion
	IngestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "ingest",
		Name:      "results_total",
		Help:      "Webhook submissions by outcome (accepted, already_exists, invalid, error)",
	}, []string{"result"})

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "ingest",
		Name:      "enqueue_failures_total",
		Help:      "Work items left to the outbox relay after a failed direct enqueue",
	})

	// Queue
	QueueDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "queue",
		Name:      "deliveries_total",
		Help:      "Work item deliveries by handler and outcome (acked, retried, dead_lettered, abandoned)",
	}, []string{"handler", "outcome"})

	QueueRetriesPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "queue",
		Name:      "retries_promoted_total",
		Help:      "Delayed retries moved back onto the work stream",
	}, []string{"handler"})

	// Processor
	ProcessorOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "processor",
		Name:      "outcomes_total",
		Help:      "Processor results by outcome (processed, skipped, missing, error, failed)",
	}, []string{"outcome"})

	ProcessorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "txn_webhook",
		Subsystem: "processor",
		Name:      "duration_seconds",
		Help:      "Time spent handling one work item",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	// Outbox
	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox rows published by the relay",
	})

	OutboxErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "txn_webhook",
		Subsystem: "outbox",
		Name:      "errors_total",
		Help:      "Outbox rows the relay failed to publish",
	})

	// HTTP
	HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "txn_webhook",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by route and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
