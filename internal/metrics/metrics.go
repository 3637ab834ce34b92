package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts tracks failed attempts per operation and error class
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdakit_retry_failed_attempts_total",
			Help: "Total number of failed operation attempts",
		},
		[]string{"op", "class"},
	)

	// RetryExhausted tracks operations the executor gave up on
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdakit_retry_exhausted_total",
			Help: "Total number of operations that exhausted their retries",
		},
		[]string{"op", "class"},
	)

	// OperationLatency tracks single attempt latency
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lambdakit_operation_attempt_seconds",
			Help:    "Latency of a single operation attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// BatchItems tracks processed batch items per source and outcome
	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdakit_batch_items_total",
			Help: "Total number of batch items processed",
		},
		[]string{"source", "outcome"},
	)

	// BatchAbandoned tracks items still pending when the deadline elapsed
	BatchAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdakit_batch_items_abandoned_total",
			Help: "Total number of batch items reported failed because the deadline elapsed",
		},
		[]string{"source"},
	)

	// BatchDuration tracks end-to-end batch processing time
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lambdakit_batch_duration_seconds",
			Help:    "Batch processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// LedgerPending tracks failing items currently in the failure ledger
	LedgerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lambdakit_ledger_pending_items",
			Help: "Number of items currently recorded as failing",
		},
		[]string{"source"},
	)

	// DBConnectionPoolUsage tracks postgres pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lambdakit_db_connection_pool_usage_percent",
			Help: "Percentage of open connections against the pool maximum",
		},
	)
)
