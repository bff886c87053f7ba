package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEmitted tracks tasks handed to an execution backend per mode
	TasksEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockingest_tasks_emitted_total",
			Help: "Total number of tasks emitted by the dispatcher",
		},
		[]string{"mode"},
	)

	// TaskOutcomes tracks settled task attempts by outcome
	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockingest_task_outcomes_total",
			Help: "Total number of settled task attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TaskRetries tracks retried task attempts
	TaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockingest_task_retries_total",
			Help: "Total number of task retries",
		},
	)

	// DeadLettered tracks tasks written to the dead-letter sink
	DeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockingest_dead_lettered_total",
			Help: "Total number of tasks moved to the dead-letter sink",
		},
	)

	// BlocksIngested tracks blocks whose snapshots were stored
	BlocksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockingest_blocks_ingested_total",
			Help: "Total number of blocks ingested",
		},
		[]string{"kind"},
	)

	// ArtifactsStored tracks artifacts written to the store
	ArtifactsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockingest_artifacts_stored_total",
			Help: "Total number of artifacts written",
		},
	)

	// FetchLatency tracks block fetch latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockingest_fetch_latency_seconds",
			Help:    "Block fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// ChainHeadBlock tracks the latest observed chain head
	ChainHeadBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockingest_chain_head_block",
			Help: "Latest observed chain head",
		},
	)

	// CursorBlock tracks the last processed block per cursor scope
	CursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockingest_cursor_block",
			Help: "Last processed block per cursor scope",
		},
		[]string{"scope"},
	)

	// QueueDepth tracks queued tasks on the distributed queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockingest_queue_depth",
			Help: "Number of tasks waiting on a queue",
		},
		[]string{"queue"},
	)

	// DispatcherState tracks the dispatcher state (1 for the current state)
	DispatcherState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockingest_dispatcher_state",
			Help: "Current dispatcher state",
		},
		[]string{"state"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockingest_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
