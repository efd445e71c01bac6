package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Planning loop counters and histograms. One planner instance serves one
// drive, so series are not partitioned by drive id.

var (
	// Planner
	PlannerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "cycles_total",
		Help:      "Total planning cycles started",
	})

	PlannerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "cycle_duration_seconds",
		Help:      "Planning cycle duration from snapshot to fan-out",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	PlannerSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "plan_source_total",
		Help:      "Cycles won by each plan source",
	}, []string{"source"})

	PlannerResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "resets_total",
		Help:      "Safety resets of the planned trajectory",
	}, []string{"reason"})

	PlannerFCWTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "fcw_total",
		Help:      "Forward collision warnings raised",
	})

	PlannerInputErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "input_errors_total",
		Help:      "Cycles skipped because the input snapshot failed",
	})

	PlannerStaleCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "stale_cycles_total",
		Help:      "Cycles planned from stale inputs and marked invalid",
	})

	PlannerSinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "sink_errors_total",
		Help:      "Plan deliveries rejected by a sink",
	})

	PlannerDeadlineMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "planner",
		Name:      "deadline_misses_total",
		Help:      "Cycles that ran longer than the actuation step",
	})

	// CAN ingest
	IngestFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "ingest",
		Name:      "frames_total",
		Help:      "CAN frames consumed per message kind",
	}, []string{"message"})

	IngestDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "ingest",
		Name:      "decode_errors_total",
		Help:      "CAN frames dropped because decoding failed",
	}, []string{"message"})

	IngestStaleSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "ingest",
		Name:      "stale_snapshots_total",
		Help:      "Snapshots served with at least one feed past its freshness window",
	})

	// Publish
	PublishedPlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "publish",
		Name:      "plans_total",
		Help:      "Plans handed to the publish transport",
	}, []string{"transport"})

	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "publish",
		Name:      "errors_total",
		Help:      "Plan publishes that failed",
	}, []string{"transport"})

	PublishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "longplan",
		Subsystem: "publish",
		Name:      "publish_duration_seconds",
		Help:      "Plan publish duration",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}, []string{"transport"})

	PublishSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "publish",
		Name:      "skipped_total",
		Help:      "Plans shed while the transport breaker was open",
	}, []string{"transport"})

	PublishBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "publish",
		Name:      "breaker_transitions_total",
		Help:      "Transport breaker state transitions",
	}, []string{"state"})

	// Drive log
	DriveLogRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "records_total",
		Help:      "Plan records accepted for persistence",
	})

	DriveLogDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "dropped_total",
		Help:      "Plan records dropped because the write buffer was full",
	})

	DriveLogFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "flushes_total",
		Help:      "Batched flushes to the database",
	})

	DriveLogFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "flush_errors_total",
		Help:      "Batched flushes that failed",
	})

	DriveLogFlushRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "flush_retries_total",
		Help:      "Batches kept for another flush after a transient failure",
	})

	DriveLogSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "sweeps_total",
		Help:      "Archive integrity sweeps completed",
	})

	DriveLogSweepGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "sweep_gaps_total",
		Help:      "Cycle gaps found by archive sweeps",
	})

	DriveLogSweepMissingCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "sweep_missing_cycles_total",
		Help:      "Cycles missing from swept drives",
	})

	DriveLogFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "flush_duration_seconds",
		Help:      "Batched flush duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// Archive connection pool, sampled periodically by the daemon.
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "db_pool_open_connections",
		Help:      "Open connections in the archive pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "db_pool_in_use_connections",
		Help:      "Archive pool connections currently executing",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "db_pool_idle_connections",
		Help:      "Idle connections in the archive pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative waits for an archive pool connection",
	})

	DBPoolWaitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "longplan",
		Subsystem: "drivelog",
		Name:      "db_pool_wait_seconds",
		Help:      "Cumulative time spent waiting for an archive pool connection",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered per severity",
	}, []string{"severity"})

	AlertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "longplan",
		Subsystem: "alert",
		Name:      "suppressed_total",
		Help:      "Alerts suppressed by the cooldown window",
	}, []string{"severity"})
)
