// Package observability exposes the process's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending tasks in the scheduler's priority queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_queue_depth",
		Help: "Current number of tasks in the scheduling queue",
	}, []string{"priority"})

	SchedulingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_scheduling_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision", "reason"})

	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mission_scheduler_loop_duration_seconds",
		Help:    "Duration of the main scheduling loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	QueueOldestTaskAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_queue_oldest_task_age_seconds",
		Help: "Age of the oldest task in the queue in seconds",
	}, []string{"domain", "priority"})

	SchedulerWorkerSaturation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_scheduler_worker_saturation",
		Help: "Ratio of checked-out workers to safe worker count (0.0-1.0)",
	})

	SchedulerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_scheduler_rejections_total",
		Help: "Tasks rejected by scheduler admission control",
	}, []string{"reason"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_scheduler_circuit_state",
		Help: "Circuit breaker state (1 on the current state's label, 0 on the others)",
	}, []string{"state"})

	TaskTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_task_timeouts_total",
		Help: "Tasks forcibly terminated due to deadline expiry",
	}, []string{"reason"})

	TaskRuntimeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mission_task_runtime_seconds",
		Help:    "Task execution time distribution",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_task_retries_total",
		Help: "Total number of task retry attempts",
	})

	TaskSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_task_success_total",
		Help: "Total number of successfully completed tasks",
	})

	SchedulerAdmissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mission_scheduler_admission_wait_seconds",
		Help:    "Time tasks wait in the queue before being picked up",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_event_publish_failures_total",
		Help: "Failed event publish attempts (best-effort, non-blocking)",
	}, []string{"event_kind", "reason"})

	RollbackExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_rollback_executions_total",
		Help: "Total number of task rollbacks executed",
	}, []string{"action_kind"})

	SafeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_safe_worker_count",
		Help: "Resource Monitor's advisory safe worker count",
	})

	MemoryUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_memory_utilization_ratio",
		Help: "Fraction of total system memory in use (0.0-1.0)",
	})

	ResourceThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_resource_threshold_level",
		Help: "Current resource threshold (0=normal,1=slow,2=throttle,3=alert,4=emergency)",
	})

	WorkerPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_worker_pool_size",
		Help: "Current worker count by status",
	}, []string{"status"})

	WorkerHealthProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_worker_health_probe_failures_total",
		Help: "Total number of failed worker health probes",
	})

	ScorerUsefulness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_tool_usefulness_score",
		Help: "Current Scorer usefulness score for a (tool, domain) pair",
	}, []string{"tool", "domain"})

	FeedbackApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_feedback_applied_total",
		Help: "Total number of feedback records applied",
	}, []string{"tool", "domain", "verdict"})

	DomainLockActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mission_domain_lock_active",
		Help: "Whether a domain currently has an active lock (1=locked)",
	}, []string{"domain"})

	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mission_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency (domain lock / idempotency store)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	WSConnectedObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_ws_connected_observers",
		Help: "Current number of connected WebSocket event-stream observers",
	})

	WSGapEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_ws_gap_events_total",
		Help: "Total number of GAP markers inserted for lagging observers",
	}, []string{"mission_id"})
)
