// Package schedule implements the Priority Scheduler (§4.3): it selects,
// from eligible pending tasks, the next task to assign to a lane,
// honoring priority classes, cross-mission fairness, conflict detection,
// and exponential-backoff retry.
package schedule

import (
	"time"

	"github.com/missionctl/missionctl/internal/mission"
)

// QueuedTask wraps a mission.Task with the bookkeeping the scheduler
// needs (arrival time for fairness/aging, current backoff state).
type QueuedTask struct {
	Task       *mission.Task
	MissionID  string
	Domain     mission.Domain
	Priority   mission.Priority
	SubmitTime time.Time
	Deadline   time.Time

	// ForcedMode is set by a DOWNGRADE conflict resolution (§4.3): the
	// Execution Controller must invoke the tool at this mode or lower
	// rather than the mission's own ExecutionMode. Empty means unforced.
	ForcedMode mission.ExecutionMode
}

// Config holds scheduler tuning knobs.
type Config struct {
	// MaxTaskExecutionTime is the hard per-task deadline: the scheduler
	// sets it as the timeout of the context each dispatch runs under.
	MaxTaskExecutionTime time.Duration
	// MaxConcurrency bounds globally in-flight dispatches.
	MaxConcurrency int
	// CircuitBreakerQueueThreshold is the queue depth that trips the
	// circuit breaker open.
	CircuitBreakerQueueThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTaskExecutionTime:         120 * time.Second,
		MaxConcurrency:               100,
		CircuitBreakerQueueThreshold: 1000,
	}
}

// Decision is a structured log entry for a scheduling action.
type Decision struct {
	Component string `json:"component"`
	Decision  string `json:"decision"` // DISPATCH, DELAY, REASSIGN, DOWNGRADE, ABORT, REJECT
	TaskID    string `json:"task_id"`
	MissionID string `json:"mission_id"`
	Priority  string `json:"priority"`
	DelayMS   int64  `json:"delay_ms,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// retryBackoff is the exponential backoff schedule (§4.3): 2s, 4s, 8s,
// capped at 30s.
var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

const retryBackoffCap = 30 * time.Second

// BackoffFor returns the delay before retrying a task on its
// attemptNumber'th retry (1-indexed).
func BackoffFor(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return retryBackoff[0]
	}
	idx := attemptNumber - 1
	if idx >= len(retryBackoff) {
		return retryBackoffCap
	}
	return retryBackoff[idx]
}

// priorityClasses lists priority classes highest-first, the partition
// order for selection step 1.
var priorityClasses = []mission.Priority{
	mission.PriorityUrgent,
	mission.PriorityHigh,
	mission.PriorityNormal,
	mission.PriorityLow,
	mission.PriorityBackground,
}
