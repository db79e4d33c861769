package route

import (
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/tool"
	"github.com/missionctl/missionctl/internal/workerpool"
)

// Lane is where a task is dispatched.
type Lane string

const (
	LaneLocal Lane = "LOCAL"
	LaneCloud Lane = "CLOUD"
)

// webNavigateFamily are task classes eligible for LOCAL routing when a
// worker is available (§4.2 step 4).
var webNavigateFamily = map[string]bool{
	"web_navigate": true,
	"web_click":    true,
	"web_fill":     true,
	"web_extract":  true,
}

// Availability reports local worker capacity to Route (§4.2 step 3).
// Route checks it once, at routing time, and does not wait for a local
// worker to free up before falling back to CLOUD.
type Availability interface {
	// HasIdleWorker reports whether at least one IDLE worker exists
	// right now, without blocking.
	HasIdleWorker() bool
}

// poolAvailability adapts a *workerpool.Pool to Availability.
type poolAvailability struct{ pool *workerpool.Pool }

func (p poolAvailability) HasIdleWorker() bool {
	for _, w := range p.pool.Snapshot() {
		if w.Status == workerpool.StatusIdle {
			return true
		}
	}
	return false
}

// NewPoolAvailability wraps a worker pool for use by Route.
func NewPoolAvailability(pool *workerpool.Pool) Availability { return poolAvailability{pool} }

// Route applies the decision tree (§4.2): requires_api tools and URGENT
// priority always go CLOUD; otherwise LOCAL is chosen only if a worker
// is free and the task's class is in the web_navigate family.
func Route(task *mission.Task, priority mission.Priority, descriptor tool.Descriptor, avail Availability) Lane {
	if descriptor.RequiresAPI {
		return LaneCloud
	}
	if priority == mission.PriorityUrgent {
		return LaneCloud
	}
	if !avail.HasIdleWorker() {
		return LaneCloud
	}
	if webNavigateFamily[descriptor.TaskClass] {
		return LaneLocal
	}
	return LaneCloud
}

// PickWorker breaks ties between equivalent local workers by
// least-loaded (fewest completed tasks since restart, then lowest
// worker id) — §4.2's tie-break rule.
func PickWorker(candidates []workerpool.Worker) (workerpool.Worker, bool) {
	var best workerpool.Worker
	found := false
	for _, w := range candidates {
		if w.Status != workerpool.StatusIdle {
			continue
		}
		if !found {
			best = w
			found = true
			continue
		}
		if w.TasksCompletedSinceRestart < best.TasksCompletedSinceRestart ||
			(w.TasksCompletedSinceRestart == best.TasksCompletedSinceRestart && w.WorkerID < best.WorkerID) {
			best = w
		}
	}
	return best, found
}

// ReroutingState tracks consecutive re-routing failures for a task, so
// after two consecutive failures it is marked DEFERRED (§4.2 failure
// semantics) rather than retried forever.
type ReroutingState struct {
	ConsecutiveFailures int
}

// MaxConsecutiveRerouteFailures before a task is deferred.
const MaxConsecutiveRerouteFailures = 2

// ShouldDefer reports whether the task has failed re-routing enough
// times to be marked DEFERRED.
func (r *ReroutingState) ShouldDefer() bool {
	return r.ConsecutiveFailures >= MaxConsecutiveRerouteFailures
}

// RecordFailure increments the consecutive-failure counter.
func (r *ReroutingState) RecordFailure() { r.ConsecutiveFailures++ }

// RecordSuccess resets the consecutive-failure counter.
func (r *ReroutingState) RecordSuccess() { r.ConsecutiveFailures = 0 }
