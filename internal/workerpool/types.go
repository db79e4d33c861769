// Package workerpool implements the Worker Pool (§4.4): a bounded set
// of ready-to-use browser workers with checkout/checkin semantics,
// periodic health probes, and pool scale() bounded by the Resource
// Monitor.
package workerpool

import "time"

// Status is a Worker's lifecycle state.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusUnhealthy  Status = "UNHEALTHY"
	StatusDraining   Status = "DRAINING"
)

// sessionLimit is the default tasks_completed_since_restart ceiling
// after which a worker is drained and replaced (§4.4).
const sessionLimit = 50

// Worker is a long-lived browser instance. It is exclusively owned by
// the Pool; checkout transfers exclusive use to a single Task.
type Worker struct {
	WorkerID                  string
	Status                    Status
	TasksCompletedSinceRestart int
	LastHealthOKAt            time.Time
	CurrentTaskID             string
	consecutiveHealthFailures int
}

// Requirements is accepted by Checkout but not used to select a
// worker: any IDLE worker matches.
type Requirements struct {
	// TaskClass names the task class being checked out for; workers
	// carry no task-class tag, so it does not restrict checkout.
	TaskClass string
}
