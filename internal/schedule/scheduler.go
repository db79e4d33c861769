package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/lock"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/observability"
	"github.com/missionctl/missionctl/internal/resource"
)

// ErrQueueFull is returned by Submit when self-protection kicks in for
// work below HIGH priority once the queue is already deep.
var ErrQueueFull = fmt.Errorf("schedule: queue is full")

// ErrNotActive is returned by Submit when the scheduler has not been
// started (or has been stopped) on this coordinator.
var ErrNotActive = fmt.Errorf("schedule: scheduler is not active")

// queueSelfProtectLimit caps total queue depth before NORMAL, LOW and
// BACKGROUND submissions are rejected outright, independent of the
// circuit breaker.
const queueSelfProtectLimit = 5000

// EligibilityFunc re-checks a task against the Store at pickup time
// (§4.3 eligibility rules a-e); the scheduler does not duplicate the
// Store's event log, it only asks.
type EligibilityFunc func(ctx context.Context, qt *QueuedTask) (eligible bool, reason string)

// DispatchFunc hands an admitted, conflict-free task to the Execution
// Controller. Any returned error, whatever its kind, is recorded as a
// circuit-breaker failure and the task goes through Retry, which
// requeues it with backoff until MaxAttempts is reached.
type DispatchFunc func(ctx context.Context, qt *QueuedTask) error

// ActiveTasksFunc returns the tasks currently EXECUTING, for conflict
// detection against a candidate about to be dispatched.
type ActiveTasksFunc func() []ActiveTask

// Scheduler selects and dispatches eligible tasks per §4.3.
type Scheduler struct {
	mu      sync.RWMutex
	active  bool
	cfg     Config
	queue   *Queue
	locks   *lock.Manager
	limiter *HostLimiter
	breaker *CircuitBreaker
	monitor *resource.Monitor

	eligibility EligibilityFunc
	dispatch    DispatchFunc
	activeTasks ActiveTasksFunc

	inFlight int64 // atomic, bounded by cfg.MaxConcurrency

	log    *zap.Logger
	stopCh chan struct{}
}

// New constructs a Scheduler. locks may be nil if no DomainLock backend
// is configured (domain-lock eligibility is then always satisfied);
// monitor may be nil, in which case resource pressure never gates
// admission.
func New(cfg Config, locks *lock.Manager, eligibility EligibilityFunc, dispatch DispatchFunc, activeTasks ActiveTasksFunc, monitor *resource.Monitor, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		queue:       NewQueue(),
		locks:       locks,
		limiter:     NewHostLimiter(5, 10),
		breaker:     NewCircuitBreaker(cfg.CircuitBreakerQueueThreshold),
		eligibility: eligibility,
		dispatch:    dispatch,
		activeTasks: activeTasks,
		monitor:     monitor,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

// Submit runs the admission pipeline and enqueues qt.
func (s *Scheduler) Submit(qt *QueuedTask) error {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if !active {
		observability.SchedulerRejections.WithLabelValues("not_active").Inc()
		return ErrNotActive
	}

	queueDepth := s.queue.Len()
	saturation := float64(atomic.LoadInt64(&s.inFlight)) / float64(maxInt(s.cfg.MaxConcurrency, 1))
	observability.QueueDepth.WithLabelValues(string(qt.Priority)).Set(float64(queueDepth))

	if !s.breaker.ShouldAdmit(queueDepth, saturation) {
		observability.SchedulerRejections.WithLabelValues("circuit_open").Inc()
		return fmt.Errorf("schedule: circuit breaker open (queue=%d saturation=%.2f)", queueDepth, saturation)
	}

	if queueDepth > queueSelfProtectLimit && qt.Priority != mission.PriorityUrgent && qt.Priority != mission.PriorityHigh {
		observability.SchedulerRejections.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}

	if qt.SubmitTime.IsZero() {
		qt.SubmitTime = time.Now()
	}
	s.queue.Push(qt)
	observability.SchedulingDecisions.WithLabelValues("ENQUEUE", string(qt.Priority)).Inc()
	return nil
}

// Start begins the scheduling loop: a 100ms tick pops and dispatches
// the next eligible task.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the scheduling loop; queued tasks are left in place. The
// loop does not restart: a Start after Stop marks the scheduler active,
// but its loop exits at once and queued tasks are not dispatched.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	close(s.stopCh)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler loop panicked", zap.Any("recover", r))
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			s.processNext(ctx)
			observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// processNext pops one task and attempts to dispatch it.
func (s *Scheduler) processNext(ctx context.Context) {
	qt := s.queue.Pop()
	if qt == nil {
		return
	}

	observability.SchedulerAdmissionWaitSeconds.Observe(time.Since(qt.SubmitTime).Seconds())

	if ok, reason := s.eligibility(ctx, qt); !ok {
		// Ineligible tasks are dropped from the hot queue; the caller
		// (Controller) is responsible for re-submitting once the
		// blocking condition (dependency, lock, approval) clears.
		observability.SchedulingDecisions.WithLabelValues("REJECT", reason).Inc()
		return
	}

	if s.locks != nil {
		locked, err := s.locks.IsLocked(ctx, string(qt.Domain))
		if err == nil && locked {
			s.queue.Requeue(qt)
			observability.SchedulingDecisions.WithLabelValues("DELAY", "domain_locked").Inc()
			return
		}
	}

	if s.monitor != nil && !s.monitor.AcceptingNewTasks() && qt.Priority != mission.PriorityUrgent {
		s.queue.Requeue(qt)
		observability.SchedulingDecisions.WithLabelValues("DELAY", "resource_throttle").Inc()
		return
	}

	// Active tasks carry their tool's ConflictClass and use the action
	// kind as ResourceKey, so the candidate takes both from an active
	// task of the same action kind.
	active := s.activeTasksSafe()
	candidate := ActiveTask{TaskID: qt.Task.TaskID, ActionKind: qt.Task.ActionKind, ResourceKey: qt.Task.ActionKind}
	for _, a := range active {
		if a.ActionKind == candidate.ActionKind {
			candidate.ConflictClass = a.ConflictClass
			break
		}
	}
	if conflict, strategy := DetectConflict(candidate, active); conflict {
		s.resolveConflict(qt, strategy)
		return
	}

	if ok, delay := s.limiter.Reserve(qt.Task.ActionKind); !ok {
		s.queue.Requeue(qt)
		observability.SchedulingDecisions.WithLabelValues("DELAY", "rate_limited").Inc()
		time.AfterFunc(delay, func() {})
		return
	}

	if atomic.LoadInt64(&s.inFlight) >= int64(s.cfg.MaxConcurrency) {
		s.queue.Requeue(qt)
		observability.SchedulingDecisions.WithLabelValues("DELAY", "concurrency_budget").Inc()
		return
	}

	atomic.AddInt64(&s.inFlight, 1)
	observability.SchedulingDecisions.WithLabelValues("DISPATCH", "").Inc()

	go func() {
		defer atomic.AddInt64(&s.inFlight, -1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("dispatch goroutine panicked", zap.Any("recover", r), zap.String("task_id", qt.Task.TaskID))
			}
		}()
		dctx, cancel := context.WithTimeout(ctx, s.cfg.MaxTaskExecutionTime)
		defer cancel()
		if err := s.dispatch(dctx, qt); err != nil {
			s.breaker.RecordFailure()
			s.Retry(qt)
			return
		}
		s.breaker.RecordSuccess()
	}()
}

func (s *Scheduler) activeTasksSafe() []ActiveTask {
	if s.activeTasks == nil {
		return nil
	}
	return s.activeTasks()
}

func (s *Scheduler) resolveConflict(qt *QueuedTask, strategy Strategy) {
	switch strategy {
	case StrategyDelay:
		s.queue.Requeue(qt)
		observability.SchedulingDecisions.WithLabelValues("DELAY", "conflict").Inc()
	case StrategyReassign:
		// Reassignment to another lane is the Router's concern; put the
		// task back in the queue so the next pop is re-routed.
		s.queue.Requeue(qt)
		observability.SchedulingDecisions.WithLabelValues("REASSIGN", "conflict").Inc()
	case StrategyDowngrade:
		if qt.ForcedMode == "" || qt.ForcedMode == mission.ModeLive {
			qt.ForcedMode = mission.ModeDryRun
		}
		observability.SchedulingDecisions.WithLabelValues("DOWNGRADE", "conflict").Inc()
		s.queue.Requeue(qt)
	case StrategyAbort:
		observability.SchedulingDecisions.WithLabelValues("ABORT", "conflict").Inc()
	}
}

// Retry re-enqueues qt after the exponential backoff for its next
// attempt number (§4.3 retry policy).
func (s *Scheduler) Retry(qt *QueuedTask) {
	qt.Task.AttemptCount++
	if qt.Task.AttemptCount >= qt.Task.MaxAttempts {
		observability.SchedulingDecisions.WithLabelValues("ABORT", "max_retries_exceeded").Inc()
		return
	}
	observability.TaskRetries.Inc()
	delay := BackoffFor(qt.Task.AttemptCount)
	qt.SubmitTime = time.Now()
	time.AfterFunc(delay, func() {
		s.queue.Push(qt)
	})
}

// QueueDepth returns the total number of currently queued tasks.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// CircuitState exposes the breaker's current state for diagnostics.
func (s *Scheduler) CircuitState() CircuitState { return s.breaker.State() }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
