package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/learn"
	"github.com/missionctl/missionctl/internal/lock"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/missionerr"
	"github.com/missionctl/missionctl/internal/observability"
	"github.com/missionctl/missionctl/internal/route"
	"github.com/missionctl/missionctl/internal/schedule"
	"github.com/missionctl/missionctl/internal/tool"
	"github.com/missionctl/missionctl/internal/workerpool"
)

// domainLockTTL bounds how long a LOCK_DOMAIN control action holds the
// lock before it lazily expires, matching the DomainLock manager's TTL
// model.
const domainLockTTL = 10 * time.Minute

// Controller is the Execution Controller (§4.5): it drives one admitted
// task through tool invocation and records the outcome as events, and
// separately carries out approved operator control actions.
type Controller struct {
	store  mission.Store
	tools  *tool.Registry
	scorer *learn.Scorer
	locks  *lock.Manager
	pool   *workerpool.Pool
	log    *zap.Logger

	requestsMu sync.Mutex
	requests   map[string]*ControlRequest

	cancelMu  sync.Mutex
	cancelFns map[string]chan struct{}         // task_id -> cooperative cancel signal
	active    map[string]schedule.ActiveTask   // task_id -> conflict-detection info, while EXECUTING
}

// New constructs a Controller. pool and locks may be nil when no local
// workers or domain-lock backend is configured.
func New(store mission.Store, tools *tool.Registry, scorer *learn.Scorer, locks *lock.Manager, pool *workerpool.Pool, log *zap.Logger) *Controller {
	return &Controller{
		store:     store,
		tools:     tools,
		scorer:    scorer,
		locks:     locks,
		pool:      pool,
		log:       log,
		requests:  make(map[string]*ControlRequest),
		cancelFns: make(map[string]chan struct{}),
		active:    make(map[string]schedule.ActiveTask),
	}
}

// ExecuteTask implements schedule.DispatchFunc: it drives qt through the
// safety state machine, scorer consultation, tool invocation, and event
// emission (§4.5 steps 1-8). A returned error is treated by the
// Scheduler as retryable dispatch failure.
func (c *Controller) ExecuteTask(ctx context.Context, qt *schedule.QueuedTask) error {
	task := qt.Task

	desc, ok := c.tools.Lookup(task.ActionKind)
	if !ok {
		c.failTask(ctx, qt, "unregistered_action")
		return nil
	}

	if c.scorer != nil && c.scorer.Blocked(task.ActionKind, string(qt.Domain)) {
		c.failTask(ctx, qt, "feedback_constraint")
		return nil
	}

	if c.locks != nil {
		locked, err := c.locks.IsLocked(ctx, string(qt.Domain))
		if err == nil && locked {
			return missionerr.Retryable("domain_locked", nil)
		}
	}

	m, err := c.store.GetMission(ctx, qt.MissionID)
	if err != nil {
		return missionerr.Retryable("mission_lookup_failed", err)
	}

	effectiveMode := m.ExecutionMode
	if qt.ForcedMode != "" && modeRank(qt.ForcedMode) < modeRank(effectiveMode) {
		// A RESOURCE conflict's DOWNGRADE resolution caps this attempt
		// below the mission's own mode.
		effectiveMode = qt.ForcedMode
	}

	// §4.3 rule (e) / safety state machine, defense-in-depth behind
	// eligibilityFor: a HIGH-risk task reaching execution below LIVE
	// mode breaches a safety invariant and fails non-retryably.
	if desc.RiskLevel == mission.RiskHigh && effectiveMode != mission.ModeLive {
		c.failTask(ctx, qt, "policy_violation_high_risk_below_live")
		return nil
	}

	var worker *workerpool.Worker
	if c.pool != nil && route.Route(task, qt.Priority, desc, route.NewPoolAvailability(c.pool)) == route.LaneLocal {
		worker, err = c.pool.Checkout(ctx, workerpool.Requirements{TaskClass: desc.TaskClass}, task.TaskID, true)
		if err != nil {
			return missionerr.ResourceExhaustion("no_worker_available", err)
		}
		defer func() {
			if worker != nil {
				c.pool.Checkin(context.Background(), worker.WorkerID, true)
			}
		}()
	}

	workerID := ""
	if worker != nil {
		workerID = worker.WorkerID
	}
	if _, err := c.store.AppendEvent(ctx, qt.MissionID, mission.EventTaskStarted, map[string]any{
		mission.PayloadTaskID:   task.TaskID,
		mission.PayloadWorkerID: workerID,
	}); err != nil {
		return missionerr.Retryable("append_task_started_failed", err)
	}

	cancelCh := c.registerCancel(task.TaskID, schedule.ActiveTask{
		TaskID:        task.TaskID,
		ActionKind:    task.ActionKind,
		ConflictClass: desc.ConflictClass,
		ResourceKey:   task.ActionKind,
	})
	defer c.releaseCancel(task.TaskID)

	start := time.Now()
	res, invokeErr := c.tools.Invoke(ctx, task.ActionKind, task.ActionParams, effectiveMode, cancelCh)
	elapsed := time.Since(start)
	observability.TaskRuntimeSeconds.Observe(elapsed.Seconds())

	if invokeErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			observability.TaskTimeouts.WithLabelValues(task.ActionKind).Inc()
		}
		c.recordOutcome(qt, false, elapsed, "invoke_error")
		if worker != nil {
			c.pool.Checkin(context.Background(), worker.WorkerID, false)
			worker = nil
		}
		return c.appendAttemptOrFail(ctx, qt, "invoke_error")
	}

	switch res.Outcome {
	case tool.OutcomeSuccess, tool.OutcomePartialSuccess:
		c.recordOutcome(qt, true, elapsed, "")
		observability.TaskSuccesses.Inc()
		if _, err := c.store.AppendEvent(ctx, qt.MissionID, mission.EventTaskCompleted, map[string]any{
			mission.PayloadTaskID:       task.TaskID,
			mission.PayloadResultHandle: res.ResultHandle,
			mission.PayloadReason:       string(res.Outcome),
		}); err != nil {
			return missionerr.Retryable("append_task_completed_failed", err)
		}
		c.maybeCompleteMission(ctx, qt.MissionID)
		return nil

	case tool.OutcomeRetryableFailure:
		c.recordOutcome(qt, false, elapsed, res.FailureMode)
		return c.appendAttemptOrFail(ctx, qt, res.FailureMode)

	default: // OutcomeNonRetryable
		c.recordOutcome(qt, false, elapsed, res.FailureMode)
		c.failTask(ctx, qt, res.FailureMode)
		if desc.RiskLevel == mission.RiskHigh {
			c.RollbackReversibleSiblings(ctx, qt.MissionID, task.TaskID)
		}
		return nil
	}
}

// appendAttemptOrFail appends a TASK_ATTEMPT event (and returns a
// Retryable error for the Scheduler to back off and requeue) unless the
// task has exhausted its attempt budget, in which case it is failed
// outright.
func (c *Controller) appendAttemptOrFail(ctx context.Context, qt *schedule.QueuedTask, reason string) error {
	task := qt.Task
	if task.MaxAttempts > 0 && task.AttemptCount+1 >= task.MaxAttempts {
		c.failTask(ctx, qt, reason)
		return nil
	}
	if _, err := c.store.AppendEvent(ctx, qt.MissionID, mission.EventTaskAttempt, map[string]any{
		mission.PayloadTaskID:       task.TaskID,
		mission.PayloadAttemptCount: task.AttemptCount + 1,
		mission.PayloadReason:       reason,
	}); err != nil {
		return missionerr.Retryable("append_task_attempt_failed", err)
	}
	return missionerr.Retryable(reason, nil)
}

func (c *Controller) failTask(ctx context.Context, qt *schedule.QueuedTask, reason string) {
	c.store.AppendEvent(ctx, qt.MissionID, mission.EventTaskFailed, map[string]any{
		mission.PayloadTaskID: qt.Task.TaskID,
		mission.PayloadReason: reason,
	})
}

func (c *Controller) recordOutcome(qt *schedule.QueuedTask, success bool, elapsed time.Duration, failureMode string) {
	if c.scorer == nil {
		return
	}
	eventID := fmt.Sprintf("%s:%d", qt.Task.TaskID, qt.Task.AttemptCount)
	c.scorer.RecordOutcome(eventID, qt.Task.ActionKind, string(qt.Domain), success, float64(elapsed.Milliseconds()), failureMode)
}

// maybeCompleteMission emits MISSION_STOP once every known task has
// reached a terminal status.
func (c *Controller) maybeCompleteMission(ctx context.Context, missionID string) {
	tasks, err := c.store.ListTasks(ctx, missionID)
	if err != nil || len(tasks) == 0 {
		return
	}
	finalStatus := mission.StatusCompleted
	for _, t := range tasks {
		switch t.Status {
		case mission.TaskCompleted, mission.TaskRolledBack:
			continue
		case mission.TaskFailed:
			finalStatus = mission.StatusFailed
		default:
			return // still incomplete
		}
	}
	c.store.AppendEvent(ctx, missionID, mission.EventMissionStop, map[string]any{
		mission.PayloadFinalStatus: string(finalStatus),
	})
}

// RollbackReversibleSiblings rolls back every COMPLETED, reversible task
// in a mission after a critical failure (§4.5), emitting one ROLLBACK
// event per task. Compensating action is out of scope here; rollback
// marks the mission's ledger so a human or a later pass can reconcile
// external state.
func (c *Controller) RollbackReversibleSiblings(ctx context.Context, missionID, failedTaskID string) {
	tasks, err := c.store.ListTasks(ctx, missionID)
	if err != nil {
		return
	}
	for _, t := range tasks {
		if t.TaskID == failedTaskID || t.Status != mission.TaskCompleted {
			continue
		}
		desc, ok := c.tools.Lookup(t.ActionKind)
		if !ok || !desc.Reversible {
			continue
		}
		c.store.AppendEvent(ctx, missionID, mission.EventRollback, map[string]any{
			mission.PayloadTaskID: t.TaskID,
			mission.PayloadReason: "critical_failure_rollback",
		})
		observability.RollbackExecutions.WithLabelValues(t.ActionKind).Inc()
	}
}

// RecoverIncompleteTasks is run once at startup per mission: any task
// left EXECUTING by a prior process crash (no terminal event ever
// appended) is transitioned to RETRYING with an incremented attempt
// count rather than assumed complete (§4.5 crash-recovery semantics).
func (c *Controller) RecoverIncompleteTasks(ctx context.Context, missionID string) error {
	tasks, err := c.store.ListTasks(ctx, missionID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != mission.TaskExecuting {
			continue
		}
		if _, err := c.store.AppendEvent(ctx, missionID, mission.EventTaskAttempt, map[string]any{
			mission.PayloadTaskID:       t.TaskID,
			mission.PayloadAttemptCount: t.AttemptCount + 1,
			mission.PayloadReason:       "crash_recovery",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) registerCancel(taskID string, info schedule.ActiveTask) chan struct{} {
	ch := make(chan struct{})
	c.cancelMu.Lock()
	c.cancelFns[taskID] = ch
	c.active[taskID] = info
	c.cancelMu.Unlock()
	return ch
}

func (c *Controller) releaseCancel(taskID string) {
	c.cancelMu.Lock()
	delete(c.cancelFns, taskID)
	delete(c.active, taskID)
	c.cancelMu.Unlock()
}

// CancelMission closes the cancel signal for every task currently
// executing under missionID, used by KILL_MISSION.
func (c *Controller) CancelMission(ctx context.Context, missionID string) {
	tasks, err := c.store.ListTasks(ctx, missionID)
	if err != nil {
		return
	}
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	for _, t := range tasks {
		if ch, ok := c.cancelFns[t.TaskID]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}
}

// ActiveTasks implements schedule.ActiveTasksFunc: every task this
// Controller currently has checked out for execution, across all
// missions, for conflict detection against a newly-selected candidate.
// Pass the method value (c.ActiveTasks) directly to schedule.New.
func (c *Controller) ActiveTasks() []schedule.ActiveTask {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	out := make([]schedule.ActiveTask, 0, len(c.active))
	for _, info := range c.active {
		out = append(out, info)
	}
	return out
}

// newRequestID generates a ControlRequest identifier.
func newRequestID() string { return uuid.NewString() }

// modeRank orders ExecutionModes from most to least restrictive, so a
// forced downgrade can be compared against a mission's own mode.
func modeRank(m mission.ExecutionMode) int {
	switch m {
	case mission.ModeMock:
		return 0
	case mission.ModeDryRun:
		return 1
	case mission.ModeLive:
		return 2
	default:
		return 2
	}
}
