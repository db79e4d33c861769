package control

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/learn"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/schedule"
	"github.com/missionctl/missionctl/internal/tool"
)

func newTestController(t *testing.T, registry *tool.Registry) (*Controller, mission.Store) {
	t.Helper()
	store := mission.NewMemoryStore()
	scorer := learn.NewScorer(0.1)
	registry.Freeze()
	return New(store, registry, scorer, nil, nil, zap.NewNop()), store
}

func submitTask(t *testing.T, ctx context.Context, store mission.Store, actionKind string) *schedule.QueuedTask {
	t.Helper()
	missionID, err := store.CreateMission(ctx, "test objective", "owner-1", mission.ModeLive)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	task := &mission.Task{
		TaskID:      "task-1",
		MissionID:   missionID,
		ActionKind:  actionKind,
		Status:      mission.TaskPending,
		MaxAttempts: 3,
	}
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	return &schedule.QueuedTask{
		Task:       task,
		MissionID:  missionID,
		Domain:     mission.DomainEngineering,
		Priority:   mission.PriorityNormal,
		SubmitTime: time.Now(),
	}
}

func TestExecuteTaskSuccess(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(tool.Descriptor{ActionKind: "noop", RiskLevel: mission.RiskLow}, func(ctx context.Context, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (tool.Result, error) {
		return tool.Result{Outcome: tool.OutcomeSuccess, ResultHandle: "handle-1"}, nil
	})
	ctrl, store := newTestController(t, registry)
	ctx := context.Background()
	qt := submitTask(t, ctx, store, "noop")

	if err := ctrl.ExecuteTask(ctx, qt); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	task, err := store.GetTask(ctx, qt.MissionID, qt.Task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != mission.TaskCompleted {
		t.Errorf("expected TaskCompleted, got %s", task.Status)
	}
	if task.ResultHandle != "handle-1" {
		t.Errorf("expected result handle to be recorded, got %q", task.ResultHandle)
	}

	m, err := store.GetMission(ctx, qt.MissionID)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if m.Status != mission.StatusCompleted {
		t.Errorf("expected mission auto-completed once its single task finished, got %s", m.Status)
	}
}

func TestExecuteTaskRetryableFailureAppendsAttempt(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(tool.Descriptor{ActionKind: "flaky", RiskLevel: mission.RiskLow}, func(ctx context.Context, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (tool.Result, error) {
		return tool.Result{Outcome: tool.OutcomeRetryableFailure, FailureMode: "timeout"}, nil
	})
	ctrl, store := newTestController(t, registry)
	ctx := context.Background()
	qt := submitTask(t, ctx, store, "flaky")

	err := ctrl.ExecuteTask(ctx, qt)
	if err == nil {
		t.Fatal("expected a retryable error from ExecuteTask")
	}

	task, _ := store.GetTask(ctx, qt.MissionID, qt.Task.TaskID)
	if task.Status != mission.TaskRetrying {
		t.Errorf("expected TaskRetrying after a retryable failure, got %s", task.Status)
	}
	if task.AttemptCount != 1 {
		t.Errorf("expected attempt_count 1, got %d", task.AttemptCount)
	}
}

func TestExecuteTaskFeedbackConstraintBlocksDispatch(t *testing.T) {
	registry := tool.NewRegistry()
	called := false
	registry.Register(tool.Descriptor{ActionKind: "blocked", RiskLevel: mission.RiskLow}, func(ctx context.Context, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (tool.Result, error) {
		called = true
		return tool.Result{Outcome: tool.OutcomeSuccess}, nil
	})
	ctrl, store := newTestController(t, registry)
	ctrl.scorer.ApplyFeedback(learn.FeedbackRecord{
		ToolName:       "blocked",
		Domain:         string(mission.DomainEngineering),
		Verdict:        learn.VerdictNegative,
		HardConstraint: learn.HardConstraintNeverUse,
	})

	ctx := context.Background()
	qt := submitTask(t, ctx, store, "blocked")

	if err := ctrl.ExecuteTask(ctx, qt); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if called {
		t.Error("tool should never be invoked under a NEVER_USE hard constraint")
	}
	task, _ := store.GetTask(ctx, qt.MissionID, qt.Task.TaskID)
	if task.Status != mission.TaskFailed {
		t.Errorf("expected TaskFailed, got %s", task.Status)
	}
}

func TestApprovalGateRejectsSelfApproval(t *testing.T) {
	registry := tool.NewRegistry()
	ctrl, store := newTestController(t, registry)
	ctx := context.Background()

	missionID, err := store.CreateMission(ctx, "needs a pause", "owner-1", mission.ModeLive)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	req, err := ctrl.SubmitControl(ctx, ActionPauseMission, missionID, "owner-1", "investigating anomaly")
	if err != nil {
		t.Fatalf("SubmitControl: %v", err)
	}
	if req.Status != RequestPending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}

	if err := ctrl.Approve(ctx, req.RequestID, "owner-1", "lgtm"); err != ErrSelfApproval {
		t.Fatalf("expected ErrSelfApproval, got %v", err)
	}

	if err := ctrl.Approve(ctx, req.RequestID, "owner-2", "lgtm"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	m, err := store.GetMission(ctx, missionID)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if m.Status != mission.StatusPaused {
		t.Errorf("expected mission PAUSED after approval, got %s", m.Status)
	}
}

func TestRecoverIncompleteTasksMarksRetrying(t *testing.T) {
	registry := tool.NewRegistry()
	ctrl, store := newTestController(t, registry)
	ctx := context.Background()

	missionID, _ := store.CreateMission(ctx, "crash recovery", "owner-1", mission.ModeLive)
	task := &mission.Task{TaskID: "t1", MissionID: missionID, ActionKind: "noop", Status: mission.TaskExecuting, AttemptCount: 1, MaxAttempts: 3}
	store.PutTask(ctx, task)
	store.AppendEvent(ctx, missionID, mission.EventTaskStarted, map[string]any{mission.PayloadTaskID: "t1"})

	if err := ctrl.RecoverIncompleteTasks(ctx, missionID); err != nil {
		t.Fatalf("RecoverIncompleteTasks: %v", err)
	}

	recovered, err := store.GetTask(ctx, missionID, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if recovered.Status != mission.TaskRetrying {
		t.Errorf("expected TaskRetrying after crash recovery, got %s", recovered.Status)
	}
	if recovered.AttemptCount != 2 {
		t.Errorf("expected attempt_count bumped to 2, got %d", recovered.AttemptCount)
	}
}
