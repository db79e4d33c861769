package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/control"
	"github.com/missionctl/missionctl/internal/learn"
	"github.com/missionctl/missionctl/internal/lock"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/resource"
	"github.com/missionctl/missionctl/internal/schedule"
	"github.com/missionctl/missionctl/internal/tool"
	"github.com/missionctl/missionctl/internal/workerpool"
)

// newTestServer wires a Server against an in-memory mission store and a
// Redis client that is never dialed (domain locks/idempotency are not
// exercised by the handlers under test here).
func newTestServer(t *testing.T) (*Server, mission.Store) {
	t.Helper()
	log := zap.NewNop()
	store := mission.NewMemoryStore()

	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	locks := lock.NewManager(redisClient)

	registry := tool.NewRegistry()
	registry.Freeze()

	monitor := resource.NewMonitor(400, log)
	pool := workerpool.NewPool(monitor, func(ctx context.Context, id string) error { return nil }, func(ctx context.Context, id string) bool { return true }, log)

	scorer := learn.NewScorer(0.6)
	controller := control.New(store, registry, scorer, locks, pool, log)

	eligibility := func(ctx context.Context, qt *schedule.QueuedTask) (bool, string) { return true, "" }
	sched := schedule.New(schedule.DefaultConfig(), locks, eligibility, controller.ExecuteTask, controller.ActiveTasks, monitor, log)

	return New(store, sched, controller, nil, nil, nil, log), store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChatSpawnsMissionAndSchedulesTasks(t *testing.T) {
	srv, store := newTestServer(t)

	body, _ := json.Marshal(ChatRequest{SessionID: "sess-1", Text: "design a marketing campaign and then write up a report"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK && rec.Code != http.StatusCreated {
		t.Fatalf("expected success, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope ResponseEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.MissionsSpawned) != 1 {
		t.Fatalf("expected exactly one spawned mission, got %d", len(envelope.MissionsSpawned))
	}

	tasks, err := store.ListTasks(context.Background(), envelope.MissionsSpawned[0])
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("expected composite objective to materialize at least one task")
	}
}

func TestChatRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(ChatRequest{SessionID: "", Text: ""})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing required fields, got %d", rec.Code)
	}
}

func TestMissionUpdateRejectsAfterApproval(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	missionID, err := store.CreateMission(ctx, "investigate vendor compliance", "owner-1", mission.ModeDryRun)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if _, err := store.AppendEvent(ctx, missionID, mission.EventStatusChange, map[string]any{mission.PayloadStatus: string(mission.StatusRunning)}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	body, _ := json.Marshal(MissionUpdateRequest{Priority: "HIGH"})
	req := httptest.NewRequest(http.MethodPost, "/missions/"+missionID+"/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("expected update to be rejected once mission is RUNNING, got 200")
	}
}
