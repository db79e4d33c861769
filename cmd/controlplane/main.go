// Command controlplane is the mission execution engine's single
// process: Mission Store, Decomposer & Router, Priority Scheduler,
// Worker Pool & Resource Monitor, Execution Controller, and
// Observability & Learning Bus, all wired together and served over
// HTTP/WS (§6).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/apiserver"
	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/control"
	"github.com/missionctl/missionctl/internal/idempotency"
	"github.com/missionctl/missionctl/internal/learn"
	"github.com/missionctl/missionctl/internal/lock"
	"github.com/missionctl/missionctl/internal/logging"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/resource"
	"github.com/missionctl/missionctl/internal/schedule"
	"github.com/missionctl/missionctl/internal/stream"
	"github.com/missionctl/missionctl/internal/tool"
	"github.com/missionctl/missionctl/internal/workerpool"
)

func main() {
	cfg := config.LoadStatic()

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	policyStore, err := config.NewPolicyStore(cfg.PolicyFilePath, logger)
	if err != nil {
		logger.Warn("policy store degraded, live reload disabled", zap.Error(err))
	}
	policy := config.DefaultPolicy()
	if policyStore != nil {
		policy = policyStore.Current()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newMissionStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("mission store init failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	locks := lock.NewManager(redisClient)

	idemStore := idempotency.NewStore(idempotency.NewRedisBackend(redisClient), logger)

	scorer := learn.NewScorer(policy.ImportanceThreshold)

	registry := registerTools()

	monitor := resource.NewMonitor(policy.PerWorkerMemoryBudgetMiB, logger)
	monitor.Start()
	defer monitor.Stop()

	pool := workerpool.NewPool(monitor, launchWorker, probeWorker, logger)
	pool.Start()
	defer pool.Stop()
	pool.Scale(ctx, monitor.SafeWorkerCount())

	controller := control.New(store, registry, scorer, locks, pool, logger)

	schedCfg := schedule.DefaultConfig()
	schedCfg.MaxTaskExecutionTime = time.Duration(policy.PerTaskTimeoutSeconds) * time.Second
	sched := schedule.New(schedCfg, locks, eligibilityFor(store), controller.ExecuteTask, controller.ActiveTasks, monitor, logger)
	sched.Start(ctx)
	defer sched.Stop()

	recoverIncompleteMissions(ctx, store, controller, logger)

	hub := stream.NewHub(store, logger)

	srv := apiserver.New(store, sched, controller, hub, idemStore, policyStore, logger)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}
	go func() {
		logger.Info("missionctl listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	if policyStore != nil {
		policyStore.Close()
	}
}

// newMissionStore connects to Postgres; in debug mode (local dev,
// no POSTGRES_DSN reachable) it falls back to an in-memory store so a
// single developer can run the whole stack without a database.
// MemoryStore backs the test suite the same way.
func newMissionStore(ctx context.Context, cfg *config.Static, logger *zap.Logger) (mission.Store, error) {
	pg, err := mission.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		if cfg.Debug {
			logger.Warn("postgres unavailable, using in-memory mission store (DEBUG only)", zap.Error(err))
			return mission.NewMemoryStore(), nil
		}
		return nil, err
	}
	return pg, nil
}

// recoverIncompleteMissions runs the Execution Controller's
// crash-recovery pass over every non-terminal mission at startup
// (§4.5), demoting any task left EXECUTING by a prior process crash.
func recoverIncompleteMissions(ctx context.Context, store mission.Store, controller *control.Controller, logger *zap.Logger) {
	missions, err := store.ListMissions(ctx, mission.Filter{})
	if err != nil {
		logger.Warn("crash recovery: list missions failed", zap.Error(err))
		return
	}
	for _, m := range missions {
		if m.Status.Terminal() {
			continue
		}
		if err := controller.RecoverIncompleteTasks(ctx, m.MissionID); err != nil {
			logger.Warn("crash recovery failed for mission", zap.String("mission_id", m.MissionID), zap.Error(err))
		}
	}
}

// eligibilityFor re-checks a queued task against the Store at pickup
// time (§4.3 eligibility rules a-e): the mission must not be paused or
// terminal, the task itself must still be in a dispatchable state (a
// stale queue entry for a task already retried/failed/completed by a
// racing path is simply dropped), a HIGH-risk task requires the
// mission to already be LIVE, and every DependsOn task must already be
// COMPLETED.
func eligibilityFor(store mission.Store) schedule.EligibilityFunc {
	return func(ctx context.Context, qt *schedule.QueuedTask) (bool, string) {
		m, err := store.GetMission(ctx, qt.MissionID)
		if err != nil {
			return false, "mission_lookup_failed"
		}
		if m.Status.Terminal() {
			return false, "mission_terminal"
		}
		if m.Status == mission.StatusPaused {
			return false, "mission_paused"
		}
		task, err := store.GetTask(ctx, qt.MissionID, qt.Task.TaskID)
		if err != nil {
			return false, "task_lookup_failed"
		}
		if task.Status != mission.TaskPending && task.Status != mission.TaskRetrying {
			return false, "task_not_dispatchable"
		}
		// §4.3 rule (e): a HIGH-risk task is only eligible once the
		// mission has been promoted to LIVE (promotion itself only
		// happens through an approved PROMOTE_FORECAST control action).
		if task.RiskLevel == mission.RiskHigh && m.ExecutionMode != mission.ModeLive {
			return false, "high_risk_requires_live_mode"
		}
		for _, dep := range task.DependsOn {
			depTask, err := store.GetTask(ctx, qt.MissionID, dep)
			if err != nil || depTask.Status != mission.TaskCompleted {
				return false, "dependency_not_completed"
			}
		}
		return true, ""
	}
}
