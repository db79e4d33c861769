// Package config loads process configuration: static scalar settings
// from the environment (host, ports, DSNs, fixed at startup) plus a
// mutable policy document watched on disk for live reload via
// fsnotify and yaml.v3.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Static holds scalar process configuration resolved once at startup.
type Static struct {
	HTTPAddr        string
	PostgresDSN     string
	RedisAddr       string
	RedisPassword   string
	JWTSecret       string
	PolicyFilePath  string
	Debug           bool
	NodeID          string
	PerWorkerBudget int // MiB, Resource Monitor sizing input
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// LoadStatic reads the fixed, env-sourced portion of configuration.
func LoadStatic() *Static {
	hostname, _ := os.Hostname()
	return &Static{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:     getenv("POSTGRES_DSN", "postgres://localhost:5432/missionctl"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getenv("REDIS_PASSWORD", ""),
		JWTSecret:       getenv("JWT_SECRET", ""),
		PolicyFilePath:  getenv("POLICY_FILE", "policy.yaml"),
		Debug:           getenv("DEBUG", "") != "",
		NodeID:          getenv("NODE_ID", hostname),
		PerWorkerBudget: getenvInt("PER_WORKER_MEMORY_BUDGET_MIB", 400),
	}
}

// Policy holds the mutable, hot-reloadable subset of configuration named
// in §6: recognized options whose effect is scoped to this struct.
type Policy struct {
	MaxMissionsPerWorkerSession int           `yaml:"max_missions_per_worker_session" validate:"gt=0"`
	PerWorkerMemoryBudgetMiB    int           `yaml:"per_worker_memory_budget_mib" validate:"gt=0"`
	MaxStepsPerMission          int           `yaml:"max_steps_per_mission" validate:"gt=0"`
	MaxSubgoals                 int           `yaml:"max_subgoals" validate:"gt=0,lte=4"`
	PerTaskTimeoutSeconds       int           `yaml:"per_task_timeout_s" validate:"gt=0"`
	MissionDeadlineSeconds      int           `yaml:"mission_deadline_s" validate:"gt=0"`
	RetryBackoffCapsSeconds     []int         `yaml:"retry_backoff_caps_s" validate:"min=1"`
	ImportanceThreshold         float64       `yaml:"importance_threshold" validate:"gte=0,lte=1"`
	HighRiskConfidenceThreshold float64       `yaml:"high_risk_confidence_threshold" validate:"gte=0,lte=1"`
	ApprovalRequiredActions     []string      `yaml:"approval_required_actions"`
	AutonomyLevel               int           `yaml:"autonomy_level" validate:"gte=1,lte=5"`
	DefaultMissionMode          string        `yaml:"default_mission_mode" validate:"oneof=MOCK DRY_RUN LIVE"`
	RateLimitDelay              time.Duration `yaml:"-"`
}

// DefaultPolicy returns the stated default policy (§6). New missions
// start in MOCK absent an explicit escalation request; callers promote
// through DRY_RUN to LIVE via CONTROL_APPROVED actions.
func DefaultPolicy() Policy {
	return Policy{
		MaxMissionsPerWorkerSession: 50,
		PerWorkerMemoryBudgetMiB:    400,
		MaxStepsPerMission:          8,
		MaxSubgoals:                 4,
		PerTaskTimeoutSeconds:       120,
		MissionDeadlineSeconds:      3600,
		RetryBackoffCapsSeconds:     []int{2, 4, 8, 16, 30},
		ImportanceThreshold:         0.6,
		HighRiskConfidenceThreshold: 0.7,
		ApprovalRequiredActions:     []string{"PAUSE_MISSION", "KILL_MISSION", "PROMOTE_FORECAST", "LOCK_DOMAIN"},
		AutonomyLevel:               1,
		DefaultMissionMode:          "MOCK",
	}
}

// RequiresApproval reports whether the named control action is in the
// current policy's approval-required set.
func (p Policy) RequiresApproval(action string) bool {
	for _, a := range p.ApprovalRequiredActions {
		if a == action {
			return true
		}
	}
	return false
}

// PolicyStore holds the live policy document and watches its backing
// file for changes, the way fsnotify is used elsewhere in the pack for
// config hot-reload. Readers call Current(); writers never mutate the
// returned value.
type PolicyStore struct {
	mu       sync.RWMutex
	current  Policy
	path     string
	log      *zap.Logger
	validate *validator.Validate
	watcher  *fsnotify.Watcher
}

// NewPolicyStore loads path if present, else falls back to DefaultPolicy,
// and starts watching path for changes.
func NewPolicyStore(path string, log *zap.Logger) (*PolicyStore, error) {
	ps := &PolicyStore{
		current:  DefaultPolicy(),
		path:     path,
		log:      log,
		validate: validator.New(),
	}
	if err := ps.reload(); err != nil {
		log.Warn("policy file unreadable at startup, using defaults", zap.Error(err), zap.String("path", path))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ps, fmt.Errorf("policy watcher init: %w", err)
	}
	ps.watcher = w
	if err := w.Add(path); err != nil {
		log.Warn("cannot watch policy file, live reload disabled", zap.Error(err), zap.String("path", path))
		return ps, nil
	}
	go ps.watch()
	return ps, nil
}

func (ps *PolicyStore) watch() {
	for {
		select {
		case ev, ok := <-ps.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := ps.reload(); err != nil {
					ps.log.Error("policy reload failed, keeping previous policy", zap.Error(err))
				} else {
					ps.log.Info("policy reloaded", zap.String("path", ps.path))
				}
			}
		case err, ok := <-ps.watcher.Errors:
			if !ok {
				return
			}
			ps.log.Error("policy watcher error", zap.Error(err))
		}
	}
}

func (ps *PolicyStore) reload() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return err
	}
	next := DefaultPolicy()
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse policy yaml: %w", err)
	}
	if err := ps.validate.Struct(next); err != nil {
		return fmt.Errorf("validate policy: %w", err)
	}
	ps.mu.Lock()
	ps.current = next
	ps.mu.Unlock()
	return nil
}

// Current returns a snapshot of the live policy.
func (ps *PolicyStore) Current() Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.current
}

// Close stops the underlying file watcher.
func (ps *PolicyStore) Close() error {
	if ps.watcher != nil {
		return ps.watcher.Close()
	}
	return nil
}
