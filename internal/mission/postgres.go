package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/missionctl/missionctl/internal/missionerr"
)

// schemaVersion is the on-disk log/snapshot format version (§6). Startup
// aborts if the stored version is newer than this binary understands.
const schemaVersion = 1

// PostgresStore durably persists the append-only event log and a
// periodic mission snapshot to Postgres, while serving reads from an
// in-memory projection that is never blocked on storage (§4.1 failure
// semantics). Writes are fatal for the affected mission on failure: the
// projection is left untouched and the caller receives
// StorageUnavailable.
type PostgresStore struct {
	pool *pgxpool.Pool
	mem  *MemoryStore
}

// NewPostgresStore opens a pool sized the way the control plane's
// Postgres-backed store is sized, and loads any existing missions into
// the in-memory projection by replaying their logs.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	ps := &PostgresStore{pool: pool, mem: NewMemoryStore()}
	if err := ps.recover(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// recover replays every mission's durable log into the in-memory
// projection, the crash-recovery path named throughout §4.1 and §4.5.
func (s *PostgresStore) recover(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT mission_id FROM mission_events`)
	if err != nil {
		// Table may not exist yet on a fresh deployment; treat as empty.
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		if err := s.replayInto(ctx, id); err != nil {
			return fmt.Errorf("replay mission %s: %w", id, err)
		}
	}
	return nil
}

func (s *PostgresStore) replayInto(ctx context.Context, missionID string) error {
	var schema int
	_ = s.pool.QueryRow(ctx, `SELECT schema_version FROM missions WHERE mission_id=$1`, missionID).Scan(&schema)
	if schema > schemaVersion {
		return fmt.Errorf("mission %s has unknown schema version %d", missionID, schema)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sequence_number, occurred_at, event_kind, payload
		FROM mission_events WHERE mission_id=$1 ORDER BY sequence_number ASC`, missionID)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mem.mu.Lock()
	rec, ok := s.mem.missions[missionID]
	if !ok {
		rec = &missionRecord{
			projection: Mission{MissionID: missionID, PolicyOverrides: map[string]string{}},
			tasks:      make(map[string]*Task),
			subs:       make(map[int]*subscriber),
		}
		s.mem.missions[missionID] = rec
	}
	s.mem.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for rows.Next() {
		var seq int64
		var occurredAt time.Time
		var kind string
		var rawPayload []byte
		if err := rows.Scan(&seq, &occurredAt, &kind, &rawPayload); err != nil {
			return err
		}
		var payload map[string]any
		if len(rawPayload) > 0 {
			if err := json.Unmarshal(rawPayload, &payload); err != nil {
				return err
			}
		}
		ev := Event{MissionID: missionID, SequenceNumber: seq, Timestamp: occurredAt, EventKind: EventKind(kind), Payload: payload}
		rec.log = append(rec.log, ev)
		applyProjection(&rec.projection, rec.tasks, ev)
	}
	return nil
}

func (s *PostgresStore) CreateMission(ctx context.Context, objective string, owner string, mode ExecutionMode) (string, error) {
	dedupKey := owner + "|" + objective
	now := time.Now().UTC()
	s.mem.mu.Lock()
	if last, ok := s.mem.recent[dedupKey]; ok && now.Sub(last) < duplicateWindow {
		s.mem.mu.Unlock()
		return "", ErrDuplicateMission(objective)
	}
	s.mem.recent[dedupKey] = now
	s.mem.mu.Unlock()

	missionID, err := s.insertMission(ctx, objective, owner, mode)
	if err != nil {
		return "", err
	}

	s.mem.mu.Lock()
	s.mem.missions[missionID] = &missionRecord{
		projection: Mission{
			MissionID:       missionID,
			Status:          StatusProposed,
			Priority:        PriorityNormal,
			CreatedAt:       time.Now().UTC(),
			ExecutionMode:   mode,
			PolicyOverrides: map[string]string{},
		},
		tasks: make(map[string]*Task),
		subs:  make(map[int]*subscriber),
	}
	s.mem.mu.Unlock()

	if _, err := s.AppendEvent(ctx, missionID, EventMissionStart, map[string]any{
		PayloadObjective: objective,
		PayloadOwner:     owner,
		PayloadMode:      string(mode),
	}); err != nil {
		return "", err
	}
	return missionID, nil
}

func (s *PostgresStore) insertMission(ctx context.Context, objective, owner string, mode ExecutionMode) (string, error) {
	id := fmt.Sprintf("msn_%x", fnvHash(objective+owner+time.Now().String()))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO missions (mission_id, owner_id, objective_text, status, execution_mode, schema_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, owner, objective, string(StatusProposed), string(mode), schemaVersion)
	if err != nil {
		return "", missionerr.StorageUnavailable("mission_insert_failed", err)
	}
	return id, nil
}

// AppendEvent writes the event to the durable log inside a transaction
// that serializes concurrent writers for the same mission via an
// advisory lock keyed on mission_id, then — only on successful commit —
// applies it to the in-memory projection.
func (s *PostgresStore) AppendEvent(ctx context.Context, missionID string, kind EventKind, payload map[string]any) (int64, error) {
	s.mem.mu.RLock()
	rec, ok := s.mem.missions[missionID]
	s.mem.mu.RUnlock()
	if !ok {
		return 0, ErrMissionNotFound(missionID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.projection.Status.Terminal() && !auditEventKinds[kind] {
		return 0, ErrMissionTerminal(missionID)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return 0, missionerr.NonRetryable("payload_marshal_failed", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, missionerr.StorageUnavailable("tx_begin_failed", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(fnvHash(missionID))); err != nil {
		return 0, missionerr.StorageUnavailable("advisory_lock_failed", err)
	}

	var nextSeq int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM mission_events WHERE mission_id=$1`, missionID).Scan(&nextSeq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, missionerr.StorageUnavailable("sequence_query_failed", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO mission_events (mission_id, sequence_number, occurred_at, event_kind, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		missionID, nextSeq, now, string(kind), rawPayload); err != nil {
		return 0, missionerr.StorageUnavailable("event_insert_failed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, missionerr.StorageUnavailable("tx_commit_failed", err)
	}

	ev := Event{MissionID: missionID, SequenceNumber: nextSeq, Timestamp: now, EventKind: kind, Payload: payload}
	rec.log = append(rec.log, ev)
	applyProjection(&rec.projection, rec.tasks, ev)
	rec.broadcast(ev)

	// Best-effort snapshot refresh; failure here does not invalidate the
	// already-committed event.
	_, _ = s.pool.Exec(ctx, `
		UPDATE missions SET status=$2, progress_percent=$3, execution_mode=$4, updated_at=NOW()
		WHERE mission_id=$1`,
		missionID, string(rec.projection.Status), rec.projection.ProgressPercent, string(rec.projection.ExecutionMode))

	return nextSeq, nil
}

func (s *PostgresStore) GetMission(ctx context.Context, missionID string) (*Mission, error) {
	return s.mem.GetMission(ctx, missionID)
}

func (s *PostgresStore) GetTask(ctx context.Context, missionID, taskID string) (*Task, error) {
	return s.mem.GetTask(ctx, missionID, taskID)
}

func (s *PostgresStore) ListTasks(ctx context.Context, missionID string) ([]*Task, error) {
	return s.mem.ListTasks(ctx, missionID)
}

func (s *PostgresStore) PutTask(ctx context.Context, task *Task) error {
	return s.mem.PutTask(ctx, task)
}

func (s *PostgresStore) ListMissions(ctx context.Context, filter Filter) ([]*Mission, error) {
	return s.mem.ListMissions(ctx, filter)
}

func (s *PostgresStore) SubscribeEvents(ctx context.Context, missionID string, afterSeq int64) (<-chan Event, func(), error) {
	return s.mem.SubscribeEvents(ctx, missionID, afterSeq)
}

func (s *PostgresStore) Events(ctx context.Context, missionID string) ([]Event, error) {
	return s.mem.Events(ctx, missionID)
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
