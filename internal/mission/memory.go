package mission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth before oldest
// events are dropped in favor of a GAP marker (§4.1, §4.6).
const subscriberBuffer = 256

// duplicateWindow is how long CreateMission deduplicates identical
// objectives from the same owner.
const duplicateWindow = 60 * time.Second

type subscriber struct {
	ch     chan Event
	cancel bool
}

type missionRecord struct {
	mu          sync.Mutex // per-mission serialized writer
	projection  Mission
	tasks       map[string]*Task
	log         []Event
	subs        map[int]*subscriber
	nextSubID   int
}

// MemoryStore is an in-process Store implementation: the durable log and
// the projection both live in memory, guarded by a per-mission mutex so
// writes to one mission never block writes to another (§4.1 algorithm
// notes). Suitable for tests and single-node deployments without
// Postgres configured.
type MemoryStore struct {
	mu       sync.RWMutex
	missions map[string]*missionRecord
	recent   map[string]time.Time // "owner|objective" -> last create time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: make(map[string]*missionRecord),
		recent:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) CreateMission(ctx context.Context, objective string, owner string, mode ExecutionMode) (string, error) {
	dedupKey := owner + "|" + objective
	now := time.Now().UTC()

	s.mu.Lock()
	if last, ok := s.recent[dedupKey]; ok && now.Sub(last) < duplicateWindow {
		s.mu.Unlock()
		return "", ErrDuplicateMission(objective)
	}
	s.recent[dedupKey] = now

	missionID := uuid.NewString()
	rec := &missionRecord{
		projection: Mission{
			MissionID:       missionID,
			Status:          StatusProposed,
			Priority:        PriorityNormal,
			CreatedAt:       now,
			ExecutionMode:   mode,
			PolicyOverrides: map[string]string{},
		},
		tasks: make(map[string]*Task),
		subs:  make(map[int]*subscriber),
	}
	s.missions[missionID] = rec
	s.mu.Unlock()

	if _, err := s.AppendEvent(ctx, missionID, EventMissionStart, map[string]any{
		PayloadObjective: objective,
		PayloadOwner:     owner,
		PayloadMode:      string(mode),
	}); err != nil {
		return "", err
	}
	return missionID, nil
}

func (s *MemoryStore) getRecord(missionID string) *missionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missions[missionID]
}

func (s *MemoryStore) AppendEvent(ctx context.Context, missionID string, kind EventKind, payload map[string]any) (int64, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return 0, ErrMissionNotFound(missionID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.projection.Status.Terminal() && !auditEventKinds[kind] {
		return 0, ErrMissionTerminal(missionID)
	}

	seq := int64(len(rec.log)) + 1
	ev := Event{
		MissionID:      missionID,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
		EventKind:      kind,
		Payload:        payload,
	}
	rec.log = append(rec.log, ev)
	applyProjection(&rec.projection, rec.tasks, ev)
	rec.broadcast(ev)
	return seq, nil
}

// broadcast fans ev out to all live subscribers without blocking the
// writer: a full subscriber channel has its oldest entry dropped and
// replaced with a GAP marker instead of stalling the append path.
func (rec *missionRecord) broadcast(ev Event) {
	for _, sub := range rec.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			gap := Event{
				MissionID:      ev.MissionID,
				SequenceNumber: ev.SequenceNumber,
				Timestamp:      ev.Timestamp,
				EventKind:      ev.EventKind,
				Payload:        map[string]any{GapPayloadKey: true},
			}
			select {
			case sub.ch <- gap:
			default:
			}
		}
	}
}

func (s *MemoryStore) GetMission(ctx context.Context, missionID string) (*Mission, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, ErrMissionNotFound(missionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := rec.projection
	overrides := make(map[string]string, len(rec.projection.PolicyOverrides))
	for k, v := range rec.projection.PolicyOverrides {
		overrides[k] = v
	}
	snap.PolicyOverrides = overrides
	return &snap, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, missionID, taskID string) (*Task, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, ErrMissionNotFound(missionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t, ok := rec.tasks[taskID]
	if !ok {
		return nil, missionErrNotFoundTask(taskID)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, missionID string) ([]*Task, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, ErrMissionNotFound(missionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]*Task, 0, len(rec.tasks))
	for _, t := range rec.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) PutTask(ctx context.Context, task *Task) error {
	rec := s.getRecord(task.MissionID)
	if rec == nil {
		return ErrMissionNotFound(task.MissionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := *task
	rec.tasks[task.TaskID] = &cp
	return nil
}

func (s *MemoryStore) ListMissions(ctx context.Context, filter Filter) ([]*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Mission, 0, len(s.missions))
	for _, rec := range s.missions {
		rec.mu.Lock()
		m := rec.projection
		rec.mu.Unlock()
		if filter.OwnerID != "" && m.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Domain != "" && m.Domain != filter.Domain {
			continue
		}
		mc := m
		out = append(out, &mc)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SubscribeEvents(ctx context.Context, missionID string, afterSeq int64) (<-chan Event, func(), error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, nil, ErrMissionNotFound(missionID)
	}

	rec.mu.Lock()
	id := rec.nextSubID
	rec.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	// Replay anything already logged after afterSeq before live events
	// start arriving, so callers resuming from a known offset see no
	// gap at the join point.
	for _, ev := range rec.log {
		if ev.SequenceNumber > afterSeq {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	rec.subs[id] = &subscriber{ch: ch}
	rec.mu.Unlock()

	cancel := func() {
		rec.mu.Lock()
		if sub, ok := rec.subs[id]; ok {
			delete(rec.subs, id)
			close(sub.ch)
		}
		rec.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

func (s *MemoryStore) Events(ctx context.Context, missionID string) ([]Event, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, ErrMissionNotFound(missionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Event, len(rec.log))
	copy(out, rec.log)
	return out, nil
}

// Rebuild reconstructs a mission's projection from scratch by replaying
// its log, for use in startup recovery and P10 round-trip tests. It
// returns the rebuilt projection without mutating the live store.
func (s *MemoryStore) Rebuild(ctx context.Context, missionID string) (*Mission, map[string]*Task, error) {
	rec := s.getRecord(missionID)
	if rec == nil {
		return nil, nil, ErrMissionNotFound(missionID)
	}
	rec.mu.Lock()
	log := make([]Event, len(rec.log))
	copy(log, rec.log)
	rec.mu.Unlock()

	m := &Mission{MissionID: missionID, PolicyOverrides: map[string]string{}}
	tasks := make(map[string]*Task)
	for _, ev := range log {
		applyProjection(m, tasks, ev)
	}
	return m, tasks, nil
}

func missionErrNotFoundTask(taskID string) error {
	return ErrMissionNotFound(taskID)
}
