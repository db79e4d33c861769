package mission

import "context"

// Store is the Mission Store's public contract (§4.1): durable storage of
// Missions, Tasks, and Events, with an authoritative in-memory projection
// rebuilt from the log on restart.
type Store interface {
	// CreateMission creates a PROPOSED mission and its MISSION_START
	// event. Returns ErrDuplicateMission if an identical objective from
	// the same owner was created within the last 60s.
	CreateMission(ctx context.Context, objective string, owner string, mode ExecutionMode) (string, error)

	// AppendEvent durably appends an event to a mission's log and
	// updates the in-memory projection. Returns ErrMissionNotFound or
	// ErrMissionTerminal if the mission is terminal, unless kind is an
	// audit-only event kind.
	AppendEvent(ctx context.Context, missionID string, kind EventKind, payload map[string]any) (int64, error)

	// GetMission returns a consistent snapshot of the mission's
	// projection.
	GetMission(ctx context.Context, missionID string) (*Mission, error)

	// GetTask returns a single task's current projection.
	GetTask(ctx context.Context, missionID, taskID string) (*Task, error)

	// ListTasks returns all tasks currently known for a mission; the
	// order of the returned tasks is not defined.
	ListTasks(ctx context.Context, missionID string) ([]*Task, error)

	// PutTask upserts a task's projection directly; used by chat intake
	// when it materializes the Decomposer's subgoals into tasks.
	PutTask(ctx context.Context, task *Task) error

	// ListMissions returns a finite, non-restartable, ordered sequence
	// of missions matching filter.
	ListMissions(ctx context.Context, filter Filter) ([]*Mission, error)

	// SubscribeEvents returns a lazy, potentially infinite, finite
	// buffered channel of events for missionID starting after
	// afterSeq. If the subscriber falls behind, the oldest buffered
	// events are dropped and a GAP marker event is inserted. The
	// returned cancel func must be called to release the subscription.
	SubscribeEvents(ctx context.Context, missionID string, afterSeq int64) (<-chan Event, func(), error)

	// Events returns the full event log for a mission in sequence
	// order, used for projection replay and P10 round-trip tests.
	Events(ctx context.Context, missionID string) ([]Event, error)
}

// GapPayloadKey marks a synthetic event inserted when a subscriber falls
// behind; its EventKind is still the kind that would have been sent, but
// Payload carries only this key, set to true.
const GapPayloadKey = "gap"
