package mission

import (
	"context"
	"testing"
)

// TestAppendEventSequenceNumbersAreTotallyOrdered verifies P1: every
// appended event for a mission gets a strictly increasing, gapless
// sequence number, even with concurrent appenders.
func TestAppendEventSequenceNumbersAreTotallyOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	missionID, err := s.CreateMission(ctx, "investigate vendor compliance", "owner-1", ModeDryRun)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	const n = 50
	done := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			seq, err := s.AppendEvent(ctx, missionID, EventStatusChange, map[string]any{PayloadStatus: string(StatusRunning)})
			if err != nil {
				t.Errorf("AppendEvent: %v", err)
				done <- -1
				return
			}
			done <- seq
		}()
	}

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		seq := <-done
		if seq == -1 {
			continue
		}
		if seen[seq] {
			t.Fatalf("duplicate sequence number %d", seq)
		}
		seen[seq] = true
	}

	events, err := s.Events(ctx, missionID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	// +1 for the MISSION_START event CreateMission appends.
	if len(events) != n+1 {
		t.Fatalf("expected %d events, got %d", n+1, len(events))
	}
	for i, ev := range events {
		want := int64(i + 1)
		if ev.SequenceNumber != want {
			t.Fatalf("event %d has sequence number %d, want %d (gap or reorder)", i, ev.SequenceNumber, want)
		}
	}
}

// TestRebuildMatchesLiveProjection verifies P10: replaying a mission's
// log from scratch reproduces the live, incrementally-updated
// projection exactly.
func TestRebuildMatchesLiveProjection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	missionID, err := s.CreateMission(ctx, "plan a marketing campaign", "owner-2", ModeDryRun)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if _, err := s.AppendEvent(ctx, missionID, EventStatusChange, map[string]any{
		PayloadStatus:   string(StatusApproved),
		PayloadPriority: string(PriorityHigh),
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	live, err := s.GetMission(ctx, missionID)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}

	rebuilt, _, err := s.Rebuild(ctx, missionID)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if live.Status != rebuilt.Status || live.Priority != rebuilt.Priority {
		t.Fatalf("rebuild diverged from live projection: live=%+v rebuilt=%+v", live, rebuilt)
	}
}

func TestCreateMissionDeduplicatesWithinWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateMission(ctx, "same objective", "owner-3", ModeDryRun); err != nil {
		t.Fatalf("first CreateMission: %v", err)
	}
	if _, err := s.CreateMission(ctx, "same objective", "owner-3", ModeDryRun); err == nil {
		t.Fatalf("expected duplicate-mission error on repeat within window")
	}
}
