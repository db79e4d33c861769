package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/mission"
)

func TestUpgradeStreamsEventsAsTaggedFrames(t *testing.T) {
	store := mission.NewMemoryStore()
	ctx := context.Background()
	missionID, err := store.CreateMission(ctx, "investigate vendor compliance", "owner-1", mission.ModeDryRun)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	hub := NewHub(store, zap.NewNop())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Upgrade(r.Context(), w, r, missionID, 0); err != nil {
			t.Logf("Upgrade returned: %v", err)
		}
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// MISSION_START was appended by CreateMission before the subscriber
	// connected; SubscribeEvents replays it from afterSeq=0.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var f map[string]any
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	for _, key := range []string{"mission_id", "event_kind", "sequence_number", "timestamp_utc_iso8601", "payload"} {
		if _, ok := f[key]; !ok {
			t.Errorf("frame missing required key %q: %v", key, f)
		}
	}
	if f["mission_id"] != missionID {
		t.Errorf("mission_id = %v, want %v", f["mission_id"], missionID)
	}
}

func TestActiveObserversTracksConcurrentConnections(t *testing.T) {
	store := mission.NewMemoryStore()
	ctx := context.Background()
	missionID, err := store.CreateMission(ctx, "plan a marketing campaign", "owner-2", mission.ModeDryRun)
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	hub := NewHub(store, zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Upgrade(r.Context(), w, r, missionID, 0)
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Give Upgrade's goroutine a moment to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveObservers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ActiveObservers() != 1 {
		t.Fatalf("expected 1 active observer, got %d", hub.ActiveObservers())
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ActiveObservers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ActiveObservers() != 0 {
		t.Fatalf("expected 0 active observers after disconnect, got %d", hub.ActiveObservers())
	}
}
