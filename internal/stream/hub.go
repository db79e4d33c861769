// Package stream implements the Observability & Learning Bus's
// WebSocket event delivery (§4.6): one connection per mission,
// replaying from a caller-supplied sequence offset and forwarding GAP
// markers transparently.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/observability"
)

// maxConnections caps total concurrent stream observers across all
// missions, an overload guard applied per hub.
const maxConnections = 200

// pingInterval / pongWait implement dead-connection detection for the
// dashboard stream.
const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frameTimeLayout renders UTC timestamps with microsecond precision, the
// wire format the stream's consumers (chat front-end, dashboard) expect.
const frameTimeLayout = "2006-01-02T15:04:05.000000Z"

// frame is the JSON shape written to each stream subscriber; any
// client-to-server frame received on the same connection is ignored.
type frame struct {
	MissionID      string            `json:"mission_id"`
	EventKind      mission.EventKind `json:"event_kind"`
	SequenceNumber int64             `json:"sequence_number"`
	TimestampUTC   string            `json:"timestamp_utc_iso8601"`
	Payload        map[string]any    `json:"payload"`
}

// Hub serves mission event streams over WebSocket. Unlike the
// teacher's tenant-wide broadcast hub, fan-out and gap-insertion are
// already provided per-subscriber by mission.Store.SubscribeEvents;
// the Hub's job is connection lifecycle (cap, ping/pong, disconnect
// detection) layered on top.
type Hub struct {
	store mission.Store
	log   *zap.Logger

	count chan struct{} // buffered to maxConnections, acts as a counting semaphore
}

// NewHub constructs a Hub bound to store.
func NewHub(store mission.Store, log *zap.Logger) *Hub {
	return &Hub{
		store: store,
		log:   log,
		count: make(chan struct{}, maxConnections),
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection and
// streams missionID's events from afterSeq onward until the client
// disconnects or ctx is cancelled. Blocks for the connection's
// lifetime; callers run it in its own goroutine per request.
func (h *Hub) Upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, missionID string, afterSeq int64) error {
	select {
	case h.count <- struct{}{}:
	default:
		http.Error(w, "too many stream observers", http.StatusServiceUnavailable)
		return fmt.Errorf("stream: connection cap (%d) reached", maxConnections)
	}
	defer func() { <-h.count }()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("stream: upgrade failed: %w", err)
	}
	defer conn.Close()

	observability.WSConnectedObservers.Inc()
	defer observability.WSConnectedObservers.Dec()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe, err := h.store.SubscribeEvents(streamCtx, missionID, afterSeq)
	if err != nil {
		return fmt.Errorf("stream: subscribe failed: %w", err)
	}
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Read pump: the only purpose is detecting client disconnection
	// (clients don't send us anything meaningful).
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, isGap := ev.Payload[mission.GapPayloadKey]; isGap {
				observability.WSGapEvents.WithLabelValues(missionID).Inc()
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame{
				MissionID:      ev.MissionID,
				EventKind:      ev.EventKind,
				SequenceNumber: ev.SequenceNumber,
				TimestampUTC:   ev.Timestamp.UTC().Format(frameTimeLayout),
				Payload:        ev.Payload,
			}); err != nil {
				return fmt.Errorf("stream: write failed: %w", err)
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("stream: ping failed: %w", err)
			}
		}
	}
}

// ActiveObservers reports how many stream connections are currently
// open, for the /stream-health endpoint.
func (h *Hub) ActiveObservers() int { return len(h.count) }
