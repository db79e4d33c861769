package apiserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleStreamHealth implements GET /stream-health/{mission_id}.
func (s *Server) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.hub != nil {
		active = s.hub.ActiveObservers()
	}
	writeJSON(w, http.StatusOK, StreamHealth{
		ActiveConnections: active,
		ObservationMode:   "read-only",
		ControlEnabled:    false,
	})
}

// handleStreamWS implements ws://…/ws/stream/{mission_id} (§6): a
// one-way event stream, replayable from an optional ?after_seq=
// query parameter.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming_not_configured")
		return
	}
	missionID := chi.URLParam(r, "mission_id")

	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}

	if err := s.hub.Upgrade(r.Context(), w, r, missionID, afterSeq); err != nil && s.log != nil {
		s.log.Warn("stream upgrade ended", zap.Error(err))
	}
}
