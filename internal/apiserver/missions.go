package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/missionerr"
)

// handleMissionUpdate implements POST /missions/{id}/update: mutates
// policy_overrides/priority while the mission is still PROPOSED or
// CLARIFICATION_NEEDED. Nothing in this build ever drives a mission
// into CLARIFICATION_NEEDED (the Decomposer never stalls — see
// DESIGN.md), so in practice only PROPOSED missions pass this guard;
// the check still names both statuses for forward compatibility with
// an eventual interactive-clarification flow.
func (s *Server) handleMissionUpdate(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "id")

	var req MissionUpdateRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	m, err := s.store.GetMission(r.Context(), missionID)
	if err != nil {
		s.writeErrForKind(w, err)
		return
	}
	if m.Status != mission.StatusProposed && m.Status != mission.StatusClarificationNeeded {
		s.writeErrForKind(w, missionerr.PolicyViolation("mission_not_updatable", nil))
		return
	}

	payload := map[string]any{}
	if req.Priority != "" {
		payload[mission.PayloadPriority] = req.Priority
	}
	if len(req.PolicyOverrides) > 0 {
		payload[mission.PayloadPolicyOverrides] = req.PolicyOverrides
	}
	if len(payload) > 0 {
		if _, err := s.store.AppendEvent(r.Context(), missionID, mission.EventStatusChange, payload); err != nil {
			s.writeErrForKind(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleMissionSchedule implements PUT /missions/{id}/schedule:
// records a delayed/recurring trigger as a policy override
// (trigger_time, recurrence) rather than a dedicated event kind,
// keeping the event vocabulary closed (§4.1).
func (s *Server) handleMissionSchedule(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "id")

	var req MissionScheduleRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	overrides := map[string]string{
		"trigger_time": req.TriggerTime.UTC().Format("2006-01-02T15:04:05.000000Z"),
	}
	if req.Recurrence != "" {
		overrides["recurrence"] = req.Recurrence
	}

	if _, err := s.store.AppendEvent(r.Context(), missionID, mission.EventStatusChange, map[string]any{
		mission.PayloadPolicyOverrides: overrides,
	}); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
