package apiserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/missionctl/missionctl/internal/control"
)

var actionsByName = map[string]control.Action{
	"PAUSE_MISSION":    control.ActionPauseMission,
	"RESUME_MISSION":   control.ActionResumeMission,
	"KILL_MISSION":     control.ActionKillMission,
	"PROMOTE_FORECAST": control.ActionPromoteForecast,
	"LOCK_DOMAIN":      control.ActionLockDomain,
	"UNLOCK_DOMAIN":    control.ActionUnlockDomain,
}

// handleControlRequest implements POST /controls/request.
func (s *Server) handleControlRequest(w http.ResponseWriter, r *http.Request) {
	var req ControlRequestBody
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	action, ok := actionsByName[req.Action]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}

	cr, err := s.controller.SubmitControl(r.Context(), action, req.TargetID, req.OperatorID, req.Reason)
	if err != nil {
		s.writeErrForKind(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cr)
}

// handleControlApprove implements POST /controls/{id}/approve.
func (s *Server) handleControlApprove(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")

	var req ApprovalBody
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	if err := s.controller.Approve(r.Context(), requestID, req.ApproverID, req.Reason); err != nil {
		if errors.Is(err, control.ErrSelfApproval) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, control.ErrRequestNotFound) || errors.Is(err, control.ErrNotPending) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeErrForKind(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleControlReject implements POST /controls/{id}/reject.
func (s *Server) handleControlReject(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")

	var req ApprovalBody
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	if err := s.controller.Reject(r.Context(), requestID, req.ApproverID, req.Reason); err != nil {
		if errors.Is(err, control.ErrSelfApproval) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, control.ErrRequestNotFound) || errors.Is(err, control.ErrNotPending) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeErrForKind(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
