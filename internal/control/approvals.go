package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/mission"
)

// ErrSelfApproval is returned when the approver is the same operator
// who submitted the request (§4.5: "approver_id != operator_id").
var ErrSelfApproval = fmt.Errorf("control: operator cannot approve their own request")

// ErrRequestNotFound is returned for an unknown request id.
var ErrRequestNotFound = fmt.Errorf("control: request not found")

// ErrNotPending is returned when Approve/Reject is called on a request
// that has already left the PENDING state.
var ErrNotPending = fmt.Errorf("control: request is not pending")

// SubmitControl records a new operator action proposal. Actions that
// don't require approval (RESUME_MISSION, UNLOCK_DOMAIN) are executed
// immediately; the rest wait for Approve.
func (c *Controller) SubmitControl(ctx context.Context, action Action, targetID, operatorID, reason string) (*ControlRequest, error) {
	req := &ControlRequest{
		RequestID:        newRequestID(),
		Action:           action,
		TargetID:         targetID,
		OperatorID:       operatorID,
		Reason:           reason,
		RequiresApproval: RequiresApproval(action),
		Status:           RequestPending,
		SubmittedAt:      time.Now(),
	}

	c.requestsMu.Lock()
	c.requests[req.RequestID] = req
	c.requestsMu.Unlock()

	c.auditEvent(ctx, req, mission.EventControlSubmitted, nil)

	if !req.RequiresApproval {
		if err := c.Execute(ctx, req); err != nil {
			return req, err
		}
	}
	return req, nil
}

// Approve grants a pending request and executes it. approverID must
// differ from the submitting operator.
func (c *Controller) Approve(ctx context.Context, requestID, approverID, reason string) error {
	req, err := c.pendingRequest(requestID)
	if err != nil {
		return err
	}
	if approverID == req.OperatorID {
		return ErrSelfApproval
	}

	c.requestsMu.Lock()
	req.Status = RequestApproved
	req.ApproverID = approverID
	req.ApprovalReason = reason
	req.ApprovedAt = time.Now()
	c.requestsMu.Unlock()

	c.auditEvent(ctx, req, mission.EventControlApproved, nil)

	return c.Execute(ctx, req)
}

// Reject marks a pending request rejected without executing it.
func (c *Controller) Reject(ctx context.Context, requestID, approverID, reason string) error {
	req, err := c.pendingRequest(requestID)
	if err != nil {
		return err
	}
	if approverID == req.OperatorID {
		return ErrSelfApproval
	}

	c.requestsMu.Lock()
	req.Status = RequestRejected
	req.ApproverID = approverID
	req.ApprovalReason = reason
	c.requestsMu.Unlock()

	c.auditEvent(ctx, req, mission.EventControlRejected, nil)
	return nil
}

func (c *Controller) pendingRequest(requestID string) (*ControlRequest, error) {
	c.requestsMu.Lock()
	defer c.requestsMu.Unlock()
	req, ok := c.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestPending {
		return nil, ErrNotPending
	}
	return req, nil
}

// Execute carries out an approved (or approval-exempt) request.
func (c *Controller) Execute(ctx context.Context, req *ControlRequest) error {
	var execErr error
	switch req.Action {
	case ActionKillMission:
		if m, err := c.store.GetMission(ctx, req.TargetID); err != nil {
			execErr = err
		} else if !m.Status.Terminal() {
			// P6: kill is terminal — do not re-apply or re-audit a
			// KILL against a mission already COMPLETED/FAILED/KILLED/
			// CANCELLED.
			c.CancelMission(ctx, req.TargetID)
			c.auditEvent(ctx, req, mission.EventControlExecuted, nil)
		}

	case ActionPauseMission:
		if m, err := c.store.GetMission(ctx, req.TargetID); err != nil {
			execErr = err
		} else if !m.Status.Terminal() {
			c.auditEvent(ctx, req, mission.EventControlExecuted, nil)
		}

	case ActionResumeMission:
		if m, err := c.store.GetMission(ctx, req.TargetID); err != nil {
			execErr = err
		} else if m.Status == mission.StatusPaused {
			c.auditEvent(ctx, req, mission.EventControlExecuted, nil)
		}

	case ActionPromoteForecast:
		execErr = c.promote(ctx, req)

	case ActionLockDomain:
		if c.locks != nil {
			_, execErr = c.locks.Acquire(ctx, req.TargetID, req.OperatorID, req.Reason, domainLockTTL)
		}
		if execErr == nil {
			c.auditEvent(ctx, req, mission.EventControlExecuted, nil)
		}

	case ActionUnlockDomain:
		if c.locks != nil {
			execErr = c.locks.Release(ctx, req.TargetID, req.OperatorID, req.Reason)
		}
		if execErr == nil {
			c.auditEvent(ctx, req, mission.EventControlExecuted, nil)
		}

	default:
		execErr = fmt.Errorf("control: unknown action %q", req.Action)
	}

	c.requestsMu.Lock()
	if execErr != nil {
		req.Status = RequestFailed
	} else {
		req.Status = RequestExecuted
		req.ExecutedAt = time.Now()
	}
	c.requestsMu.Unlock()

	return execErr
}

// promote advances a mission's ExecutionMode one stage
// (MOCK -> DRY_RUN -> LIVE); it is a no-op once already LIVE.
func (c *Controller) promote(ctx context.Context, req *ControlRequest) error {
	m, err := c.store.GetMission(ctx, req.TargetID)
	if err != nil {
		return err
	}
	next := m.ExecutionMode
	switch m.ExecutionMode {
	case mission.ModeMock:
		next = mission.ModeDryRun
	case mission.ModeDryRun:
		next = mission.ModeLive
	}
	_, err = c.store.AppendEvent(ctx, req.TargetID, mission.EventControlExecuted, map[string]any{
		mission.PayloadAction: string(req.Action),
		mission.PayloadMode:   string(next),
		mission.PayloadReason: req.Reason,
	})
	return err
}

// isDomainAction reports whether an action targets a domain rather
// than a mission; domain actions have no mission event log to append
// their audit trail to.
func isDomainAction(action Action) bool {
	return action == ActionLockDomain || action == ActionUnlockDomain
}

// auditEvent appends a control-lifecycle event to the target mission's
// log. Domain-scoped actions (LOCK_DOMAIN/UNLOCK_DOMAIN) have no
// backing mission, so their audit trail is logged instead.
func (c *Controller) auditEvent(ctx context.Context, req *ControlRequest, kind mission.EventKind, extra map[string]any) {
	if isDomainAction(req.Action) {
		if c.log != nil {
			c.log.Info("domain control event",
				zap.String("event_kind", string(kind)),
				zap.String("action", string(req.Action)),
				zap.String("domain", req.TargetID),
				zap.String("request_id", req.RequestID),
				zap.String("reason", req.Reason),
			)
		}
		return
	}
	payload := map[string]any{
		mission.PayloadRequestID: req.RequestID,
		mission.PayloadAction:    string(req.Action),
		mission.PayloadReason:    req.Reason,
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.store.AppendEvent(ctx, req.TargetID, kind, payload)
}
