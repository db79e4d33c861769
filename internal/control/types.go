// Package control implements the Execution Controller (§4.5): it drives
// each task through execution against a worker, enforcing the safety
// state machine, approval gates, domain locks, and rollback.
package control

import "time"

// Action is an operator action proposal's kind.
type Action string

const (
	ActionPauseMission    Action = "PAUSE_MISSION"
	ActionKillMission     Action = "KILL_MISSION"
	ActionPromoteForecast Action = "PROMOTE_FORECAST"
	ActionLockDomain      Action = "LOCK_DOMAIN"
	ActionUnlockDomain    Action = "UNLOCK_DOMAIN"
	ActionResumeMission   Action = "RESUME_MISSION"
)

// approvalRequired lists the actions requiring a distinct approver
// (§4.5): PAUSE, KILL, PROMOTE_FORECAST, LOCK_DOMAIN.
var approvalRequired = map[Action]bool{
	ActionPauseMission:    true,
	ActionKillMission:     true,
	ActionPromoteForecast: true,
	ActionLockDomain:      true,
}

// RequiresApproval reports whether a the given action needs a
// CONTROL_APPROVED event from a different operator before execution.
func RequiresApproval(a Action) bool { return approvalRequired[a] }

// RequestStatus is a ControlRequest's lifecycle state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
	RequestExecuted RequestStatus = "EXECUTED"
	RequestFailed   RequestStatus = "FAILED"
)

// ControlRequest is an operator action proposal (§3).
type ControlRequest struct {
	RequestID       string
	Action          Action
	TargetID        string
	OperatorID      string
	Reason          string
	RequiresApproval bool
	Status          RequestStatus
	ApproverID      string
	ApprovalReason  string
	SubmittedAt     time.Time
	ApprovedAt      time.Time
	ExecutedAt      time.Time
}
