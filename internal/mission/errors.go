package mission

import "github.com/missionctl/missionctl/internal/missionerr"

// ErrDuplicateMission is returned by CreateMission when an identical
// objective from the same owner was created within the last 60s.
func ErrDuplicateMission(objective string) *missionerr.Error {
	return missionerr.InputRejected("duplicate_mission", nil)
}

// ErrMissionNotFound is returned when missionID has no known projection.
func ErrMissionNotFound(missionID string) *missionerr.Error {
	return missionerr.NonRetryable("mission_not_found", nil)
}

// ErrMissionTerminal is returned by AppendEvent for non-audit events
// once a mission has reached a terminal status.
func ErrMissionTerminal(missionID string) *missionerr.Error {
	return missionerr.PolicyViolation("mission_terminal", nil)
}

// auditEventKinds may be appended even to a terminal mission (§4.1).
var auditEventKinds = map[EventKind]bool{
	EventRollback:        true,
	EventControlExecuted: true,
	EventStatusChange:    true,
}
