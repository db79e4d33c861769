// Package mission holds the Mission Store: durable, strictly-ordered
// storage of Missions, Tasks, and their append-only event logs, and the
// authoritative projection of mission state rebuilt from that log.
package mission

import "time"

// Status is a Mission's lifecycle state.
type Status string

const (
	StatusProposed             Status = "PROPOSED"
	StatusClarificationNeeded  Status = "CLARIFICATION_NEEDED"
	StatusApproved             Status = "APPROVED"
	StatusQueued               Status = "QUEUED"
	StatusRunning              Status = "RUNNING"
	StatusPaused               Status = "PAUSED"
	StatusCompleted            Status = "COMPLETED"
	StatusFailed               Status = "FAILED"
	StatusKilled               Status = "KILLED"
	StatusCancelled            Status = "CANCELLED"
)

// Terminal reports whether status is one from which no further progress
// is possible (ignoring the audit-event exception in append_event).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority classes, highest first.
type Priority string

const (
	PriorityUrgent     Priority = "URGENT"
	PriorityHigh       Priority = "HIGH"
	PriorityNormal     Priority = "NORMAL"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// priorityRank gives a total order used by the scheduler's queue; lower
// rank is served first.
var priorityRank = map[Priority]int{
	PriorityUrgent:     0,
	PriorityHigh:       1,
	PriorityNormal:     2,
	PriorityLow:        3,
	PriorityBackground: 4,
}

// Rank returns p's ordinal position (lower = higher priority). Unknown
// priorities rank below BACKGROUND.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// ExecutionMode is the safety state machine's current stage.
type ExecutionMode string

const (
	ModeMock   ExecutionMode = "MOCK"
	ModeDryRun ExecutionMode = "DRY_RUN"
	ModeLive   ExecutionMode = "LIVE"
)

// Domain is the closed vocabulary the Decomposer classifies objectives
// into.
type Domain string

const (
	DomainMarketing  Domain = "marketing"
	DomainEngineering Domain = "engineering"
	DomainOperations Domain = "operations"
	DomainResearch   Domain = "research"
	DomainUnknown    Domain = "unknown"
)

// Mission is an ordered sequence of Tasks derived from an Objective. It
// is exclusively owned by the Store; callers mutate it only through
// Store methods.
type Mission struct {
	MissionID       string
	ObjectiveText   string
	Domain          Domain
	Status          Status
	Priority        Priority
	CreatedAt       time.Time
	OwnerID         string
	ProgressPercent int
	ExecutionMode   ExecutionMode
	PolicyOverrides map[string]string
	Version         int64 // bumped on every projection mutation, for optimistic reads
}

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskExecuting  TaskStatus = "EXECUTING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskRetrying   TaskStatus = "RETRYING"
	TaskDeferred   TaskStatus = "DEFERRED"
	TaskRolledBack TaskStatus = "ROLLED_BACK"
)

// RiskLevel classifies how much latitude a Task needs from the safety
// state machine.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Task is the atomic unit scheduled onto a worker.
type Task struct {
	TaskID           string
	MissionID        string
	DependsOn        []string
	ActionKind       string
	ActionParams     map[string]any
	Status           TaskStatus
	AttemptCount     int
	MaxAttempts      int
	RiskLevel        RiskLevel
	Confidence       float64
	AssignedWorkerID string
	ScheduledStart   time.Time
	ObservedStart    time.Time
	ObservedEnd      time.Time
	ResultHandle     string
}

// EventKind is the closed set of event types appended to a mission log.
type EventKind string

const (
	EventMissionStart     EventKind = "MISSION_START"
	EventStatusChange     EventKind = "STATUS_CHANGE"
	EventTaskScheduled    EventKind = "TASK_SCHEDULED"
	EventTaskStarted      EventKind = "TASK_STARTED"
	EventTaskAttempt      EventKind = "TASK_ATTEMPT"
	EventTaskCompleted    EventKind = "TASK_COMPLETED"
	EventTaskFailed       EventKind = "TASK_FAILED"
	EventProgress         EventKind = "PROGRESS"
	EventMissionStop      EventKind = "MISSION_STOP"
	EventControlSubmitted EventKind = "CONTROL_SUBMITTED"
	EventControlApproved  EventKind = "CONTROL_APPROVED"
	EventControlRejected  EventKind = "CONTROL_REJECTED"
	EventControlExecuted  EventKind = "CONTROL_EXECUTED"
	EventRollback         EventKind = "ROLLBACK"
)

// Event is an immutable record appended to a mission's log; the sole
// source of truth for reconstructing mission state.
type Event struct {
	MissionID      string
	SequenceNumber int64
	Timestamp      time.Time
	EventKind      EventKind
	Payload        map[string]any
}

// Filter narrows list_missions results.
type Filter struct {
	OwnerID string
	Status  Status
	Domain  Domain
	Limit   int
}
