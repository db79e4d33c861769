package schedule

import (
	"github.com/missionctl/missionctl/internal/tool"
)

// Strategy is the resolution applied when a candidate task conflicts
// with an already-EXECUTING task (§4.3).
type Strategy string

const (
	StrategyDelay     Strategy = "DELAY"
	StrategyReassign  Strategy = "REASSIGN"
	StrategyDowngrade Strategy = "DOWNGRADE"
	StrategyAbort     Strategy = "ABORT"
)

// strategyByClass is the static conflict table: each conflict class
// resolves to one strategy. RESOURCE conflicts downgrade the candidate
// to a safer execution mode and retry rather than just backing off,
// since two tasks contending for the same named resource is the case
// most likely to compound into an unsafe concurrent mutation; ORDERING
// conflicts wait for the predecessor (a delay); RATE_LIMIT conflicts
// are reassigned to another lane when possible, since the rate ceiling
// is per-host not per-lane; DUPLICATE_ACTION aborts outright.
var strategyByClass = map[tool.ConflictClass]Strategy{
	tool.ConflictResource:  StrategyDowngrade,
	tool.ConflictOrdering:  StrategyDelay,
	tool.ConflictRateLimit: StrategyReassign,
	tool.ConflictDuplicate: StrategyAbort,
}

// ActiveTask is the minimal view of an EXECUTING task the conflict
// checker needs.
type ActiveTask struct {
	TaskID        string
	ActionKind    string
	ConflictClass tool.ConflictClass
	ResourceKey   string // e.g. target host, for RESOURCE/RATE_LIMIT matching
}

// DetectConflict reports whether candidate conflicts with any active
// task and, if so, which strategy to apply. Candidates with
// ConflictClass NONE never conflict.
func DetectConflict(candidate ActiveTask, active []ActiveTask) (bool, Strategy) {
	if candidate.ConflictClass == tool.ConflictNone {
		return false, ""
	}
	for _, a := range active {
		if a.TaskID == candidate.TaskID {
			continue
		}
		switch candidate.ConflictClass {
		case tool.ConflictDuplicate:
			if a.ActionKind == candidate.ActionKind && a.ResourceKey == candidate.ResourceKey {
				return true, StrategyAbort
			}
		case tool.ConflictResource, tool.ConflictRateLimit:
			if a.ConflictClass == candidate.ConflictClass && a.ResourceKey == candidate.ResourceKey {
				return true, strategyByClass[candidate.ConflictClass]
			}
		case tool.ConflictOrdering:
			if a.ConflictClass == tool.ConflictOrdering && a.ResourceKey == candidate.ResourceKey {
				return true, StrategyDelay
			}
		}
	}
	return false, ""
}
