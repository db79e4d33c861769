// Package tool defines the opaque Tool registry consulted by the
// Execution Controller and Router. A Tool implementation is an external
// collaborator (§6) identified by action_kind; this package only holds
// its static metadata and invocation signature, never the concrete
// web-automation logic.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/missionctl/missionctl/internal/mission"
)

// ConflictClass names the static conflict-table bucket a tool's actions
// fall into (§4.3).
type ConflictClass string

const (
	ConflictNone         ConflictClass = "NONE"
	ConflictResource     ConflictClass = "RESOURCE"
	ConflictOrdering     ConflictClass = "ORDERING"
	ConflictRateLimit    ConflictClass = "RATE_LIMIT"
	ConflictDuplicate    ConflictClass = "DUPLICATE_ACTION"
)

// Outcome is the normalized result of a tool invocation (§4.5 step 4).
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeRetryableFailure  Outcome = "retryable_failure"
	OutcomeNonRetryable      Outcome = "non_retryable_failure"
	OutcomePartialSuccess    Outcome = "partial_success"
)

// Result is what invoke returns.
type Result struct {
	Outcome      Outcome
	ResultHandle string
	FailureMode  string
}

// Descriptor is a tool's static, registry-time metadata.
type Descriptor struct {
	ActionKind    string
	RiskLevel     mission.RiskLevel
	Reversible    bool
	RequiresAPI   bool
	ConflictClass ConflictClass
	// TaskClass is used by the Router's LOCAL/CLOUD decision tree (e.g.
	// "web_navigate", "web_extract", "web_search").
	TaskClass string
}

// Invoker is the signature every registered tool implements. cancel is
// closed to request cooperative cancellation (KILL, deadline).
type Invoker func(ctx context.Context, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (Result, error)

// entry pairs a Descriptor with its Invoker.
type entry struct {
	Descriptor
	invoke Invoker
}

// Registry is the closed, load-once-at-startup set of tools (§9: no
// dynamic tool loading during execution). It is safe for concurrent
// read access once Freeze has been called; Register before Freeze is
// not goroutine-safe by design, matching single-threaded startup wiring.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	frozen   bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. It panics if called after Freeze — a
// programming error, since the registry is meant to be built once at
// startup and never mutated at runtime.
func (r *Registry) Register(d Descriptor, invoke Invoker) {
	if r.frozen {
		panic("tool: Register called on frozen registry")
	}
	r.entries[d.ActionKind] = entry{Descriptor: d, invoke: invoke}
}

// Freeze marks the registry read-only; subsequent Register calls panic.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup returns the descriptor for an action_kind.
func (r *Registry) Lookup(actionKind string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[actionKind]
	return e.Descriptor, ok
}

// Invoke calls the registered tool, or returns an error if action_kind
// is unregistered.
func (r *Registry) Invoke(ctx context.Context, actionKind string, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (Result, error) {
	r.mu.RLock()
	e, ok := r.entries[actionKind]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("tool: unregistered action_kind %q", actionKind)
	}
	return e.invoke(ctx, params, mode, cancel)
}

// All returns every registered descriptor, for diagnostics.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Descriptor)
	}
	return out
}
