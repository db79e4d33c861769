package main

import (
	"context"
	"time"

	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/tool"
)

// registerTools builds the closed tool registry (§9: no dynamic tool
// loading). The concrete web-automation and document-generation
// implementations are opaque external collaborators (§1 Non-goals);
// these registrations are thin stand-ins that satisfy the Invoker
// contract so the Execution Controller and Router have something real
// to dispatch against end to end.
func registerTools() *tool.Registry {
	r := tool.NewRegistry()

	r.Register(tool.Descriptor{
		ActionKind:    "web_search",
		RiskLevel:     mission.RiskLow,
		Reversible:    true,
		RequiresAPI:   true,
		ConflictClass: tool.ConflictRateLimit,
		TaskClass:     "web_search",
	}, stubInvoker("search_result"))

	r.Register(tool.Descriptor{
		ActionKind:    "web_extract",
		RiskLevel:     mission.RiskLow,
		Reversible:    true,
		RequiresAPI:   false,
		ConflictClass: tool.ConflictResource,
		TaskClass:     "web_extract",
	}, stubInvoker("extracted_page"))

	r.Register(tool.Descriptor{
		ActionKind:    "web_navigate",
		RiskLevel:     mission.RiskMedium,
		Reversible:    false,
		RequiresAPI:   false,
		ConflictClass: tool.ConflictOrdering,
		TaskClass:     "web_navigate",
	}, stubInvoker("navigation_complete"))

	r.Register(tool.Descriptor{
		ActionKind:    "document_write",
		RiskLevel:     mission.RiskLow,
		Reversible:    true,
		RequiresAPI:   true,
		ConflictClass: tool.ConflictNone,
		TaskClass:     "document_write",
	}, stubInvoker("document_handle"))

	r.Freeze()
	return r
}

// stubInvoker returns an Invoker that succeeds immediately, standing in
// for an out-of-process tool implementation (§1 Non-goals: "the
// specific web-automation tool implementations" are deliberately out
// of scope).
func stubInvoker(resultHandle string) tool.Invoker {
	return func(ctx context.Context, params map[string]any, mode mission.ExecutionMode, cancel <-chan struct{}) (tool.Result, error) {
		select {
		case <-cancel:
			return tool.Result{Outcome: tool.OutcomeNonRetryable, FailureMode: "cancelled"}, nil
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		default:
		}
		return tool.Result{Outcome: tool.OutcomeSuccess, ResultHandle: resultHandle}, nil
	}
}

// launchWorker and probeWorker are the Worker Pool's pluggable hooks
// for spawning and health-checking a browser worker process; the
// actual browser driver is, like the tools above, an opaque external
// collaborator. These stand-ins always succeed so the pool's
// checkout/health-probe/drain machinery runs against real (if inert)
// worker slots.
func launchWorker(ctx context.Context, id string) error {
	return nil
}

func probeWorker(ctx context.Context, workerID string) bool {
	_ = time.Now
	return true
}
