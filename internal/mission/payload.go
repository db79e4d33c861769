package mission

// Payload keys used by event producers (Decomposer, Scheduler,
// Controller) and consumed by applyProjection below. Keeping them as
// named constants avoids typo drift between producer and projector.
const (
	PayloadObjective     = "objective"
	PayloadOwner         = "owner"
	PayloadMode          = "mode"
	PayloadStatus        = "status"
	PayloadFinalStatus   = "final_status"
	PayloadTaskID        = "task_id"
	PayloadActionKind    = "action_kind"
	PayloadDependsOn     = "depends_on"
	PayloadRiskLevel     = "risk_level"
	PayloadMaxAttempts   = "max_attempts"
	PayloadWorkerID      = "worker_id"
	PayloadAttemptCount  = "attempt_count"
	PayloadResultHandle  = "result_handle"
	PayloadReason        = "reason"
	PayloadProgress      = "progress_percent"
	PayloadRequestID     = "request_id"
	PayloadAction        = "action"
	PayloadDomain        = "domain"
	PayloadPolicyOverrides = "policy_overrides"
	PayloadPriority        = "priority"
)

func strField(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func intField(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
