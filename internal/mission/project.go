package mission

// applyProjection mutates m (and the task set) in place to reflect ev.
// It is the single place that translates the append-only log into the
// materialized view, so it is used both on the live append path and
// when rebuilding a projection from scratch during replay (P10).
func applyProjection(m *Mission, tasks map[string]*Task, ev Event) {
	switch ev.EventKind {
	case EventMissionStart:
		m.ObjectiveText = strField(ev.Payload, PayloadObjective)
		m.OwnerID = strField(ev.Payload, PayloadOwner)
		if mode := strField(ev.Payload, PayloadMode); mode != "" {
			m.ExecutionMode = ExecutionMode(mode)
		}
		m.Status = StatusProposed

	case EventStatusChange:
		if s := strField(ev.Payload, PayloadStatus); s != "" {
			m.Status = Status(s)
		}
		if p := strField(ev.Payload, PayloadPriority); p != "" {
			m.Priority = Priority(p)
		}
		if overrides, ok := ev.Payload[PayloadPolicyOverrides].(map[string]string); ok {
			if m.PolicyOverrides == nil {
				m.PolicyOverrides = map[string]string{}
			}
			for k, v := range overrides {
				m.PolicyOverrides[k] = v
			}
		}

	case EventTaskScheduled:
		taskID := strField(ev.Payload, PayloadTaskID)
		t := tasks[taskID]
		if t == nil {
			t = &Task{TaskID: taskID, MissionID: m.MissionID}
			tasks[taskID] = t
		}
		t.ActionKind = strField(ev.Payload, PayloadActionKind)
		if rl := strField(ev.Payload, PayloadRiskLevel); rl != "" {
			t.RiskLevel = RiskLevel(rl)
		}
		if ma := intField(ev.Payload, PayloadMaxAttempts); ma > 0 {
			t.MaxAttempts = ma
		}
		if deps, ok := ev.Payload[PayloadDependsOn].([]string); ok {
			t.DependsOn = deps
		}
		t.Status = TaskPending
		t.ScheduledStart = ev.Timestamp

	case EventTaskStarted:
		if t := tasks[strField(ev.Payload, PayloadTaskID)]; t != nil {
			t.Status = TaskExecuting
			t.AssignedWorkerID = strField(ev.Payload, PayloadWorkerID)
			t.ObservedStart = ev.Timestamp
		}
		if m.Status == StatusQueued || m.Status == StatusApproved {
			m.Status = StatusRunning
		}

	case EventTaskAttempt:
		if t := tasks[strField(ev.Payload, PayloadTaskID)]; t != nil {
			t.AttemptCount = intField(ev.Payload, PayloadAttemptCount)
			t.Status = TaskRetrying
		}

	case EventTaskCompleted:
		if t := tasks[strField(ev.Payload, PayloadTaskID)]; t != nil {
			t.Status = TaskCompleted
			t.ResultHandle = strField(ev.Payload, PayloadResultHandle)
			t.ObservedEnd = ev.Timestamp
		}

	case EventTaskFailed:
		if t := tasks[strField(ev.Payload, PayloadTaskID)]; t != nil {
			t.Status = TaskFailed
			t.ObservedEnd = ev.Timestamp
		}

	case EventProgress:
		m.ProgressPercent = intField(ev.Payload, PayloadProgress)

	case EventMissionStop:
		if fs := strField(ev.Payload, PayloadFinalStatus); fs != "" {
			m.Status = Status(fs)
		} else {
			m.Status = StatusCompleted
		}
		m.ProgressPercent = 100

	case EventRollback:
		if t := tasks[strField(ev.Payload, PayloadTaskID)]; t != nil {
			t.Status = TaskRolledBack
		}

	case EventControlExecuted:
		action := strField(ev.Payload, PayloadAction)
		switch action {
		case "KILL_MISSION":
			// P6: kill is terminal — a KILL_MISSION event can never
			// revive or re-flip a mission that already reached a
			// terminal status (including a prior KILL).
			if !m.Status.Terminal() {
				m.Status = StatusKilled
			}
		case "PAUSE_MISSION":
			if !m.Status.Terminal() {
				m.Status = StatusPaused
			}
		case "RESUME_MISSION":
			if m.Status == StatusPaused {
				m.Status = StatusRunning
			}
		case "PROMOTE_FORECAST":
			if mode := strField(ev.Payload, PayloadMode); mode != "" {
				m.ExecutionMode = ExecutionMode(mode)
			}
		}
	}
	m.Version++
}
