package apiserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/mission"
	"github.com/missionctl/missionctl/internal/route"
	"github.com/missionctl/missionctl/internal/schedule"
)

// actionKindFor maps a Subgoal's ordering-heuristic Kind to the
// action_kind a Task is materialized with. The Decomposer itself stays
// a pure classifier (§4.2); turning its Subgoals into dispatchable
// Tasks with concrete action_kinds is mission intake's job, done here
// at the one boundary where a chat turn becomes a Mission.
var actionKindFor = map[route.SubgoalKind]string{
	route.KindResearch:  "web_search",
	route.KindAnalysis:  "web_extract",
	route.KindStrategy:  "web_navigate",
	route.KindSynthesis: "document_write",
	route.KindGeneral:   "web_navigate",
}

// missionMode resolves the mode a new mission starts in: an explicit,
// validated request field wins; absent that it falls back to the live
// policy's default_mission_mode, or config.DefaultPolicy's MOCK if no
// PolicyStore is wired.
func (s *Server) missionMode(requested string) mission.ExecutionMode {
	if requested != "" {
		return mission.ExecutionMode(requested)
	}
	def := config.DefaultPolicy().DefaultMissionMode
	if s.policy != nil {
		def = s.policy.Current().DefaultMissionMode
	}
	if def == "" {
		def = string(mission.ModeMock)
	}
	return mission.ExecutionMode(def)
}

// handleChat implements POST /chat (§6): classify the objective,
// materialize it into a Mission and its Tasks, submit the tasks to the
// scheduler, and return a ResponseEnvelope.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.chatLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "chat_rate_limited")
		return
	}

	var req ChatRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeErrForKind(w, err)
		return
	}

	classification := route.Classify(req.Text)

	missionID, err := s.store.CreateMission(r.Context(), req.Text, req.SessionID, s.missionMode(req.Mode))
	if err != nil {
		s.writeErrForKind(w, err)
		return
	}

	// Composite decomposition's phases are already ordered by
	// route.Classify (research -> analysis -> strategy -> synthesis);
	// each phase depends on every task materialized by the phases
	// before it, so e.g. synthesis can't dispatch ahead of research.
	var priorTaskIDs []string
	for _, sg := range classification.Subgoals {
		taskID := uuid.NewString()
		var dependsOn []string
		if classification.IsComposite && len(priorTaskIDs) > 0 {
			dependsOn = append(dependsOn, priorTaskIDs...)
		}
		task := &mission.Task{
			TaskID:      taskID,
			MissionID:   missionID,
			ActionKind:  actionKindFor[sg.Kind],
			Status:      mission.TaskPending,
			RiskLevel:   mission.RiskLow,
			MaxAttempts: 3,
			DependsOn:   dependsOn,
		}
		if err := s.store.PutTask(r.Context(), task); err != nil {
			s.writeErrForKind(w, err)
			return
		}
		if _, err := s.store.AppendEvent(r.Context(), missionID, mission.EventTaskScheduled, map[string]any{
			mission.PayloadTaskID:      taskID,
			mission.PayloadActionKind:  task.ActionKind,
			mission.PayloadRiskLevel:   string(task.RiskLevel),
			mission.PayloadMaxAttempts: task.MaxAttempts,
			mission.PayloadDependsOn:   task.DependsOn,
		}); err != nil {
			s.writeErrForKind(w, err)
			return
		}
		priorTaskIDs = append(priorTaskIDs, taskID)

		if s.scheduler != nil {
			if err := s.scheduler.Submit(&schedule.QueuedTask{
				Task:       task,
				MissionID:  missionID,
				Domain:     classification.Domain,
				Priority:   mission.PriorityNormal,
				SubmitTime: time.Now(),
			}); err != nil && s.log != nil {
				s.log.Warn("chat: scheduler submit failed", zap.Error(err))
			}
		}
	}

	env := ResponseEnvelope{
		Summary:         "mission created: " + missionID,
		MissionsSpawned: []string{missionID},
		Artifacts:       []string{},
	}
	if s.hub != nil {
		env.LiveStreamID = missionID
	}
	writeJSON(w, http.StatusOK, env)
}
