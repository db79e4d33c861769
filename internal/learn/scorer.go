// Package learn implements the Learning Bus's Scorer (§4.6): it
// aggregates per-(tool, domain) outcome statistics and derives a
// usefulness score in [0,1] that biases future router/scheduler
// decisions, plus human feedback and survey nudges.
package learn

import (
	"sync"
	"time"

	"github.com/missionctl/missionctl/internal/observability"
)

const globalDomain = "_global"

// maxFailureModes bounds the recent-failure deque per profile, the same
// bounded-history discipline the rest of the stack applies to unbounded
// accumulation (pending writes, local caches).
const maxFailureModes = 10

// Verdict is a FeedbackRecord's polarity.
type Verdict string

const (
	VerdictPositive  Verdict = "POSITIVE"
	VerdictNegative  Verdict = "NEGATIVE"
	VerdictCorrection Verdict = "CORRECTION"
)

// Action is the effect a FeedbackRecord requests.
type Action string

const (
	ActionBoost     Action = "BOOST"
	ActionPenalize  Action = "PENALIZE"
	ActionConstrain Action = "CONSTRAIN"
	ActionReplace   Action = "REPLACE"
)

// HardConstraint, when set on a FeedbackRecord, forces the pair's score
// to zero regardless of recorded outcomes.
const HardConstraintNeverUse = "NEVER_USE"

// FeedbackRecord is human-provided signal applied to a (tool, domain)
// pair's ToolProfile.
type FeedbackRecord struct {
	FeedbackID     string
	ToolName       string
	Domain         string
	Verdict        Verdict
	Action         Action
	Impact         float64 // multiplier in [0,2]
	HardConstraint string
	Reason         string
	Timestamp      time.Time
}

// ToolProfile is per-(tool, domain) statistics.
type ToolProfile struct {
	TotalCalls     int
	SuccessfulCalls int
	FailedCalls    int
	FailureModes   []string // bounded deque, most recent last
	AvgLatencyMS   float64
	UsefulnessScore float64

	hardConstraint string  // HardConstraintNeverUse or ""
	feedbackMultiplier float64 // cumulative, defaults to 1
	surveyApplied  map[string]bool // mission_id -> nudge already applied
}

func newProfile() *ToolProfile {
	return &ToolProfile{feedbackMultiplier: 1, surveyApplied: make(map[string]bool)}
}

// key identifies a (tool, domain) pair.
type key struct{ tool, domain string }

// Scorer is safe for concurrent use. A single mutex guards every
// profile, so updates to the same (tool, domain) pair are serialized;
// updates to distinct pairs are serialized as well and do not run in
// parallel.
type Scorer struct {
	mu       sync.Mutex
	profiles map[key]*ToolProfile
	// dedup: event ids already applied, for P9 idempotence.
	appliedEvents map[string]bool
	importanceThreshold float64
}

// NewScorer constructs an empty Scorer. importanceThreshold discards
// learning signals below that magnitude (policy's importance_threshold).
func NewScorer(importanceThreshold float64) *Scorer {
	return &Scorer{
		profiles:            make(map[key]*ToolProfile),
		appliedEvents:       make(map[string]bool),
		importanceThreshold: importanceThreshold,
	}
}

func (s *Scorer) profile(k key) *ToolProfile {
	p, ok := s.profiles[k]
	if !ok {
		p = newProfile()
		s.profiles[k] = p
	}
	return p
}

// RecordOutcome updates both the specific (tool, domain) profile and
// the _global aggregate atomically. eventID, when non-empty, dedupes
// repeat application (P9).
func (s *Scorer) RecordOutcome(eventID, tool, domain string, success bool, latencyMS float64, failureMode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eventID != "" {
		if s.appliedEvents[eventID] {
			return
		}
		s.appliedEvents[eventID] = true
	}

	for _, d := range []string{domain, globalDomain} {
		p := s.profile(key{tool, d})
		p.TotalCalls++
		if success {
			p.SuccessfulCalls++
		} else {
			p.FailedCalls++
			if failureMode != "" {
				p.FailureModes = append(p.FailureModes, failureMode)
				if len(p.FailureModes) > maxFailureModes {
					p.FailureModes = p.FailureModes[len(p.FailureModes)-maxFailureModes:]
				}
			}
		}
		if p.TotalCalls == 1 {
			p.AvgLatencyMS = latencyMS
		} else {
			p.AvgLatencyMS += (latencyMS - p.AvgLatencyMS) / float64(p.TotalCalls)
		}
		p.UsefulnessScore = compute(p)
		observability.ScorerUsefulness.WithLabelValues(tool, d).Set(p.UsefulnessScore)
	}
}

// compute applies the deterministic formula (§4.6): base success rate
// shrunk toward a 0.5 prior for low sample counts, scaled by any
// feedback multiplier, forced to 0 under a hard constraint.
func compute(p *ToolProfile) float64 {
	if p.hardConstraint == HardConstraintNeverUse {
		return 0
	}
	if p.TotalCalls == 0 {
		return 0.5 * p.feedbackMultiplier
	}
	successRate := float64(p.SuccessfulCalls) / float64(p.TotalCalls)
	shrinkage := minF(1, float64(p.TotalCalls)/10)
	score := shrinkage*successRate + (1-shrinkage)*0.5
	score *= p.feedbackMultiplier
	return clamp01(score)
}

// Usefulness returns the domain-specific usefulness if the profile has
// at least one recorded call, else the _global usefulness.
func (s *Scorer) Usefulness(tool, domain string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[key{tool, domain}]; ok && p.TotalCalls >= 1 {
		return p.UsefulnessScore
	}
	if p, ok := s.profiles[key{tool, globalDomain}]; ok {
		return p.UsefulnessScore
	}
	return 0.5
}

// Blocked reports whether a NEVER_USE hard constraint is in force for
// tool, checking the domain-specific profile before the _global one.
func (s *Scorer) Blocked(tool, domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[key{tool, domain}]; ok && p.hardConstraint == HardConstraintNeverUse {
		return true
	}
	if p, ok := s.profiles[key{tool, globalDomain}]; ok && p.hardConstraint == HardConstraintNeverUse {
		return true
	}
	return false
}

// ApplyFeedback applies a FeedbackRecord to its (tool, domain) pair. A
// NEVER_USE hard constraint forces the score to 0 until explicitly
// cleared by a subsequent REPLACE feedback. A signal whose impact
// doesn't diverge from neutral (1.0) by at least importanceThreshold
// is discarded (§6 "learning signals below this are discarded"); hard
// constraints and REPLACE always apply regardless of magnitude.
func (s *Scorer) ApplyFeedback(f FeedbackRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	impact := f.Impact
	if impact == 0 {
		impact = 1
	}

	structural := f.HardConstraint == HardConstraintNeverUse || f.Action == ActionReplace
	if !structural && absF(impact-1) < s.importanceThreshold {
		return
	}

	p := s.profile(key{f.ToolName, f.Domain})
	if f.HardConstraint == HardConstraintNeverUse {
		p.hardConstraint = HardConstraintNeverUse
	} else if f.Action == ActionReplace {
		p.hardConstraint = ""
	}

	switch f.Verdict {
	case VerdictNegative:
		p.feedbackMultiplier *= clampMultiplier(impact)
	case VerdictPositive:
		p.feedbackMultiplier *= clampMultiplier(impact)
	case VerdictCorrection:
		p.feedbackMultiplier = clampMultiplier(impact)
	}

	p.UsefulnessScore = compute(p)
	observability.ScorerUsefulness.WithLabelValues(f.ToolName, f.Domain).Set(p.UsefulnessScore)
	observability.FeedbackApplied.WithLabelValues(f.ToolName, f.Domain, string(f.Verdict)).Inc()
}

// ApplySurvey applies the once-per-mission rating nudge (§4.6): rating
// >= 8 is +0.05, rating <= 5 is -0.10, otherwise no change. missionID
// guards against double-application for the same mission.
func (s *Scorer) ApplySurvey(tool, domain, missionID string, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profile(key{tool, domain})
	if p.surveyApplied[missionID] {
		return
	}
	p.surveyApplied[missionID] = true

	switch {
	case rating >= 8:
		p.UsefulnessScore = clamp01(p.UsefulnessScore + 0.05)
	case rating <= 5:
		p.UsefulnessScore = clamp01(p.UsefulnessScore - 0.10)
	}
	observability.ScorerUsefulness.WithLabelValues(tool, domain).Set(p.UsefulnessScore)
}

// Snapshot returns a copy of a (tool, domain) profile, or nil if none
// recorded yet.
func (s *Scorer) Snapshot(tool, domain string) *ToolProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[key{tool, domain}]
	if !ok {
		return nil
	}
	cp := *p
	cp.FailureModes = append([]string(nil), p.FailureModes...)
	return &cp
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampMultiplier(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}
