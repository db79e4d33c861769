// Package route implements the Decomposer & Router (§4.2): converting
// a free-text objective into Tasks, and choosing a LOCAL or CLOUD lane
// for each.
package route

import (
	"strings"

	"github.com/missionctl/missionctl/internal/mission"
)

// maxSubgoals is the Decomposer's hard cap. It is a constant equal to
// config.DefaultPolicy().MaxSubgoals; the policy value is not read here.
const maxSubgoals = 4

// SubgoalKind is an ordering heuristic hint, not a scheduling input.
type SubgoalKind string

const (
	KindResearch  SubgoalKind = "research"
	KindAnalysis  SubgoalKind = "analysis"
	KindStrategy  SubgoalKind = "strategy"
	KindSynthesis SubgoalKind = "synthesis"
	KindGeneral   SubgoalKind = "general"
)

// Subgoal is one ordered step of a composite objective.
type Subgoal struct {
	Text   string
	Kind   SubgoalKind
	Domain mission.Domain
}

// Classification is the Decomposer's verdict on an objective.
type Classification struct {
	IsComposite bool
	Domain      mission.Domain
	Subgoals    []Subgoal
}

// domainKeywords is the closed keyword vocabulary (§4.2: "deterministic
// keyword/pattern classification over a closed vocabulary"). Order
// matters only for tie-break determinism; the first matching domain
// wins.
var domainKeywords = []struct {
	domain   mission.Domain
	keywords []string
}{
	{mission.DomainMarketing, []string{"campaign", "marketing", "brand", "audience", "advertis"}},
	{mission.DomainEngineering, []string{"bug", "deploy", "code", "refactor", "build", "api", "database"}},
	{mission.DomainOperations, []string{"inventory", "schedule", "logistics", "vendor", "compliance"}},
	{mission.DomainResearch, []string{"research", "extract", "analyze", "survey", "compare", "report"}},
}

// compositeMarkers are phrases signaling a multi-step objective.
var compositeMarkers = []string{"design", "plan", "build", "launch", "develop", " and then", " then "}

// Classify is a pure function: identical objectives always yield
// identical classifications (P8).
func Classify(objective string) Classification {
	lower := strings.ToLower(objective)

	domain := mission.DomainUnknown
	for _, dk := range domainKeywords {
		for _, kw := range dk.keywords {
			if strings.Contains(lower, kw) {
				domain = dk.domain
				break
			}
		}
		if domain != mission.DomainUnknown {
			break
		}
	}

	isComposite := false
	for _, marker := range compositeMarkers {
		if strings.Contains(lower, marker) {
			isComposite = true
			break
		}
	}

	if !isComposite {
		return Classification{
			IsComposite: false,
			Domain:      domain,
			Subgoals:    []Subgoal{{Text: objective, Kind: KindGeneral, Domain: domain}},
		}
	}

	// Single-level decomposition into canonical phases; no recursion.
	// The synthesis phase is only added when the objective itself asks
	// for a deliverable to be written up (report/summary/document),
	// keeping the common "design/plan X" case at its natural 3 phases.
	phases := []SubgoalKind{KindResearch, KindAnalysis, KindStrategy}
	for _, marker := range []string{"report", "summar", "document", "write up"} {
		if strings.Contains(lower, marker) {
			phases = append(phases, KindSynthesis)
			break
		}
	}
	n := len(phases)
	if n > maxSubgoals {
		n = maxSubgoals
	}
	subgoals := make([]Subgoal, 0, n)
	for i := 0; i < n; i++ {
		subgoals = append(subgoals, Subgoal{
			Text:   objective,
			Kind:   phases[i],
			Domain: domain,
		})
	}

	return Classification{IsComposite: true, Domain: domain, Subgoals: subgoals}
}
