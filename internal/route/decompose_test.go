package route

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestClassifyDeterministic checks P8: identical objectives always
// yield identical classifications, across arbitrary free text.
func TestClassifyDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	words := []string{
		"design", "plan", "build", "launch", "campaign", "marketing",
		"bug", "deploy", "refactor", "inventory", "vendor", "research",
		"report", "summarize", "document", "and then", "the", "quarterly",
	}

	properties.Property("Classify(x) == Classify(x) for any objective", prop.ForAll(
		func(tokens []string) bool {
			objective := ""
			for i, tok := range tokens {
				if i > 0 {
					objective += " "
				}
				objective += tok
			}
			first := Classify(objective)
			second := Classify(objective)
			return classificationsEqual(first, second)
		},
		gen.SliceOfN(6, gen.OneConstOf(toInterfaces(words)...)).Map(func(xs []interface{}) []string {
			out := make([]string, len(xs))
			for i, x := range xs {
				out[i] = x.(string)
			}
			return out
		}),
	))

	properties.Property("subgoal count never exceeds maxSubgoals", prop.ForAll(
		func(objective string) bool {
			return len(Classify(objective).Subgoals) <= maxSubgoals
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func toInterfaces(words []string) []interface{} {
	out := make([]interface{}, len(words))
	for i, w := range words {
		out[i] = w
	}
	return out
}

func classificationsEqual(a, b Classification) bool {
	if a.IsComposite != b.IsComposite || a.Domain != b.Domain {
		return false
	}
	if len(a.Subgoals) != len(b.Subgoals) {
		return false
	}
	for i := range a.Subgoals {
		if a.Subgoals[i] != b.Subgoals[i] {
			return false
		}
	}
	return true
}

func TestClassifyAtomicObjectiveSingleSubgoal(t *testing.T) {
	c := Classify("fix the login bug")
	if c.IsComposite {
		t.Fatalf("expected atomic classification, got composite: %+v", c)
	}
	if len(c.Subgoals) != 1 {
		t.Fatalf("expected exactly one subgoal, got %d", len(c.Subgoals))
	}
	if c.Domain != "engineering" {
		t.Fatalf("expected engineering domain, got %q", c.Domain)
	}
}

func TestClassifyCompositeWithSynthesisPhase(t *testing.T) {
	c := Classify("design a marketing campaign and then write up a report")
	if !c.IsComposite {
		t.Fatalf("expected composite classification")
	}
	last := c.Subgoals[len(c.Subgoals)-1]
	if last.Kind != KindSynthesis {
		t.Fatalf("expected trailing synthesis phase, got %q", last.Kind)
	}
}
