package schedule

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBackoffForBounded verifies P3: retry backoff never exceeds the
// configured cap, and is monotonically non-decreasing in attempt number.
func TestBackoffForBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff never exceeds the cap", prop.ForAll(
		func(attempt int) bool {
			return BackoffFor(attempt) <= retryBackoffCap
		},
		gen.IntRange(-10, 1000),
	))

	properties.Property("backoff is monotonically non-decreasing", prop.ForAll(
		func(attempt int) bool {
			if attempt < 1 {
				return true
			}
			return BackoffFor(attempt) >= BackoffFor(attempt-1)
		},
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestBackoffForKnownAttempts(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, retryBackoffCap},
		{100, retryBackoffCap},
	}
	for _, c := range cases {
		if got := BackoffFor(c.attempt); got != c.want {
			t.Errorf("BackoffFor(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
