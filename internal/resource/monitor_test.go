package resource

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestNextThresholdBounded verifies P4: the hysteretic threshold never
// escapes its five-level range regardless of previous state or sampled
// utilization, and escalation to EMERGENCY is immediate (no hysteresis
// delay on the way up).
func TestNextThresholdBounded(t *testing.T) {
	m := &Monitor{}
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("result stays within [NORMAL, EMERGENCY]", prop.ForAll(
		func(prevInt int, used float64) bool {
			prev := Threshold(prevInt % 5)
			next := m.nextThreshold(prev, used)
			return next >= ThresholdNormal && next <= ThresholdEmergency
		},
		gen.IntRange(0, 4),
		gen.Float64Range(0, 1),
	))

	properties.Property("used >= 0.95 always escalates immediately to EMERGENCY", prop.ForAll(
		func(prevInt int) bool {
			prev := Threshold(prevInt % 5)
			return m.nextThreshold(prev, 0.95) == ThresholdEmergency
		},
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func TestNextThresholdHysteresisBlocksImmediateDeescalation(t *testing.T) {
	m := &Monitor{}
	// Escalate to ALERT, then drop just under the ALERT trigger but not
	// past the hysteresis margin: should stay at ALERT.
	got := m.nextThreshold(ThresholdAlert, thresholdTriggers[ThresholdAlert]-0.01)
	if got != ThresholdAlert {
		t.Fatalf("expected hysteresis to hold at ALERT, got %v", got)
	}
	// Drop past the margin: should de-escalate.
	got = m.nextThreshold(ThresholdAlert, thresholdTriggers[ThresholdAlert]-hysteresisMargin-0.01)
	if got == ThresholdAlert {
		t.Fatalf("expected de-escalation past hysteresis margin, stayed at ALERT")
	}
}

func TestSafeWorkerCountDefaultsToOneBeforeFirstSample(t *testing.T) {
	m := NewMonitor(400, nil)
	if got := m.SafeWorkerCount(); got != 1 {
		t.Fatalf("expected conservative default of 1, got %d", got)
	}
}
