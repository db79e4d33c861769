// Package resource implements the Resource Monitor (§4.4): it samples
// system memory and publishes a conservative safe_worker_count signal,
// with hysteretic SLOW/THROTTLE/ALERT/EMERGENCY thresholds.
package resource

import (
	"sync"
	"time"

	"github.com/pbnjay/memory"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/observability"
)

// Threshold is the current resource pressure level.
type Threshold int

const (
	ThresholdNormal Threshold = iota
	ThresholdSlow
	ThresholdThrottle
	ThresholdAlert
	ThresholdEmergency
)

func (t Threshold) String() string {
	switch t {
	case ThresholdSlow:
		return "SLOW"
	case ThresholdThrottle:
		return "THROTTLE"
	case ThresholdAlert:
		return "ALERT"
	case ThresholdEmergency:
		return "EMERGENCY"
	default:
		return "NORMAL"
	}
}

// thresholdTriggers maps a Threshold to the memory-utilization fraction
// that triggers it; re-entry (de-escalation) requires falling 5 points
// below the trigger (§4.4 hysteresis).
var thresholdTriggers = map[Threshold]float64{
	ThresholdSlow:      0.80,
	ThresholdThrottle:  0.85,
	ThresholdAlert:     0.90,
	ThresholdEmergency: 0.95,
}

const hysteresisMargin = 0.05

// sampleInterval is how often memory is sampled (§4.4).
const sampleInterval = 10 * time.Second

// staleReadingGrace is how long a stale reading is tolerated before the
// monitor conservatively collapses safe_worker_count to 1 (§4.4 failure
// semantics).
const staleReadingGrace = 60 * time.Second

// Monitor samples memory headroom and derives safe_worker_count.
type Monitor struct {
	mu              sync.RWMutex
	perWorkerBudget uint64 // bytes
	safeWorkerCount int
	threshold       Threshold
	lastGoodAt      time.Time
	lastGoodFree    uint64
	lastGoodTotal   uint64
	log             *zap.Logger
	stopCh          chan struct{}
}

// NewMonitor constructs a Monitor. perWorkerBudgetMiB defaults to 400
// per the configuration contract.
func NewMonitor(perWorkerBudgetMiB int, log *zap.Logger) *Monitor {
	if perWorkerBudgetMiB <= 0 {
		perWorkerBudgetMiB = 400
	}
	return &Monitor{
		perWorkerBudget: uint64(perWorkerBudgetMiB) * 1024 * 1024,
		safeWorkerCount: 1,
		log:             log,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the periodic sampling loop. Call Stop to end it.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		m.sample()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends the sampling loop.
func (m *Monitor) Stop() { close(m.stopCh) }

func (m *Monitor) sample() {
	total := memory.TotalMemory()
	free := memory.FreeMemory()

	now := time.Now()
	if total == 0 {
		// Read failure: fall back to the last known good reading for up
		// to staleReadingGrace, then collapse to 1 (§4.4).
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.lastGoodAt.IsZero() || now.Sub(m.lastGoodAt) > staleReadingGrace {
			m.safeWorkerCount = 1
			m.log.Warn("memory read failed and stale grace exceeded, collapsing safe_worker_count to 1")
		}
		observability.SafeWorkerCount.Set(float64(m.safeWorkerCount))
		return
	}

	used := float64(total-free) / float64(total)
	availableForWorkers := uint64(0.8 * float64(free))
	safe := int(availableForWorkers / m.perWorkerBudget)
	if safe < 0 {
		safe = 0
	}

	m.mu.Lock()
	prev := m.threshold
	next := m.nextThreshold(prev, used)
	m.threshold = next
	m.safeWorkerCount = safe
	m.lastGoodAt = now
	m.lastGoodFree = free
	m.lastGoodTotal = total
	m.mu.Unlock()

	observability.SafeWorkerCount.Set(float64(safe))
	observability.MemoryUtilization.Set(used)
	observability.ResourceThreshold.Set(float64(next))

	if next != prev {
		m.log.Info("resource threshold changed",
			zap.String("from", prev.String()), zap.String("to", next.String()),
			zap.Float64("memory_used_fraction", used))
	}
	if next == ThresholdEmergency {
		m.log.Error("resource monitor in EMERGENCY, pool should drain half")
	}
}

// nextThreshold applies hysteresis: escalation fires at the trigger
// fraction; de-escalation requires dropping hysteresisMargin below it.
func (m *Monitor) nextThreshold(prev Threshold, used float64) Threshold {
	candidate := ThresholdNormal
	for lvl := ThresholdEmergency; lvl >= ThresholdSlow; lvl-- {
		if used >= thresholdTriggers[lvl] {
			candidate = lvl
			break
		}
	}
	if candidate >= prev {
		return candidate
	}
	// De-escalating: only drop a level if used has fallen at least
	// hysteresisMargin below prev's trigger.
	if used <= thresholdTriggers[prev]-hysteresisMargin {
		return candidate
	}
	return prev
}

// SafeWorkerCount returns the current advisory safe worker count.
func (m *Monitor) SafeWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.safeWorkerCount
}

// CurrentThreshold returns the current hysteretic threshold.
func (m *Monitor) CurrentThreshold() Threshold {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold
}

// PoolMayGrow reports whether the pool is permitted to grow (false at
// SLOW and above).
func (m *Monitor) PoolMayGrow() bool {
	return m.CurrentThreshold() < ThresholdSlow
}

// AcceptingNewTasks reports whether new task dispatch is permitted
// (false at THROTTLE and above).
func (m *Monitor) AcceptingNewTasks() bool {
	return m.CurrentThreshold() < ThresholdThrottle
}

// ShouldDrainHalf reports EMERGENCY-level pressure.
func (m *Monitor) ShouldDrainHalf() bool {
	return m.CurrentThreshold() == ThresholdEmergency
}
