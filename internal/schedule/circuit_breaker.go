package schedule

import (
	"sync"
	"time"

	"github.com/missionctl/missionctl/internal/observability"
)

// CircuitState is the breaker's current admission posture.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "closed"
	}
}

// CircuitBreaker protects the scheduler from admitting more work than
// the pool can dispatch when the queue is deep or workers saturated.
type CircuitBreaker struct {
	mu sync.RWMutex

	state CircuitState

	queueThreshold      int
	saturationThreshold float64
	cooldownPeriod      time.Duration

	openedAt  time.Time
	testCount int
	testLimit int
}

// NewCircuitBreaker constructs a breaker that opens once queueDepth
// exceeds queueThreshold.
func NewCircuitBreaker(queueThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		state:               CircuitClosed,
		queueThreshold:      queueThreshold,
		saturationThreshold: 0.95,
		cooldownPeriod:      30 * time.Second,
		testLimit:           5,
	}
}

// ShouldAdmit reports whether a new task should be accepted given the
// current queue depth and worker saturation ratio.
func (cb *CircuitBreaker) ShouldAdmit(queueDepth int, workerSaturation float64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) > cb.cooldownPeriod {
		cb.state = CircuitHalfOpen
		cb.testCount = 0
	}

	if cb.state == CircuitHalfOpen {
		if cb.testCount < cb.testLimit {
			cb.testCount++
			cb.setMetric()
			return true
		}
		if queueDepth < cb.queueThreshold/2 && workerSaturation < cb.saturationThreshold {
			cb.state = CircuitClosed
		}
		cb.setMetric()
		return cb.state == CircuitClosed
	}

	if queueDepth > cb.queueThreshold || workerSaturation > cb.saturationThreshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.setMetric()
		return false
	}

	cb.setMetric()
	return cb.state == CircuitClosed
}

// RecordSuccess notifies the breaker of a successful dispatch outcome,
// used during half-open testing to decide whether to close.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.testCount >= cb.testLimit {
		cb.state = CircuitClosed
	}
	cb.setMetric()
}

// RecordFailure re-opens the breaker if a half-open test task fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.testCount = 0
	}
	cb.setMetric()
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// setMetric must be called with cb.mu held.
func (cb *CircuitBreaker) setMetric() {
	for _, st := range []CircuitState{CircuitClosed, CircuitHalfOpen, CircuitOpen} {
		v := 0.0
		if st == cb.state {
			v = 1
		}
		observability.CircuitState.WithLabelValues(st.String()).Set(v)
	}
}
