package schedule

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter is a per-key token-bucket rate limiter (§4.3); the
// scheduler keys it by action kind.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewHostLimiter creates a limiter admitting r tokens/sec with burst b,
// per rate-limited key (typically a target host).
func NewHostLimiter(r float64, b int) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *HostLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether key may proceed immediately.
func (l *HostLimiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// Reserve is a non-blocking check. It returns (true, 0) if immediately
// allowed, consuming a token, or (false, delay) naming how long the
// caller should back off, in which case the reservation is cancelled
// and no capacity is consumed.
func (l *HostLimiter) Reserve(key string) (bool, time.Duration) {
	lim := l.limiterFor(key)
	r := lim.Reserve()
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
