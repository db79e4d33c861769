// Package lock implements the DomainLock manager (§3): a per-domain
// lock with an owner and expiry, consulted by the Scheduler (P7) before
// a mission may transition QUEUED -> RUNNING.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/missionctl/missionctl/internal/observability"
)

// releaseScript deletes the key only if still held by the caller, a
// Lua CAS so the check-and-delete stays atomic against a racing
// Acquire.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// renewScript extends the TTL only if still held by the caller.
const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

func keyFor(domain string) string { return "missionctl:domainlock:" + domain }

// Manager holds domain locks in Redis, the durable shared-state backend
// the rest of the stack already uses for coordination.
type Manager struct {
	client *redis.Client
}

// NewManager wraps an existing Redis client.
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// Lock is a snapshot of an active DomainLock.
type Lock struct {
	Domain      string
	LockedBy    string
	LockedUntil time.Time
	Reason      string
}

// Acquire takes the lock for domain if unheld, via SET NX EX. Expired
// locks are lazily removed by Redis's own TTL, so a stale holder simply
// loses the key (§3: "expired locks are lazily removed on next check").
// The stored value (the CAS token Renew/Release compare against) is
// lockedBy alone; reason is carried for the caller's audit trail only
// and never needs to match between Acquire and Release.
func (m *Manager) Acquire(ctx context.Context, domain, lockedBy, reason string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	ok, err := m.client.SetNX(ctx, keyFor(domain), lockedBy, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		observability.DomainLockActive.WithLabelValues(domain).Set(1)
	}
	return ok, nil
}

// Renew extends an active lock's TTL if still held by lockedBy.
func (m *Manager) Renew(ctx context.Context, domain, lockedBy string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	res, err := m.client.Eval(ctx, renewScript, []string{keyFor(domain)}, lockedBy, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	v, _ := res.(int64)
	return v == 1, nil
}

// Release drops the lock if still held by lockedBy; a no-op otherwise
// (it may have already expired or been taken over). reason is accepted
// for call-site symmetry with Acquire/the control API but, like the
// stored token itself, plays no part in the CAS comparison.
func (m *Manager) Release(ctx context.Context, domain, lockedBy, reason string) error {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	_, err := m.client.Eval(ctx, releaseScript, []string{keyFor(domain)}, lockedBy).Result()
	if err == nil {
		observability.DomainLockActive.WithLabelValues(domain).Set(0)
	}
	return err
}

// IsLocked reports whether domain currently has an active lock, the
// check the Scheduler performs before admitting a task for dispatch.
func (m *Manager) IsLocked(ctx context.Context, domain string) (bool, error) {
	_, err := m.client.Get(ctx, keyFor(domain)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
