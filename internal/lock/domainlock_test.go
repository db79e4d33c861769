package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManager(client), srv
}

func TestAcquireRejectsWhileHeld(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "marketing", "op-1", "campaign launch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v, want true, nil", ok, err)
	}

	ok, err = m.Acquire(ctx, "marketing", "op-2", "unrelated", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}
	if ok {
		t.Fatal("second Acquire succeeded while domain already held")
	}
}

// TestReleaseSucceedsWithDifferentReason is P7: a DomainLock taken with
// one reason must still release cleanly when UNLOCK_DOMAIN supplies a
// different reason string, since reason is never part of the token.
func TestReleaseSucceedsWithDifferentReason(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()

	if ok, err := m.Acquire(ctx, "marketing", "op-1", "campaign launch", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}

	if err := m.Release(ctx, "marketing", "op-1", "unrelated shutdown reason"); err != nil {
		t.Fatalf("Release with mismatched reason: %v", err)
	}

	locked, err := m.IsLocked(ctx, "marketing")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("lock still held after Release, reason mismatch incorrectly blocked the CAS")
	}
	if srv.Exists(keyFor("marketing")) {
		t.Fatal("domain lock key still present in Redis after Release")
	}
}

func TestReleaseNoopWhenHeldBySomeoneElse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if ok, err := m.Acquire(ctx, "marketing", "op-1", "campaign launch", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}

	if err := m.Release(ctx, "marketing", "op-2", "campaign launch"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	locked, err := m.IsLocked(ctx, "marketing")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("a non-holder's Release removed someone else's lock")
	}
}

func TestRenewExtendsTTLOnlyForHolder(t *testing.T) {
	m, srv := newTestManager(t)
	ctx := context.Background()

	if ok, err := m.Acquire(ctx, "marketing", "op-1", "campaign launch", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}

	ok, err := m.Renew(ctx, "marketing", "op-2", 2*time.Minute)
	if err != nil {
		t.Fatalf("Renew by non-holder error: %v", err)
	}
	if ok {
		t.Fatal("Renew by non-holder reported success")
	}

	ok, err = m.Renew(ctx, "marketing", "op-1", 2*time.Minute)
	if err != nil || !ok {
		t.Fatalf("Renew by holder = %v, %v, want true, nil", ok, err)
	}
	srv.FastForward(90 * time.Second)
	locked, err := m.IsLocked(ctx, "marketing")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("lock expired despite Renew extending the TTL past the fast-forwarded interval")
	}
}
