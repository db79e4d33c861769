package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreGetMissBeforeSet(t *testing.T) {
	s := NewStore(nil, nil)
	if _, ok := s.Get(context.Background(), "unseen-key"); ok {
		t.Fatalf("expected miss for a key never Set")
	}
}

func TestStoreSetThenGetReplaysSameResponse(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	want := Response{StatusCode: 201, Body: []byte(`{"mission_id":"m-1"}`)}
	s.Set(ctx, "req-1", want)

	got, ok := s.Get(ctx, "req-1")
	if !ok {
		t.Fatalf("expected hit after Set")
	}
	if got.StatusCode != want.StatusCode || string(got.Body) != string(want.Body) {
		t.Fatalf("replayed response diverged: got %+v, want %+v", got, want)
	}
}

func TestStoreFallsThroughToMemoryWhenBackendFails(t *testing.T) {
	s := NewStore(failingBackend{}, nil)
	ctx := context.Background()

	want := Response{StatusCode: 200, Body: []byte("ok")}
	s.Set(ctx, "req-2", want)

	got, ok := s.Get(ctx, "req-2")
	if !ok {
		t.Fatalf("expected in-memory fallback hit despite backend failure")
	}
	if got.StatusCode != want.StatusCode {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// failingBackend simulates a Redis outage: every call errors, forcing
// the Store onto its in-memory fallback path.
type failingBackend struct{}

func (failingBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errors.New("backend unavailable")
}

func (failingBackend) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("backend unavailable")
}
