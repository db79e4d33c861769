// Package idempotency lets API handlers dedupe a retried request
// carrying the same client-supplied request_id, returning the first
// response instead of re-executing a side-effecting operation.
package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Response is the cached result of a prior, identically-keyed request.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Backend is the durable side of the store; Redis in production, left
// nil for single-process/dev use where the in-memory fallback alone is
// sufficient.
type Backend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// ttl is how long a cached response is honored before a retried
// request_id is treated as a new request.
const ttl = 24 * time.Hour

type entry struct {
	Resp      Response
	Timestamp time.Time
}

// Store dedupes by key, preferring backend when configured and falling
// back to an in-process sync.Map otherwise (e.g. Redis outage, or no
// Redis configured at all).
type Store struct {
	backend Backend
	cache   sync.Map
	log     *zap.Logger
}

// NewStore constructs a Store. backend may be nil.
func NewStore(backend Backend, log *zap.Logger) *Store {
	return &Store{backend: backend, log: log}
}

// Get returns the cached response for key, if any still within ttl.
func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.backend != nil {
		val, err := s.backend.Get(ctx, key)
		if err != nil {
			if s.log != nil {
				s.log.Warn("idempotency backend get failed, falling through", zap.String("key", key), zap.Error(err))
			}
		} else if val != "" {
			var e entry
			if err := json.Unmarshal([]byte(val), &e); err == nil {
				return e.Resp, true
			}
		}
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.Timestamp) > ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.Resp, true
}

// Set records resp against key for future retries of the same request.
func (s *Store) Set(ctx context.Context, key string, resp Response) {
	e := entry{Resp: resp, Timestamp: time.Now()}

	if s.backend != nil {
		data, err := json.Marshal(e)
		if err == nil {
			if err := s.backend.Set(ctx, key, string(data), ttl); err != nil && s.log != nil {
				s.log.Warn("idempotency backend set failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	s.cache.Store(key, e)
}
