package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/idempotency"
)

// Compile-time check that IdempotencyCache implements idempotency.Store.
var _ idempotency.Store = (*IdempotencyCache)(nil)

type idempotencyEntry struct {
	req       idempotency.Request
	status    idempotency.Status
	replay    idempotency.Replay
	updatedAt time.Time
}

// IdempotencyCache keeps idempotency keys in process memory.
// It serves single-instance deployments and tests; keys are lost on restart.
type IdempotencyCache struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

// NewIdempotencyCache creates a store whose keys expire after ttl.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		items: gocache.New(ttl, ttl),
		now:   time.Now,
	}
}

func entryKey(req idempotency.Request) string {
	return req.TenantID + "\x00" + req.Key
}

// AcquireKey implements idempotency.Store.
func (s *IdempotencyCache) AcquireKey(_ context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(req)
	now := s.now()
	v, found := s.items.Get(key)
	if !found {
		s.items.SetDefault(key, &idempotencyEntry{req: req, status: idempotency.StatusPending, updatedAt: now})
		return nil, nil
	}

	entry := v.(*idempotencyEntry)
	if entry.req.UserID != req.UserID || entry.req.Operation != req.Operation || entry.req.RequestHash != req.RequestHash {
		return nil, apperror.NewIdempotencyMismatch(req.Key).
			WithDetail("operation", entry.req.Operation)
	}

	switch entry.status {
	case idempotency.StatusSuccess:
		replay := entry.replay
		return &replay, nil
	default:
		if now.Sub(entry.updatedAt) > idempotency.StaleAfter {
			entry.updatedAt = now
			return nil, nil
		}
		return nil, apperror.NewIdempotencyConflict(req.Key)
	}
}

// CompleteKey implements idempotency.Store.
func (s *IdempotencyCache) CompleteKey(_ context.Context, req idempotency.Request, replay idempotency.Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.SetDefault(entryKey(req), &idempotencyEntry{
		req:       req,
		status:    idempotency.StatusSuccess,
		replay:    replay,
		updatedAt: s.now(),
	})
	return nil
}

// ReleaseKey implements idempotency.Store.
func (s *IdempotencyCache) ReleaseKey(_ context.Context, req idempotency.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.Delete(entryKey(req))
	return nil
}

// CleanupExpired implements idempotency.Store.
func (s *IdempotencyCache) CleanupExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.items.ItemCount()
	s.items.DeleteExpired()
	return int64(before - s.items.ItemCount()), nil
}
