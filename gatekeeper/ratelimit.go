package gatekeeper

import (
	"context"
	"math"
	"sync"
	"time"
)

// Bucket is a fixed-window counter for one identity.
type Bucket struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// Decision is the outcome of recording one hit.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Store records hits against named buckets. Implementations must apply
// Advance atomically per key.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// Advance applies one hit to b. A missing or expired bucket starts a fresh
// window with count 1; a full bucket rejects without changing.
func Advance(b Bucket, found bool, limit int, window time.Duration, now time.Time) (Bucket, Decision) {
	if !found || !now.Before(b.ResetAt) {
		b = Bucket{Count: 1, ResetAt: now.Add(window)}
		return b, Decision{Allowed: true, Count: b.Count, ResetAt: b.ResetAt}
	}
	if b.Count >= limit {
		return b, Decision{Allowed: false, Count: b.Count, ResetAt: b.ResetAt}
	}
	b.Count++
	return b, Decision{Allowed: true, Count: b.Count, ResetAt: b.ResetAt}
}

// MemoryStore keeps buckets in process memory. Expired buckets are replaced
// lazily on their next hit and never swept.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]Bucket)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, found := s.buckets[key]
	b, d := Advance(b, found, limit, window, now)
	s.buckets[key] = b
	return d, nil
}

// Limiter enforces limit hits per window for keys under one scope.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	scope  string
	now    func() time.Time
}

// NewLimiter returns a Limiter. scope labels rejections for metrics.
func NewLimiter(store Store, limit int, window time.Duration, scope string) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		scope:  scope,
		now:    time.Now,
	}
}

// Allow records a hit for identity under the limiter's scope, so limiters
// sharing a store never touch each other's buckets. A rejection is a
// *RateLimitError.
func (l *Limiter) Allow(ctx context.Context, identity string) error {
	now := l.now()
	d, err := l.store.Hit(ctx, "chat:"+l.scope+":"+identity, l.limit, l.window, now)
	if err != nil {
		return &UpstreamError{Op: "rate limit store", Err: err}
	}
	if !d.Allowed {
		return &RateLimitError{Scope: l.scope, RetryAfter: RetryAfter(d.ResetAt, now)}
	}
	return nil
}

// RetryAfter is the whole seconds until resetAt, at least one.
func RetryAfter(resetAt, now time.Time) time.Duration {
	secs := math.Ceil(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
