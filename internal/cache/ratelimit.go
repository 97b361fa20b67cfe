package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LoginLimiter throttles login attempts per user id. Counts live in Redis so
// all replicas share one budget; when Redis is down it falls back to an
// in-memory sliding window rather than locking users out.
type LoginLimiter struct {
	cache       *CacheService
	maxAttempts int
	window      time.Duration

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewLoginLimiter creates a login limiter. cache may be nil, leaving only the
// in-memory window.
func NewLoginLimiter(cache *CacheService, maxAttempts int, window time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &LoginLimiter{
		cache:       cache,
		maxAttempts: maxAttempts,
		window:      window,
		local:       make(map[string][]time.Time),
	}
}

// Allow records an attempt for the key and reports whether it is within
// budget.
func (l *LoginLimiter) Allow(ctx context.Context, key string) bool {
	if l.cache != nil && l.cache.IsHealthy() {
		count, err := l.cache.Incr(ctx, fmt.Sprintf(PrefixLoginAttempts, key), l.window)
		if err == nil {
			return count <= int64(l.maxAttempts)
		}
	}
	return l.allowLocal(key)
}

// Reset clears the attempt budget after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, key string) {
	if l.cache != nil && l.cache.IsHealthy() {
		_ = l.cache.Delete(ctx, fmt.Sprintf(PrefixLoginAttempts, key))
	}
	l.mu.Lock()
	delete(l.local, key)
	l.mu.Unlock()
}

func (l *LoginLimiter) allowLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	attempts := l.local[key]
	kept := attempts[:0]
	for _, at := range attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	l.local[key] = kept
	return len(kept) <= l.maxAttempts
}
