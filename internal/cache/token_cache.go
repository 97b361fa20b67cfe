package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TokenVerifyEntry is the cached outcome of a token verification.
type TokenVerifyEntry struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TokenCache memoizes verify_token outcomes for a few minutes. Only the
// token's hash is used as the cache key, so Redis never sees raw bearer
// tokens. Revocations call Invalidate, so a cached "valid" can outlive the
// token by at most the TTL.
type TokenCache struct {
	cache *CacheService
	ttl   time.Duration
}

// NewTokenCache creates a token verification cache. cache may be nil, which
// disables memoization.
func NewTokenCache(cache *CacheService, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenVerifyTTL
	}
	return &TokenCache{cache: cache, ttl: ttl}
}

func (tc *TokenCache) key(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return fmt.Sprintf(PrefixTokenVerify, hex.EncodeToString(sum[:]))
}

// Get returns the cached verification outcome, or nil on a miss.
func (tc *TokenCache) Get(ctx context.Context, rawToken string) *TokenVerifyEntry {
	if tc.cache == nil || !tc.cache.IsHealthy() {
		return nil
	}
	data, err := tc.cache.Get(ctx, tc.key(rawToken))
	if err != nil {
		return nil
	}
	var entry TokenVerifyEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil
	}
	return &entry
}

// Put stores a verification outcome.
func (tc *TokenCache) Put(ctx context.Context, rawToken string, entry TokenVerifyEntry) {
	if tc.cache == nil || !tc.cache.IsHealthy() {
		return
	}
	_ = tc.cache.Set(ctx, tc.key(rawToken), entry, tc.ttl)
}

// Invalidate drops the cached outcome after logout or device change.
func (tc *TokenCache) Invalidate(ctx context.Context, rawToken string) {
	if tc.cache == nil {
		return
	}
	_ = tc.cache.Delete(ctx, tc.key(rawToken))
}

// InvalidateHash drops the cached outcome by stored token hash. Rotation only
// ever sees the revoked token's hash, and the cache key is that same hash, so
// no raw value is needed.
func (tc *TokenCache) InvalidateHash(ctx context.Context, tokenHash string) {
	if tc.cache == nil {
		return
	}
	_ = tc.cache.Delete(ctx, fmt.Sprintf(PrefixTokenVerify, tokenHash))
}
