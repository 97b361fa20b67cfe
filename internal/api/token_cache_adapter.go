package api

import (
	"context"

	"aibot-license-server/internal/auth"
	"aibot-license-server/internal/cache"
)

// tokenCacheAdapter bridges the Redis token cache to the auth handlers.
type tokenCacheAdapter struct {
	tc *cache.TokenCache
}

func newTokenCacheAdapter(tc *cache.TokenCache) auth.TokenResultCache {
	if tc == nil {
		return nil
	}
	return &tokenCacheAdapter{tc: tc}
}

func (a *tokenCacheAdapter) GetResult(ctx context.Context, rawToken string) *auth.VerifyTokenResult {
	entry := a.tc.Get(ctx, rawToken)
	if entry == nil {
		return nil
	}
	return &auth.VerifyTokenResult{
		Valid:  entry.Valid,
		UserID: entry.UserID,
		Reason: entry.Reason,
	}
}

func (a *tokenCacheAdapter) PutResult(ctx context.Context, rawToken string, result auth.VerifyTokenResult) {
	a.tc.Put(ctx, rawToken, cache.TokenVerifyEntry{
		Valid:  result.Valid,
		UserID: result.UserID,
		Reason: result.Reason,
	})
}

func (a *tokenCacheAdapter) InvalidateResult(ctx context.Context, rawToken string) {
	a.tc.Invalidate(ctx, rawToken)
}

func (a *tokenCacheAdapter) InvalidateResultHash(ctx context.Context, tokenHash string) {
	a.tc.InvalidateHash(ctx, tokenHash)
}
