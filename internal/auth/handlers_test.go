package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// fakeResultCache memoizes verification outcomes keyed by the token's stored
// hash, the same key the Redis-backed cache uses.
type fakeResultCache struct {
	mu      sync.Mutex
	entries map[string]VerifyTokenResult
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{entries: make(map[string]VerifyTokenResult)}
}

func (c *fakeResultCache) GetResult(ctx context.Context, rawToken string) *VerifyTokenResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[HashAccessToken(rawToken)]
	if !ok {
		return nil
	}
	return &entry
}

func (c *fakeResultCache) PutResult(ctx context.Context, rawToken string, result VerifyTokenResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[HashAccessToken(rawToken)] = result
}

func (c *fakeResultCache) InvalidateResult(ctx context.Context, rawToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, HashAccessToken(rawToken))
}

func (c *fakeResultCache) InvalidateResultHash(ctx context.Context, tokenHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tokenHash)
}

func newAuthRouter(t *testing.T, tokens TokenResultCache) (*gin.Engine, *Service, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeStore()
	svc := newTestService(store)
	router := gin.New()
	NewHandlers(svc, nil, tokens).RegisterRoutes(router.Group("/api"))
	return router, svc, store
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, decoded
}

func loginMobile(t *testing.T, router *gin.Engine, userID, password, deviceUUID string) string {
	t.Helper()
	status, body := postJSON(t, router, "/api/login", map[string]string{
		"user_id": userID, "password": password, "device_uuid": deviceUUID,
	})
	if status != http.StatusOK {
		t.Fatalf("Login returned %d: %v", status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("Login response missing access_token")
	}
	return token
}

// TestCachedVerifyDroppedOnRotation verifies a re-login on the same device
// immediately invalidates the cached result for the rotated-out token, so a
// revoked token never keeps verifying as valid from the cache
func TestCachedVerifyDroppedOnRotation(t *testing.T) {
	cache := newFakeResultCache()
	router, svc, store := newAuthRouter(t, cache)
	registerActiveUser(t, svc, store, "alice", "password123")

	first := loginMobile(t, router, "alice", "password123", "device-1")

	status, body := postJSON(t, router, "/api/verify_token", map[string]string{"access_token": first})
	if status != http.StatusOK || body["valid"] != true {
		t.Fatalf("First token should verify, got %d %v", status, body)
	}
	if cache.GetResult(context.Background(), first) == nil {
		t.Fatal("Verification result should be cached")
	}

	loginMobile(t, router, "alice", "password123", "device-1")

	status, body = postJSON(t, router, "/api/verify_token", map[string]string{"access_token": first})
	if status != http.StatusOK {
		t.Fatalf("verify_token returned %d: %v", status, body)
	}
	if body["valid"] != false {
		t.Fatalf("Rotated-out token should be invalid, got %v", body)
	}
	if body["reason"] != "token revoked" {
		t.Errorf("Expected reason 'token revoked', got %v", body["reason"])
	}
}

// TestCachedVerifyDroppedOnLogout verifies logout invalidates the cached
// result even when the request carries no raw token
func TestCachedVerifyDroppedOnLogout(t *testing.T) {
	cache := newFakeResultCache()
	router, svc, store := newAuthRouter(t, cache)
	registerActiveUser(t, svc, store, "alice", "password123")

	token := loginMobile(t, router, "alice", "password123", "device-1")
	postJSON(t, router, "/api/verify_token", map[string]string{"access_token": token})

	status, body := postJSON(t, router, "/api/logout", map[string]string{
		"user_id": "alice", "device_uuid": "device-1",
	})
	if status != http.StatusOK {
		t.Fatalf("Logout returned %d: %v", status, body)
	}

	_, body = postJSON(t, router, "/api/verify_token", map[string]string{"access_token": token})
	if body["valid"] != false {
		t.Fatalf("Logged-out token should be invalid, got %v", body)
	}
}

// TestDeviceChangeCooldownStatus verifies the cooldown rejection is a 403
// with the remaining days
func TestDeviceChangeCooldownStatus(t *testing.T) {
	router, svc, store := newAuthRouter(t, nil)
	registerActiveUser(t, svc, store, "alice", "password123")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	loginMobile(t, router, "alice", "password123", "device-1")

	svc.now = func() time.Time { return base.AddDate(0, 0, 10) }
	status, body := postJSON(t, router, "/api/request_device_change", map[string]string{
		"user_id": "alice", "password": "password123", "new_device_uuid": "device-2",
	})
	if status != http.StatusForbidden {
		t.Fatalf("Cooldown rejection should be 403, got %d: %v", status, body)
	}
	if body["code"] != "RATE_LIMITED" {
		t.Errorf("Expected code RATE_LIMITED, got %v", body["code"])
	}
	if body["remaining_days"] != float64(20) {
		t.Errorf("Expected 20 remaining days, got %v", body["remaining_days"])
	}
}

// TestVerifyMACAddressEndpoint verifies the desktop MAC route and its
// allowed flag
func TestVerifyMACAddressEndpoint(t *testing.T) {
	router, svc, store := newAuthRouter(t, nil)
	registerActiveUser(t, svc, store, "alice", "password123")

	status, body := postJSON(t, router, "/api/verify_mac_address", map[string]string{
		"user_id": "alice", "mac_address": "AA:BB:CC:DD:EE:FF",
	})
	if status != http.StatusOK || body["allowed"] != true {
		t.Fatalf("First MAC should bind and be allowed, got %d %v", status, body)
	}

	status, body = postJSON(t, router, "/api/verify_mac_address", map[string]string{
		"user_id": "alice", "mac_address": "11:22:33:44:55:66",
	})
	if status != http.StatusOK {
		t.Fatalf("verify_mac_address returned %d: %v", status, body)
	}
	if body["allowed"] != false {
		t.Errorf("Different MAC should not be allowed, got %v", body)
	}
}
