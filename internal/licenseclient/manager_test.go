package licenseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T, serverURL string) *Manager {
	t.Helper()
	m := NewManager(serverURL, filepath.Join(t.TempDir(), "license.json"), zerolog.Nop())
	m.fingerprint = func() (string, error) { return "HW-TEST-MACHINE", nil }
	return m
}

func activationServer(t *testing.T, expiry time.Time) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/activate":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success":     true,
				"expiry_date": expiry.Format(time.RFC3339),
			})
		case "/api/verify":
			var req verifyRequest
			json.NewDecoder(r.Body).Decode(&req)
			valid := req.HardwareID == "HW-TEST-MACHINE"
			resp := map[string]interface{}{
				"success":     true,
				"valid":       valid,
				"expiry_date": expiry.Format(time.RFC3339),
			}
			if !valid {
				resp["reason"] = "hardware mismatch"
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

// TestVerifyNotRegistered verifies a machine without state reports
// not-registered
func TestVerifyNotRegistered(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:0")

	result, err := m.Verify(context.Background(), false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusNotRegistered {
		t.Errorf("Expected not_registered, got %s", result.Status)
	}
	if result.Allowed() {
		t.Error("Not-registered should not allow running")
	}
}

// TestActivateThenOfflineWindow verifies activation persists state and the
// grace window skips the online check
func TestActivateThenOfflineWindow(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	server := activationServer(t, expiry)
	defer server.Close()

	m := newTestManager(t, server.URL)
	result, err := m.Activate(context.Background(), "ABCDEFGHJKLMNPQR")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if result.Status != StatusValid {
		t.Fatalf("Expected valid after activation, got %s", result.Status)
	}

	// Shut the server down: within the window verification stays offline.
	server.Close()
	result, err = m.Verify(context.Background(), false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusOfflineValid {
		t.Errorf("Expected offline_valid inside the window, got %s", result.Status)
	}
	if !result.Allowed() {
		t.Error("Offline-valid should allow running")
	}
}

// TestVerifyFailsOpenWhenServerDown verifies a forced check with the server
// unreachable degrades to offline-valid
func TestVerifyFailsOpenWhenServerDown(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	server := activationServer(t, expiry)
	m := newTestManager(t, server.URL)
	if _, err := m.Activate(context.Background(), "ABCDEFGHJKLMNPQR"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	server.Close()

	result, err := m.Verify(context.Background(), true)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusOfflineValid {
		t.Errorf("Expected offline_valid when server is down, got %s", result.Status)
	}
}

// TestVerifyFailsClosedOnLocalChecks verifies hardware and expiry checks
// never fail open
func TestVerifyFailsClosedOnLocalChecks(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	server := activationServer(t, expiry)
	defer server.Close()

	m := newTestManager(t, server.URL)
	if _, err := m.Activate(context.Background(), "ABCDEFGHJKLMNPQR"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Another machine's fingerprint: blocked even though the server is up.
	m.fingerprint = func() (string, error) { return "HW-OTHER-MACHINE", nil }
	result, err := m.Verify(context.Background(), false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusHardwareMismatch {
		t.Errorf("Expected hardware_mismatch, got %s", result.Status)
	}
	if result.Allowed() {
		t.Error("Hardware mismatch should not allow running")
	}

	// Past expiry: blocked without contacting the server.
	m.fingerprint = func() (string, error) { return "HW-TEST-MACHINE", nil }
	m.now = func() time.Time { return expiry.Add(time.Hour) }
	result, err = m.Verify(context.Background(), false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusExpired {
		t.Errorf("Expected expired, got %s", result.Status)
	}
}

// TestForcedVerifyHitsServer verifies force bypasses the grace window and a
// server rejection is surfaced
func TestForcedVerifyHitsServer(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/activate":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success":     true,
				"expiry_date": expiry.Format(time.RFC3339),
			})
		case "/api/verify":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"valid":   false,
				"reason":  "license deactivated",
			})
		}
	}))
	defer rejecting.Close()

	m := newTestManager(t, rejecting.URL)
	if _, err := m.Activate(context.Background(), "ABCDEFGHJKLMNPQR"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Unforced inside the window: server never consulted, stays valid.
	result, err := m.Verify(context.Background(), false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusOfflineValid {
		t.Fatalf("Expected offline_valid inside window, got %s", result.Status)
	}

	// Forced: the rejection comes through.
	result, err = m.Verify(context.Background(), true)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Status != StatusServerRejected {
		t.Errorf("Expected server_rejected on forced check, got %s", result.Status)
	}
}

// TestStateRoundTrip verifies the state file survives save and load
func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "license.json")
	now := time.Now().UTC().Truncate(time.Second)
	state := &State{
		LicenseKey:   "ABCDEFGHJKLMNPQR",
		HardwareID:   "HW-TEST-MACHINE",
		ExpiryDate:   now.AddDate(0, 1, 0),
		LastVerified: &now,
	}

	if err := SaveState(path, state); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.LicenseKey != state.LicenseKey || loaded.HardwareID != state.HardwareID {
		t.Error("Loaded state does not match saved state")
	}
	if !loaded.ExpiryDate.Equal(state.ExpiryDate) {
		t.Errorf("Expiry mismatch: %v vs %v", loaded.ExpiryDate, state.ExpiryDate)
	}

	if err := ClearState(path); err != nil {
		t.Fatalf("ClearState failed: %v", err)
	}
	missing, err := LoadState(path)
	if err != nil || missing != nil {
		t.Errorf("Cleared state should load as nil, got %+v err=%v", missing, err)
	}
}
