package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aibot-license-server/config"
	"aibot-license-server/internal/auth"
	"aibot-license-server/internal/database"
	"aibot-license-server/internal/events"
	"aibot-license-server/internal/license"
)

// licStore is a minimal in-memory license.Store for handler tests.
type licStore struct {
	mu       sync.Mutex
	licenses map[string]*database.License
}

func newLicStore() *licStore {
	return &licStore{licenses: make(map[string]*database.License)}
}

func (s *licStore) CreateLicense(ctx context.Context, lic *database.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lic
	s.licenses[lic.LicenseKey] = &copied
	return nil
}

func (s *licStore) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok {
		return nil, nil
	}
	copied := *lic
	if lic.HardwareID != nil {
		hw := *lic.HardwareID
		copied.HardwareID = &hw
	}
	return &copied, nil
}

func (s *licStore) BindHardware(ctx context.Context, key, hardwareID, customerName, customerEmail string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok || lic.HardwareID != nil {
		return false, nil
	}
	hw := hardwareID
	lic.HardwareID = &hw
	return true, nil
}

func (s *licStore) UpdateLicenseLastVerified(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[key]; ok {
		now := time.Now()
		lic.LastVerified = &now
	}
	return nil
}

func (s *licStore) ExtendLicense(ctx context.Context, key string, periodDays int, amount float64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic := s.licenses[key]
	base := time.Now().UTC()
	if lic.ExpiryDate.After(base) {
		base = lic.ExpiryDate
	}
	lic.ExpiryDate = base.AddDate(0, 0, periodDays)
	return lic.ExpiryDate, nil
}

func (s *licStore) RecordLicenseUsage(ctx context.Context, stat *database.LicenseUsageStat) error {
	return nil
}

// authStore is a minimal in-memory auth.Store for handler tests.
type authStore struct {
	mu     sync.Mutex
	users  map[string]*database.User
	tokens map[string]*database.AccessToken
}

func newAuthStore() *authStore {
	return &authStore{
		users:  make(map[string]*database.User),
		tokens: make(map[string]*database.AccessToken),
	}
}

func (s *authStore) CreateUser(ctx context.Context, user *database.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.UserID] = &copied
	return nil
}

func (s *authStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *authStore) UpdateUserLastLogin(ctx context.Context, userID string) error { return nil }

func (s *authStore) BindUserMAC(ctx context.Context, userID, mac string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	if user.MACAddress != nil && *user.MACAddress != mac {
		return false, nil
	}
	user.MACAddress = &mac
	return true, nil
}

func (s *authStore) GetActiveDevice(ctx context.Context, userID string) (*database.Device, error) {
	return nil, nil
}

func (s *authStore) CreateDevice(ctx context.Context, device *database.Device) error { return nil }

func (s *authStore) TouchDevice(ctx context.Context, userID, deviceUUID string) error { return nil }

func (s *authStore) ReplaceDevice(ctx context.Context, userID, newDeviceUUID, deviceName string) error {
	return nil
}

func (s *authStore) IssueToken(ctx context.Context, token *database.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.TokenHash] = &copied
	return nil
}

func (s *authStore) GetTokenByHash(ctx context.Context, tokenHash string) (*database.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *authStore) DeactivateTokens(ctx context.Context, userID, deviceUUID string) error {
	return nil
}

func (s *authStore) ActiveTokenHashes(ctx context.Context, userID, deviceUUID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hashes []string
	for hash, token := range s.tokens {
		if token.UserID == userID && (deviceUUID == "" || token.DeviceUUID == deviceUUID) && token.IsActive {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

func (s *authStore) CurrentUserExpiry(ctx context.Context, userID string) (*time.Time, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *licStore, *authStore) {
	t.Helper()

	cfg := config.Config{}
	cfg.ServerConfig.AllowedOrigins = "http://localhost:5173"
	cfg.ServerConfig.ProductionMode = true
	cfg.AdminConfig.AdminKey = "test-admin-key"
	cfg.AdminConfig.SessionSecret = "test-session-secret"
	cfg.AdminConfig.SessionTokenDuration = time.Hour
	cfg.LicenseConfig.DefaultPeriodDays = 30
	cfg.LicenseConfig.DefaultSubscriptionType = "monthly"

	bus := events.NewEventBus()
	ls := newLicStore()
	as := newAuthStore()

	authService := auth.NewService(as, auth.Config{BcryptCost: 4}, bus, zerolog.Nop())
	licenseService := license.NewService(ls, bus, zerolog.Nop())

	server := NewServer(cfg, nil, bus, authService, licenseService, nil, nil, nil, zerolog.Nop())
	return server, ls, as
}

func postJSON(t *testing.T, handler http.Handler, path string, payload interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec, decoded
}

// TestAdminLoginIssuesSessionToken verifies the key-for-JWT exchange
func TestAdminLoginIssuesSessionToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, body := postJSON(t, server.Router(), "/api/admin_login", map[string]string{"admin_key": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Wrong admin key should get 401, got %d", rec.Code)
	}

	rec, body = postJSON(t, server.Router(), "/api/admin_login", map[string]string{"admin_key": "test-admin-key"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Admin login failed: %d %v", rec.Code, body)
	}
	if body["session_token"] == nil || body["session_token"] == "" {
		t.Error("Expected a session token")
	}
}

// TestAdminEndpointsRequireAuth verifies unauthenticated admin calls fail
func TestAdminEndpointsRequireAuth(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, _ := postJSON(t, server.Router(), "/api/create_license", map[string]string{"customer_name": "Acme"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Unauthenticated create_license should get 401, got %d", rec.Code)
	}
}

// TestCreateLicenseWithAdminKey verifies the body-key auth path
func TestCreateLicenseWithAdminKey(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, body := postJSON(t, server.Router(), "/api/create_license", map[string]interface{}{
		"admin_key":     "test-admin-key",
		"customer_name": "Acme",
		"duration_days": 30,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create_license failed: %d %v", rec.Code, body)
	}
	key, _ := body["license_key"].(string)
	if !license.ValidKeyFormat(key) {
		t.Errorf("Returned key %q does not match the key pattern", key)
	}
}

// TestCreateLicenseWithSessionJWT verifies the Bearer auth path
func TestCreateLicenseWithSessionJWT(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, loginBody := postJSON(t, server.Router(), "/api/admin_login", map[string]string{"admin_key": "test-admin-key"}, nil)
	token, _ := loginBody["session_token"].(string)

	rec, body := postJSON(t, server.Router(), "/api/create_license", map[string]interface{}{
		"customer_name": "Acme",
	}, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create_license with JWT failed: %d %v", rec.Code, body)
	}
}

// TestActivateAndVerifyFlow walks the desktop activation flow over HTTP
func TestActivateAndVerifyFlow(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, createBody := postJSON(t, server.Router(), "/api/create_license", map[string]interface{}{
		"admin_key":     "test-admin-key",
		"customer_name": "Acme",
		"duration_days": 30,
	}, nil)
	key, _ := createBody["license_key"].(string)

	rec, body := postJSON(t, server.Router(), "/api/activate", map[string]string{
		"license_key": key,
		"hardware_id": "HW-AAAA",
	}, nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("activate failed: %d %v", rec.Code, body)
	}

	rec, body = postJSON(t, server.Router(), "/api/verify", map[string]string{
		"license_key": key,
		"hardware_id": "HW-AAAA",
	}, nil)
	if rec.Code != http.StatusOK || body["valid"] != true {
		t.Fatalf("verify on bound machine failed: %d %v", rec.Code, body)
	}

	rec, body = postJSON(t, server.Router(), "/api/verify", map[string]string{
		"license_key": key,
		"hardware_id": "HW-BBBB",
	}, nil)
	if rec.Code != http.StatusOK || body["valid"] != false {
		t.Fatalf("verify on other machine should be invalid: %d %v", rec.Code, body)
	}
	if body["reason"] != "hardware mismatch" {
		t.Errorf("Expected reason 'hardware mismatch', got %v", body["reason"])
	}

	rec, body = postJSON(t, server.Router(), "/api/activate", map[string]string{
		"license_key": key,
		"hardware_id": "HW-BBBB",
	}, nil)
	if rec.Code != http.StatusForbidden || body["code"] != "HARDWARE_MISMATCH" {
		t.Errorf("Activation from another machine should get 403 HARDWARE_MISMATCH, got %d %v", rec.Code, body)
	}
}

// TestLoginEnvelope verifies the login response shape for mobile clients
func TestLoginEnvelope(t *testing.T) {
	server, _, as := newTestServer(t)

	_, regBody := postJSON(t, server.Router(), "/api/register", map[string]string{
		"user_id":  "alice",
		"password": "password123",
		"name":     "Alice",
	}, nil)
	if regBody["success"] != true {
		t.Fatalf("register failed: %v", regBody)
	}
	as.mu.Lock()
	as.users["alice"].IsActive = true
	as.mu.Unlock()

	rec, body := postJSON(t, server.Router(), "/api/login", map[string]string{
		"user_id":     "alice",
		"password":    "password123",
		"device_uuid": "device-1",
	}, nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("login failed: %d %v", rec.Code, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("Expected access_token in mobile login response")
	}
	userInfo, _ := body["user_info"].(map[string]interface{})
	if userInfo == nil || userInfo["user_id"] != "alice" {
		t.Errorf("Expected user_info.user_id alice, got %v", body["user_info"])
	}

	rec, body = postJSON(t, server.Router(), "/api/verify_token", map[string]string{
		"access_token": token,
	}, nil)
	if rec.Code != http.StatusOK || body["valid"] != true {
		t.Errorf("verify_token should be valid: %d %v", rec.Code, body)
	}

	rec, body = postJSON(t, server.Router(), "/api/login", map[string]string{
		"user_id":  "alice",
		"password": "wrongpass1",
	}, nil)
	if rec.Code != http.StatusUnauthorized || body["success"] != false {
		t.Errorf("Wrong password should get 401, got %d %v", rec.Code, body)
	}
}
