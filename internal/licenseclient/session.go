package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aibot-license-server/internal/hardware"
)

// Session is an authenticated desktop session. Desktop logins carry no bearer
// token; the session is local and expires after an hour, after which the
// program re-checks the credentials and MAC binding.
type Session struct {
	UserID     string
	Name       string
	ExpiryDate string
	StartedAt  time.Time
}

// SessionClient drives the desktop login flow against the server.
type SessionClient struct {
	serverURL string
	client    *http.Client
	lifetime  time.Duration

	mu      sync.Mutex
	session *Session
	now     func() time.Time
	mac     func() (string, error)
}

// NewSessionClient creates a session client for the desktop program.
func NewSessionClient(serverURL string) *SessionClient {
	return &SessionClient{
		serverURL: serverURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		lifetime:  time.Hour,
		now:       time.Now,
		mac:       hardware.PrimaryMAC,
	}
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	UserInfo struct {
		UserID     string  `json:"user_id"`
		Name       string  `json:"name"`
		ExpiryDate *string `json:"expiry_date"`
		IsActive   bool    `json:"is_active"`
	} `json:"user_info"`
}

func (sc *SessionClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("license server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Login authenticates the user and verifies this machine's MAC binding. On
// success the session stays valid for an hour.
func (sc *SessionClient) Login(ctx context.Context, userID, password string) (*Session, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var login loginResponse
	err := sc.postJSON(ctx, "/api/login", map[string]string{
		"user_id":  userID,
		"password": password,
	}, &login)
	if err != nil {
		return nil, err
	}
	if !login.Success {
		return nil, fmt.Errorf("login failed: %s", login.Message)
	}

	mac, err := sc.mac()
	if err != nil {
		return nil, err
	}

	var macResp struct {
		Success bool   `json:"success"`
		Allowed bool   `json:"allowed"`
		Message string `json:"message"`
	}
	err = sc.postJSON(ctx, "/api/verify_mac_address", map[string]string{
		"user_id":     userID,
		"mac_address": mac,
	}, &macResp)
	if err != nil {
		return nil, err
	}
	if !macResp.Allowed {
		return nil, fmt.Errorf("device check failed: %s", macResp.Message)
	}

	expiry := ""
	if login.UserInfo.ExpiryDate != nil {
		expiry = *login.UserInfo.ExpiryDate
	}
	sc.session = &Session{
		UserID:     login.UserInfo.UserID,
		Name:       login.UserInfo.Name,
		ExpiryDate: expiry,
		StartedAt:  sc.now(),
	}
	return sc.session, nil
}

// Current returns the active session, or nil when absent or expired.
func (sc *SessionClient) Current() *Session {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.session == nil {
		return nil
	}
	if sc.now().Sub(sc.session.StartedAt) >= sc.lifetime {
		sc.session = nil
		return nil
	}
	return sc.session
}

// Logout drops the local session.
func (sc *SessionClient) Logout() {
	sc.mu.Lock()
	sc.session = nil
	sc.mu.Unlock()
}
