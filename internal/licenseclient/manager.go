// Package licenseclient implements the desktop side of license verification:
// activation, the periodic online re-check and the offline grace window.
package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aibot-license-server/internal/hardware"
)

// Status is the outcome of a verification check.
type Status string

const (
	// StatusValid means the server confirmed the license just now.
	StatusValid Status = "valid"
	// StatusOfflineValid means local checks passed and the last online
	// confirmation is recent enough.
	StatusOfflineValid Status = "offline_valid"
	// StatusNotRegistered means no license has been activated on this machine.
	StatusNotRegistered Status = "not_registered"
	// StatusHardwareMismatch means the local state belongs to another machine.
	StatusHardwareMismatch Status = "hardware_mismatch"
	// StatusExpired means the license expiry has passed.
	StatusExpired Status = "expired"
	// StatusServerRejected means the server refused an otherwise locally-valid
	// license.
	StatusServerRejected Status = "server_rejected"
)

// Result carries the verification outcome and a human-readable message.
type Result struct {
	Status  Status
	Message string
	Expiry  *time.Time
}

// Allowed reports whether the program may run with this outcome.
func (r Result) Allowed() bool {
	return r.Status == StatusValid || r.Status == StatusOfflineValid
}

// Manager drives client-side license verification against the server.
type Manager struct {
	serverURL    string
	statePath    string
	client       *http.Client
	logger       zerolog.Logger
	recheckAfter time.Duration

	mu          sync.Mutex
	fingerprint func() (string, error)
	now         func() time.Time
}

// NewManager creates a license manager. statePath is where the activation
// record lives on disk.
func NewManager(serverURL, statePath string, logger zerolog.Logger) *Manager {
	return &Manager{
		serverURL:    serverURL,
		statePath:    statePath,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With().Str("component", "licenseclient").Logger(),
		recheckAfter: 24 * time.Hour,
		fingerprint:  hardware.Fingerprint,
		now:          time.Now,
	}
}

type activateRequest struct {
	LicenseKey string `json:"license_key"`
	HardwareID string `json:"hardware_id"`
}

type verifyRequest struct {
	LicenseKey string `json:"license_key"`
	HardwareID string `json:"hardware_id"`
}

type serverResponse struct {
	Success      bool   `json:"success"`
	Valid        bool   `json:"valid"`
	Message      string `json:"message"`
	Reason       string `json:"reason"`
	CustomerName string `json:"customer_name"`
	ExpiryDate   string `json:"expiry_date"`
}

func (m *Manager) post(ctx context.Context, path string, payload interface{}) (*serverResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var decoded serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &decoded, nil
}

// Activate binds this machine to the license key and saves the local state.
func (m *Manager) Activate(ctx context.Context, licenseKey string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hwID, err := m.fingerprint()
	if err != nil {
		return nil, err
	}

	resp, err := m.post(ctx, "/api/activate", activateRequest{LicenseKey: licenseKey, HardwareID: hwID})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return &Result{Status: StatusServerRejected, Message: resp.Message}, nil
	}

	expiry, _ := time.Parse(time.RFC3339, resp.ExpiryDate)
	now := m.now()
	state := &State{
		LicenseKey:   licenseKey,
		HardwareID:   hwID,
		ExpiryDate:   expiry,
		LastVerified: &now,
		CustomerName: resp.CustomerName,
	}
	if err := SaveState(m.statePath, state); err != nil {
		return nil, err
	}

	m.logger.Info().Str("license_key", licenseKey).Msg("License activated")
	return &Result{Status: StatusValid, Message: "license activated", Expiry: &expiry}, nil
}

// Verify checks the license. Local binding and expiry checks always run and
// fail closed. The online re-check runs when forced or when the last
// confirmation is older than the grace window; an unreachable server inside
// the window degrades to offline-valid rather than blocking the user.
func (m *Manager) Verify(ctx context.Context, force bool) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := LoadState(m.statePath)
	if err != nil {
		return nil, err
	}
	if state == nil || state.LicenseKey == "" {
		return &Result{Status: StatusNotRegistered, Message: "no license activated on this machine"}, nil
	}

	hwID, err := m.fingerprint()
	if err != nil {
		return nil, err
	}
	if state.HardwareID != hwID {
		return &Result{Status: StatusHardwareMismatch, Message: "license state belongs to another machine"}, nil
	}

	now := m.now()
	if !state.ExpiryDate.IsZero() && !now.Before(state.ExpiryDate) {
		return &Result{Status: StatusExpired, Message: "license has expired", Expiry: &state.ExpiryDate}, nil
	}

	withinWindow := state.LastVerified != nil && now.Sub(*state.LastVerified) < m.recheckAfter
	if !force && withinWindow {
		return &Result{Status: StatusOfflineValid, Message: "verified recently", Expiry: &state.ExpiryDate}, nil
	}

	resp, err := m.post(ctx, "/api/verify", verifyRequest{LicenseKey: state.LicenseKey, HardwareID: hwID})
	if err != nil {
		// Offline. Local checks already passed; let the user keep working
		// on the local expiry alone.
		m.logger.Warn().Err(err).Msg("Online verification failed, running offline")
		return &Result{Status: StatusOfflineValid, Message: "server unreachable, offline grace", Expiry: &state.ExpiryDate}, nil
	}

	if !resp.Valid {
		m.logger.Warn().Str("reason", resp.Reason).Msg("Server rejected license")
		switch resp.Reason {
		case "hardware mismatch":
			return &Result{Status: StatusHardwareMismatch, Message: resp.Reason}, nil
		case "license expired":
			return &Result{Status: StatusExpired, Message: resp.Reason, Expiry: &state.ExpiryDate}, nil
		}
		return &Result{Status: StatusServerRejected, Message: resp.Reason}, nil
	}

	if expiry, err := time.Parse(time.RFC3339, resp.ExpiryDate); err == nil {
		state.ExpiryDate = expiry
	}
	state.LastVerified = &now
	state.CustomerName = resp.CustomerName
	if err := SaveState(m.statePath, state); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist license state")
	}

	return &Result{Status: StatusValid, Message: "license verified", Expiry: &state.ExpiryDate}, nil
}

// ReportUsage sends run telemetry to the server. Failures are logged, never
// fatal.
func (m *Manager) ReportUsage(ctx context.Context, totalInvoices, successCount, failCount int) {
	m.mu.Lock()
	state, err := LoadState(m.statePath)
	m.mu.Unlock()
	if err != nil || state == nil {
		return
	}

	payload := map[string]interface{}{
		"license_key":    state.LicenseKey,
		"total_invoices": totalInvoices,
		"success_count":  successCount,
		"fail_count":     failCount,
	}
	if _, err := m.post(ctx, "/api/record_usage", payload); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to report usage")
	}
}
