package licenseclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the locally persisted activation record. It is a convenience
// cache, not a secret: tampering with it only ever makes the client stricter
// or forces an online check, because the server re-validates on every
// verification.
type State struct {
	LicenseKey   string     `json:"license_key"`
	HardwareID   string     `json:"hardware_id"`
	ExpiryDate   time.Time  `json:"expiry_date"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
}

// LoadState reads the activation state file. A missing file returns nil
// state, not an error.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read license state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse license state: %w", err)
	}
	return &state, nil
}

// SaveState writes the activation state file atomically.
func SaveState(path string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode license state: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write license state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace license state: %w", err)
	}
	return nil
}

// ClearState removes the activation state file. Missing files are fine.
func ClearState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove license state: %w", err)
	}
	return nil
}
