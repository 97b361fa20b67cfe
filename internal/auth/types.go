package auth

import (
	"time"
)

// RegisterRequest represents a self-registration request. Accounts start
// inactive; an admin approval or a recorded payment activates them.
type RegisterRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// LoginRequest represents a login request. DeviceUUID is present only for the
// mobile flow; the desktop program authenticates without it.
type LoginRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceUUID string `json:"device_uuid,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// UserInfo is the profile returned to clients.
type UserInfo struct {
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	Email      string  `json:"email,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"`
	IsActive   bool    `json:"is_active"`
}

// LoginResult is the service-level outcome of a login. AccessToken and
// ExpiresAt are set only for the mobile flow. RevokedTokenHashes carries the
// stored hashes of tokens this login rotated out, so their cached
// verification results can be dropped immediately.
type LoginResult struct {
	User               UserInfo
	AccessToken        string
	ExpiresAt          *time.Time
	RevokedTokenHashes []string
}

// LogoutRequest deactivates the token for one (user, device) pair. The raw
// token is optional; when present the cached verification result for it is
// dropped immediately instead of aging out.
type LogoutRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DeviceUUID  string `json:"device_uuid,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// VerifyTokenRequest carries the raw bearer token.
type VerifyTokenRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// VerifyTokenResult is the outcome of a token check. Invalid tokens are a
// normal outcome, not an error: Reason explains why Valid is false.
type VerifyTokenResult struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DeviceChangeRequest re-authenticates by password before rebinding, so a
// leaked bearer token alone cannot move the account to a new device.
type DeviceChangeRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Password      string `json:"password" binding:"required"`
	NewDeviceUUID string `json:"new_device_uuid" binding:"required"`
	DeviceName    string `json:"device_name,omitempty"`
}

// CheckTokenOwnerRequest asks whether a token belongs to the given user. Used
// by the desktop program to pair a mobile session with a PC login.
type CheckTokenOwnerRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
}

// VerifyMACRequest validates a desktop MAC address for a user.
type VerifyMACRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	MACAddress string `json:"mac_address" binding:"required"`
	HardwareID string `json:"hardware_id,omitempty"`
}

// Config holds authentication policy knobs.
type Config struct {
	BcryptCost               int
	MinPasswordLength        int
	AccessTokenDuration      time.Duration
	DeviceChangeCooldownDays int
	DevMode                  bool
}

// AuthError is a typed error carrying a stable code for the HTTP layer.
type AuthError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RemainingDays int    `json:"remaining_days,omitempty"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors. Wrong password and inactive account share the
// same generic error so an attacker cannot enumerate accounts.
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid user id or password"}
	ErrUserExists         = AuthError{Code: "USER_EXISTS", Message: "user id already registered"}
	ErrDeviceMismatch     = AuthError{Code: "DEVICE_MISMATCH", Message: "account is registered to a different device"}
	ErrValidation         = AuthError{Code: "VALIDATION_ERROR", Message: "missing or malformed fields"}
)

// ErrDeviceChangeRateLimited builds the cooldown error with the remaining-day
// count exposed to the caller.
func ErrDeviceChangeRateLimited(remainingDays int) AuthError {
	return AuthError{
		Code:          "RATE_LIMITED",
		Message:       "device was changed recently, try again later",
		RemainingDays: remainingDays,
	}
}
