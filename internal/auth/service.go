package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aibot-license-server/internal/database"
	"aibot-license-server/internal/events"
)

// Store is the persistence surface the auth service needs. Implemented by
// *database.Repository; tests substitute an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	UpdateUserLastLogin(ctx context.Context, userID string) error
	BindUserMAC(ctx context.Context, userID, mac string) (bool, error)

	GetActiveDevice(ctx context.Context, userID string) (*database.Device, error)
	CreateDevice(ctx context.Context, device *database.Device) error
	TouchDevice(ctx context.Context, userID, deviceUUID string) error
	ReplaceDevice(ctx context.Context, userID, newDeviceUUID, deviceName string) error

	IssueToken(ctx context.Context, token *database.AccessToken) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*database.AccessToken, error)
	DeactivateTokens(ctx context.Context, userID, deviceUUID string) error
	ActiveTokenHashes(ctx context.Context, userID, deviceUUID string) ([]string, error)

	CurrentUserExpiry(ctx context.Context, userID string) (*time.Time, error)
}

// Service handles user authentication and device binding
type Service struct {
	store           Store
	passwordManager *PasswordManager
	bus             *events.EventBus
	config          Config
	logger          zerolog.Logger
	now             func() time.Time
}

// NewService creates a new authentication service
func NewService(store Store, config Config, bus *events.EventBus, logger zerolog.Logger) *Service {
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 7 * 24 * time.Hour
	}
	if config.DeviceChangeCooldownDays == 0 {
		config.DeviceChangeCooldownDays = 30
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = 8
	}

	return &Service{
		store:           store,
		passwordManager: NewPasswordManager(config.BcryptCost, config.MinPasswordLength),
		bus:             bus,
		config:          config,
		logger:          logger.With().Str("component", "auth").Logger(),
		now:             time.Now,
	}
}

// Register creates a new user account. Accounts start inactive until an admin
// approves them or a payment is recorded.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*database.User, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, ErrValidation
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, AuthError{Code: "WEAK_PASSWORD", Message: err.Error()}
	}

	user := &database.User{
		UserID:       userID,
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		IsActive:     false,
		CreatedDate:  s.now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Msg("User registered")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventUserRegistered,
			Data: map[string]interface{}{"user_id": userID},
		})
	}

	return user, nil
}

// authenticate verifies credentials and returns the user. Absent user, wrong
// password and inactive account all map to the same error so the endpoint
// leaks nothing about which accounts exist.
func (s *Service) authenticate(ctx context.Context, userID, password string) (*database.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil {
		// Burn a bcrypt comparison anyway to keep timing uniform.
		s.passwordManager.VerifyPassword(password, "$2a$12$........................................................")
		return nil, ErrInvalidCredentials
	}
	if !s.passwordManager.VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates a user. With a DeviceUUID it runs the mobile flow:
// device binding plus token issuance. Without one it is a plain desktop
// credential check.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if strings.TrimSpace(req.UserID) == "" || req.Password == "" {
		return nil, ErrValidation
	}

	user, err := s.authenticate(ctx, req.UserID, req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := &LoginResult{User: s.userInfo(ctx, user)}

	if req.DeviceUUID != "" {
		if err := s.bindDevice(ctx, user.UserID, req.DeviceUUID, req.DeviceName, now); err != nil {
			return nil, err
		}

		// Collect the hashes rotation is about to revoke, so the handler can
		// drop their cached verification results.
		revoked, err := s.store.ActiveTokenHashes(ctx, user.UserID, req.DeviceUUID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to list revoked token hashes")
		} else {
			result.RevokedTokenHashes = revoked
		}

		token, expiresAt, err := s.issueToken(ctx, user.UserID, req.DeviceUUID, now)
		if err != nil {
			return nil, err
		}
		result.AccessToken = token
		result.ExpiresAt = &expiresAt
	}

	if err := s.store.UpdateUserLastLogin(ctx, user.UserID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to update last login")
	}

	s.logger.Info().Str("user_id", user.UserID).Bool("mobile", req.DeviceUUID != "").Msg("User logged in")
	if s.bus != nil {
		s.bus.PublishUserLogin(user.UserID, req.DeviceUUID)
	}

	return result, nil
}

// bindDevice enforces the one-active-device rule. First login binds the
// device; later logins must present the same UUID.
func (s *Service) bindDevice(ctx context.Context, userID, deviceUUID, deviceName string, now time.Time) error {
	device, err := s.store.GetActiveDevice(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch device: %w", err)
	}

	if device == nil {
		newDevice := &database.Device{
			UserID:         userID,
			DeviceUUID:     deviceUUID,
			DeviceName:     deviceName,
			RegisteredDate: now,
			LastUsed:       &now,
			IsActive:       true,
		}
		err := s.store.CreateDevice(ctx, newDevice)
		if err == nil {
			return nil
		}
		if !database.IsUniqueViolation(err) {
			return fmt.Errorf("failed to register device: %w", err)
		}
		// Lost a concurrent first-login race. Re-read the winner and fall
		// through to the normal comparison.
		device, err = s.store.GetActiveDevice(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to fetch device: %w", err)
		}
		if device == nil {
			return ErrDeviceMismatch
		}
	}

	if device.DeviceUUID != deviceUUID {
		return ErrDeviceMismatch
	}

	if err := s.store.TouchDevice(ctx, userID, deviceUUID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to touch device")
	}
	return nil
}

// issueToken mints a fresh opaque token for the (user, device) pair,
// revoking any previous one.
func (s *Service) issueToken(ctx context.Context, userID, deviceUUID string, now time.Time) (string, time.Time, error) {
	raw, err := GenerateAccessToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := now.Add(s.config.AccessTokenDuration)
	token := &database.AccessToken{
		UserID:      userID,
		DeviceUUID:  deviceUUID,
		TokenHash:   HashAccessToken(raw),
		CreatedDate: now,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}
	if err := s.store.IssueToken(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return raw, expiresAt, nil
}

// Logout deactivates the active token for a (user, device) pair and returns
// the hashes of the tokens it revoked so cached verification results can be
// dropped. Logging out an already logged-out session succeeds.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) ([]string, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrValidation
	}
	revoked, err := s.store.ActiveTokenHashes(ctx, req.UserID, req.DeviceUUID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Failed to list revoked token hashes")
		revoked = nil
	}
	if err := s.store.DeactivateTokens(ctx, req.UserID, req.DeviceUUID); err != nil {
		return nil, fmt.Errorf("failed to deactivate tokens: %w", err)
	}

	s.logger.Info().Str("user_id", req.UserID).Msg("User logged out")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventUserLogout,
			Data: map[string]interface{}{"user_id": req.UserID, "device_uuid": req.DeviceUUID},
		})
	}
	return revoked, nil
}

// VerifyToken checks an opaque token. An invalid token is a normal result,
// not an error; Reason says why.
func (s *Service) VerifyToken(ctx context.Context, rawToken string) (*VerifyTokenResult, error) {
	if rawToken == "" {
		return &VerifyTokenResult{Valid: false, Reason: "token not found"}, nil
	}

	token, err := s.store.GetTokenByHash(ctx, HashAccessToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	if token == nil {
		return &VerifyTokenResult{Valid: false, Reason: "token not found"}, nil
	}
	if !token.IsActive {
		return &VerifyTokenResult{Valid: false, Reason: "token revoked"}, nil
	}
	if !s.now().UTC().Before(token.ExpiresAt) {
		return &VerifyTokenResult{Valid: false, Reason: "token expired"}, nil
	}

	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil || !user.IsActive {
		return &VerifyTokenResult{Valid: false, Reason: "account disabled"}, nil
	}

	return &VerifyTokenResult{Valid: true, UserID: token.UserID}, nil
}

// CheckTokenOwner reports whether a valid token belongs to the given user.
// The desktop program uses this to pair a phone session with a PC login.
func (s *Service) CheckTokenOwner(ctx context.Context, req CheckTokenOwnerRequest) (bool, error) {
	result, err := s.VerifyToken(ctx, req.AccessToken)
	if err != nil {
		return false, err
	}
	return result.Valid && result.UserID == req.UserID, nil
}

// RequestDeviceChange rebinds the account to a new device. It re-authenticates
// by password and enforces the cooldown since the current binding was made.
// All tokens are revoked and their hashes returned for cache invalidation;
// the phone must log in again to get a new one.
func (s *Service) RequestDeviceChange(ctx context.Context, req DeviceChangeRequest) ([]string, error) {
	if strings.TrimSpace(req.UserID) == "" || req.Password == "" || req.NewDeviceUUID == "" {
		return nil, ErrValidation
	}

	user, err := s.authenticate(ctx, req.UserID, req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	device, err := s.store.GetActiveDevice(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device: %w", err)
	}

	newDevice := &database.Device{
		UserID:         user.UserID,
		DeviceUUID:     req.NewDeviceUUID,
		DeviceName:     req.DeviceName,
		RegisteredDate: now,
		LastUsed:       &now,
		IsActive:       true,
	}

	var revoked []string
	if device == nil {
		if err := s.store.CreateDevice(ctx, newDevice); err != nil {
			if database.IsUniqueViolation(err) {
				return nil, ErrDeviceMismatch
			}
			return nil, fmt.Errorf("failed to register device: %w", err)
		}
	} else {
		daysSince := int(now.Sub(device.RegisteredDate).Hours() / 24)
		if daysSince < s.config.DeviceChangeCooldownDays {
			return nil, ErrDeviceChangeRateLimited(s.config.DeviceChangeCooldownDays - daysSince)
		}
		revoked, err = s.store.ActiveTokenHashes(ctx, user.UserID, "")
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to list revoked token hashes")
			revoked = nil
		}
		if err := s.store.ReplaceDevice(ctx, user.UserID, req.NewDeviceUUID, req.DeviceName); err != nil {
			return nil, fmt.Errorf("failed to replace device: %w", err)
		}
	}

	oldUUID := ""
	if device != nil {
		oldUUID = device.DeviceUUID
	}
	s.logger.Info().Str("user_id", user.UserID).Str("new_device", req.NewDeviceUUID).Msg("Device changed")
	if s.bus != nil {
		s.bus.PublishDeviceChanged(user.UserID, oldUUID, req.NewDeviceUUID)
	}
	return revoked, nil
}

// GetUserInfo returns the profile for a user, or nil when absent.
func (s *Service) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	info := s.userInfo(ctx, user)
	return &info, nil
}

// VerifyMAC checks a desktop MAC address against the stored binding. In dev
// mode any well-formed MAC passes.
func (s *Service) VerifyMAC(ctx context.Context, req VerifyMACRequest) (bool, string, error) {
	mac := NormalizeMAC(req.MACAddress)
	if !ValidMAC(mac) {
		return false, "malformed mac address", nil
	}
	if s.config.DevMode {
		return true, "", nil
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return false, "", fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil || !user.IsActive {
		return false, "account not found or disabled", nil
	}

	// The MAC binding lives on the user row, separate from the mobile device
	// rows: one account runs the desktop program and the phone app at once.
	if user.MACAddress == nil {
		// No binding yet: bind this machine now, first come first served.
		bound, err := s.store.BindUserMAC(ctx, req.UserID, mac)
		if err != nil {
			return false, "", fmt.Errorf("failed to bind mac address: %w", err)
		}
		if !bound {
			return false, "account is registered to a different computer", nil
		}
		s.logger.Info().Str("user_id", req.UserID).Str("mac", mac).Msg("Desktop MAC bound")
		return true, "", nil
	}
	if *user.MACAddress != mac {
		return false, "account is registered to a different computer", nil
	}
	return true, "", nil
}

func (s *Service) userInfo(ctx context.Context, user *database.User) UserInfo {
	info := UserInfo{
		UserID:   user.UserID,
		Name:     user.Name,
		Email:    user.Email,
		IsActive: user.IsActive,
	}
	expiry, err := s.store.CurrentUserExpiry(ctx, user.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to fetch subscription expiry")
	} else if expiry != nil {
		formatted := expiry.UTC().Format("2006-01-02")
		info.ExpiryDate = &formatted
	}
	return info
}
