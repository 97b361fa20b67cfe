package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aibot-license-server/internal/database"
	"aibot-license-server/internal/events"
)

// License engine errors.
var (
	ErrNotFound         = errors.New("license not found")
	ErrBadKeyFormat     = errors.New("malformed license key")
	ErrHardwareMismatch = errors.New("license is activated on different hardware")
	ErrExpired          = errors.New("license has expired")
	ErrInactive         = errors.New("license is deactivated")
)

// Store is the persistence surface the license service needs.
type Store interface {
	CreateLicense(ctx context.Context, lic *database.License) error
	GetLicenseByKey(ctx context.Context, key string) (*database.License, error)
	BindHardware(ctx context.Context, key, hardwareID, customerName, customerEmail string) (bool, error)
	UpdateLicenseLastVerified(ctx context.Context, key string) error
	ExtendLicense(ctx context.Context, key string, periodDays int, amount float64) (time.Time, error)
	RecordLicenseUsage(ctx context.Context, stat *database.LicenseUsageStat) error
}

// CreateRequest describes a new license.
type CreateRequest struct {
	CustomerName     string `json:"customer_name"`
	CustomerEmail    string `json:"customer_email"`
	DurationDays     int    `json:"duration_days"`
	SubscriptionType string `json:"subscription_type"`
}

// VerifyResult is the outcome of a verification check. Invalid licenses are a
// normal outcome; Reason explains why Valid is false.
type VerifyResult struct {
	Valid        bool       `json:"valid"`
	Reason       string     `json:"reason,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
}

// ExtendRequest extends a license and records the payment.
type ExtendRequest struct {
	PeriodDays int     `json:"period_days"`
	Amount     float64 `json:"amount"`
}

// UsageReport is one desktop run's telemetry.
type UsageReport struct {
	TotalInvoices int `json:"total_invoices"`
	SuccessCount  int `json:"success_count"`
	FailCount     int `json:"fail_count"`
}

// Service implements license issuance, hardware binding and verification.
type Service struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new license service
func NewService(store Store, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "license").Logger(),
		now:    time.Now,
	}
}

// Create issues a new license with a freshly generated key. The key is
// regenerated on the rare collision with an existing one.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*database.License, error) {
	if req.DurationDays <= 0 {
		req.DurationDays = 30
	}
	if req.SubscriptionType == "" {
		req.SubscriptionType = "standard"
	}

	now := s.now().UTC()
	for attempt := 0; attempt < 3; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		lic := &database.License{
			LicenseKey:       key,
			CustomerName:     strings.TrimSpace(req.CustomerName),
			CustomerEmail:    strings.TrimSpace(req.CustomerEmail),
			CreatedDate:      now,
			ExpiryDate:       now.AddDate(0, 0, req.DurationDays),
			IsActive:         true,
			SubscriptionType: req.SubscriptionType,
		}
		err = s.store.CreateLicense(ctx, lic)
		if err == nil {
			s.logger.Info().Str("license_key", key).Str("customer", lic.CustomerName).Msg("License created")
			if s.bus != nil {
				s.bus.Publish(events.Event{
					Type: events.EventLicenseCreated,
					Data: map[string]interface{}{"license_key": key, "customer": lic.CustomerName},
				})
			}
			return lic, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create license: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to create license: key space exhausted")
}

// lookup normalizes the key and fetches the license.
func (s *Service) lookup(ctx context.Context, rawKey string) (*database.License, error) {
	key := NormalizeKey(rawKey)
	if !ValidKeyFormat(key) {
		return nil, ErrBadKeyFormat
	}
	lic, err := s.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch license: %w", err)
	}
	if lic == nil {
		return nil, ErrNotFound
	}
	return lic, nil
}

// Activate binds a license to a machine. The first activation wins; later
// activations from the same machine succeed, any other machine is refused.
func (s *Service) Activate(ctx context.Context, rawKey, hardwareID, customerName, customerEmail string) (*database.License, error) {
	lic, err := s.lookup(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if !lic.IsActive {
		return nil, ErrInactive
	}

	if lic.HardwareID == nil {
		bound, err := s.store.BindHardware(ctx, lic.LicenseKey, hardwareID, customerName, customerEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to bind hardware: %w", err)
		}
		if bound {
			s.logger.Info().Str("license_key", lic.LicenseKey).Str("hardware_id", hardwareID).Msg("License activated")
			if s.bus != nil {
				s.bus.PublishLicenseActivated(lic.LicenseKey, hardwareID)
			}
		}
		// Winner or loser of a concurrent activation race, re-read the
		// committed binding and fall through to the normal comparison.
		lic, err = s.lookup(ctx, lic.LicenseKey)
		if err != nil {
			return nil, err
		}
	}

	if lic.HardwareID == nil || *lic.HardwareID != hardwareID {
		return nil, ErrHardwareMismatch
	}
	// The binding happens before the expiry check: an expired key still
	// claims the machine, it just cannot run until extended.
	if !s.now().UTC().Before(lic.ExpiryDate) {
		return nil, ErrExpired
	}
	if err := s.store.UpdateLicenseLastVerified(ctx, lic.LicenseKey); err != nil {
		s.logger.Warn().Err(err).Str("license_key", lic.LicenseKey).Msg("Failed to stamp last_verified")
	}
	return lic, nil
}

// Verify checks a license against a machine. Invalid outcomes are results,
// not errors; the server also stamps last_verified on success.
func (s *Service) Verify(ctx context.Context, rawKey, hardwareID string) (*VerifyResult, error) {
	lic, err := s.lookup(ctx, rawKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadKeyFormat):
			return &VerifyResult{Valid: false, Reason: "malformed license key"}, nil
		case errors.Is(err, ErrNotFound):
			return &VerifyResult{Valid: false, Reason: "license not found"}, nil
		}
		return nil, err
	}

	result := &VerifyResult{CustomerName: lic.CustomerName, ExpiryDate: &lic.ExpiryDate}
	switch {
	case !lic.IsActive:
		result.Reason = "license deactivated"
	case lic.HardwareID == nil:
		result.Reason = "license not activated"
	case *lic.HardwareID != hardwareID:
		result.Reason = "hardware mismatch"
	case !s.now().UTC().Before(lic.ExpiryDate):
		result.Reason = "license expired"
	default:
		result.Valid = true
	}

	if result.Valid {
		if err := s.store.UpdateLicenseLastVerified(ctx, lic.LicenseKey); err != nil {
			s.logger.Warn().Err(err).Str("license_key", lic.LicenseKey).Msg("Failed to stamp last_verified")
		}
	}
	if s.bus != nil {
		s.bus.PublishLicenseVerified(lic.LicenseKey, result.Valid, result.Reason)
	}
	return result, nil
}

// Extend pushes the expiry forward and records the payment in the ledger. An
// expired license restarts from now, a live one extends from its current
// expiry.
func (s *Service) Extend(ctx context.Context, rawKey string, req ExtendRequest) (time.Time, error) {
	lic, err := s.lookup(ctx, rawKey)
	if err != nil {
		return time.Time{}, err
	}
	if req.PeriodDays <= 0 {
		return time.Time{}, fmt.Errorf("period_days must be positive")
	}

	newExpiry, err := s.store.ExtendLicense(ctx, lic.LicenseKey, req.PeriodDays, req.Amount)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to extend license: %w", err)
	}

	s.logger.Info().
		Str("license_key", lic.LicenseKey).
		Int("period_days", req.PeriodDays).
		Time("new_expiry", newExpiry).
		Msg("License extended")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventLicenseExtended,
			Data: map[string]interface{}{
				"license_key": lic.LicenseKey,
				"period_days": req.PeriodDays,
				"new_expiry":  newExpiry.Format(time.RFC3339),
			},
		})
	}
	return newExpiry, nil
}

// Info returns the license record without any hardware check.
func (s *Service) Info(ctx context.Context, rawKey string) (*database.License, error) {
	return s.lookup(ctx, rawKey)
}

// RecordUsage appends a usage row. Recording stays permissive: a stale or
// rebound client still gets its telemetry stored, enforcement lives in
// Verify.
func (s *Service) RecordUsage(ctx context.Context, rawKey string, report UsageReport) error {
	key := NormalizeKey(rawKey)
	if !ValidKeyFormat(key) {
		return ErrBadKeyFormat
	}

	stat := &database.LicenseUsageStat{
		LicenseKey:    key,
		TotalInvoices: report.TotalInvoices,
		SuccessCount:  report.SuccessCount,
		FailCount:     report.FailCount,
	}
	if err := s.store.RecordLicenseUsage(ctx, stat); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if s.bus != nil {
		s.bus.PublishUsageRecorded(key, "run")
	}
	return nil
}
