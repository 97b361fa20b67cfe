package database

import (
	"time"
)

// User represents a registered account. Accounts start inactive and are
// activated by an admin or implicitly by a recorded subscription payment.
// MACAddress is the desktop machine binding; it lives on the user row,
// independent of the mobile device rows, so one account can run the desktop
// program and the mobile app at the same time.
type User struct {
	UserID       string     `json:"user_id" db:"user_id"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never serialize
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email,omitempty" db:"email"`
	Phone        string     `json:"phone,omitempty" db:"phone"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	MACAddress   *string    `json:"mac_address,omitempty" db:"mac_address"`
	CreatedDate  time.Time  `json:"created_date" db:"created_date"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// Device represents a registered mobile device. At most one row per user may
// have is_active = true (enforced by a partial unique index); a device change
// deactivates the old row and inserts a new one, never mutating the UUID.
type Device struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	DeviceUUID     string     `json:"device_uuid" db:"device_uuid"`
	DeviceName     string     `json:"device_name,omitempty" db:"device_name"`
	RegisteredDate time.Time  `json:"registered_date" db:"registered_date"`
	LastUsed       *time.Time `json:"last_used,omitempty" db:"last_used"`
	IsActive       bool       `json:"is_active" db:"is_active"`
}

// AccessToken is a bearer token record. Only the SHA-256 hash of the token is
// stored; the raw value is returned once at issuance and never re-readable.
type AccessToken struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	DeviceUUID  string    `json:"device_uuid" db:"device_uuid"`
	TokenHash   string    `json:"-" db:"token_hash"` // Never serialize
	CreatedDate time.Time `json:"created_date" db:"created_date"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	IsActive    bool      `json:"is_active" db:"is_active"`
}

// UserSubscription is one row of the per-user subscription ledger. Rows are
// immutable once written; extension deactivates the previous active row and
// inserts a new one so the audit trail is preserved.
type UserSubscription struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	StartDate  time.Time `json:"start_date" db:"start_date"`
	ExpiryDate time.Time `json:"expiry_date" db:"expiry_date"`
	PeriodDays int       `json:"period_days" db:"period_days"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UserPayment is an immutable payment record tied to a subscription extension.
type UserPayment struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Amount      float64   `json:"amount" db:"amount"`
	PeriodDays  int       `json:"period_days" db:"period_days"`
	Method      string    `json:"method,omitempty" db:"method"`
	Note        string    `json:"note,omitempty" db:"note"`
	PaymentDate time.Time `json:"payment_date" db:"payment_date"`
}

// UserUsageStat is an insert-only telemetry row for one automation run.
type UserUsageStat struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	TotalInvoices int       `json:"total_invoices" db:"total_invoices"`
	SuccessCount  int       `json:"success_count" db:"success_count"`
	FailCount     int       `json:"fail_count" db:"fail_count"`
	MACAddress    string    `json:"mac_address,omitempty" db:"mac_address"`
	HardwareID    string    `json:"hardware_id,omitempty" db:"hardware_id"`
	UsageDate     time.Time `json:"usage_date" db:"usage_date"`
}

// UserSummary is the admin listing projection: the user row with its derived
// subscription state and aggregated usage.
type UserSummary struct {
	User
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	IsExpired     bool       `json:"is_expired"`
	DeviceUUID    string     `json:"device_uuid,omitempty"`
	RunCount      int        `json:"run_count"`
	TotalInvoices int        `json:"total_invoices"`
	LastUsage     *time.Time `json:"last_usage,omitempty"`
}
