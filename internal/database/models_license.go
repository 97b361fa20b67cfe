package database

import (
	"time"
)

// License represents a key in the legacy desktop flow, bound to exactly one
// hardware fingerprint. The binding is set at most once: the first activation
// wins and later activations from other machines are rejected.
type License struct {
	ID               string     `json:"id" db:"id"`
	LicenseKey       string     `json:"license_key" db:"license_key"`
	HardwareID       *string    `json:"hardware_id,omitempty" db:"hardware_id"`
	CustomerName     string     `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail    string     `json:"customer_email,omitempty" db:"customer_email"`
	CreatedDate      time.Time  `json:"created_date" db:"created_date"`
	ExpiryDate       time.Time  `json:"expiry_date" db:"expiry_date"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	SubscriptionType string     `json:"subscription_type" db:"subscription_type"`
	LastVerified     *time.Time `json:"last_verified,omitempty" db:"last_verified"`
}

// LicenseSubscription is one immutable row of the per-license payment ledger.
type LicenseSubscription struct {
	ID          string    `json:"id" db:"id"`
	LicenseKey  string    `json:"license_key" db:"license_key"`
	PaymentDate time.Time `json:"payment_date" db:"payment_date"`
	Amount      float64   `json:"amount" db:"amount"`
	PeriodDays  int       `json:"period_days" db:"period_days"`
	IsActive    bool      `json:"is_active" db:"is_active"`
}

// LicenseUsageStat is an insert-only telemetry row for one desktop run.
type LicenseUsageStat struct {
	ID            string    `json:"id" db:"id"`
	LicenseKey    string    `json:"license_key" db:"license_key"`
	UsageDate     time.Time `json:"usage_date" db:"usage_date"`
	TotalInvoices int       `json:"total_invoices" db:"total_invoices"`
	SuccessCount  int       `json:"success_count" db:"success_count"`
	FailCount     int       `json:"fail_count" db:"fail_count"`
}

// LicenseSummary is the admin listing projection with derived expiry state and
// aggregated usage.
type LicenseSummary struct {
	License
	IsExpired     bool       `json:"is_expired"`
	RunCount      int        `json:"run_count"`
	TotalInvoices int        `json:"total_invoices"`
	LastUsage     *time.Time `json:"last_usage,omitempty"`
}
