package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateLicense inserts a new license row.
func (r *Repository) CreateLicense(ctx context.Context, license *License) error {
	if license.ID == "" {
		license.ID = newRowID()
	}
	license.CreatedDate = time.Now()

	query := `
	INSERT INTO licenses (id, license_key, hardware_id, customer_name, customer_email,
	                      created_date, expiry_date, is_active, subscription_type)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		license.ID,
		license.LicenseKey,
		license.HardwareID,
		license.CustomerName,
		license.CustomerEmail,
		license.CreatedDate,
		license.ExpiryDate,
		license.IsActive,
		license.SubscriptionType,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

// GetLicenseByKey retrieves a license by its key, or nil when absent.
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	query := `
	SELECT id, license_key, hardware_id, COALESCE(customer_name, ''), COALESCE(customer_email, ''),
	       created_date, expiry_date, is_active, subscription_type, last_verified
	FROM licenses
	WHERE license_key = $1
	`

	var license License
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(
		&license.ID,
		&license.LicenseKey,
		&license.HardwareID,
		&license.CustomerName,
		&license.CustomerEmail,
		&license.CreatedDate,
		&license.ExpiryDate,
		&license.IsActive,
		&license.SubscriptionType,
		&license.LastVerified,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by key: %w", err)
	}

	return &license, nil
}

// BindHardware sets the hardware binding if and only if it is still unset.
// The conditional update makes first-activation-wins atomic: of two
// simultaneous first activations exactly one affects a row. Returns whether
// this call performed the bind.
func (r *Repository) BindHardware(ctx context.Context, key, hardwareID, customerName, customerEmail string) (bool, error) {
	query := `
	UPDATE licenses
	SET hardware_id = $2, customer_name = $3, customer_email = $4
	WHERE license_key = $1 AND hardware_id IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, key, hardwareID, customerName, customerEmail)
	if err != nil {
		return false, fmt.Errorf("failed to bind hardware: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateLicenseLastVerified stamps the verification time.
func (r *Repository) UpdateLicenseLastVerified(ctx context.Context, key string) error {
	query := `UPDATE licenses SET last_verified = NOW() WHERE license_key = $1`
	_, err := r.db.Pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to update last verified: %w", err)
	}
	return nil
}

// ExtendLicense extends a license inside one transaction: the license row is
// locked, the new expiry computed (restart from now when already expired,
// extend from current expiry otherwise), prior active ledger rows are
// deactivated and a fresh ledger row appended. Returns the new expiry.
func (r *Repository) ExtendLicense(ctx context.Context, key string, periodDays int, amount float64) (time.Time, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin extension: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentExpiry time.Time
	err = tx.QueryRow(ctx,
		`SELECT expiry_date FROM licenses WHERE license_key = $1 FOR UPDATE`,
		key,
	).Scan(&currentExpiry)
	if err == pgx.ErrNoRows {
		return time.Time{}, pgx.ErrNoRows
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to lock license: %w", err)
	}

	now := time.Now()
	base := currentExpiry
	if base.Before(now) {
		base = now
	}
	newExpiry := base.AddDate(0, 0, periodDays)

	if _, err := tx.Exec(ctx,
		`UPDATE licenses SET expiry_date = $2 WHERE license_key = $1`,
		key, newExpiry,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to update expiry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE license_key = $1 AND is_active`,
		key,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to deactivate prior ledger rows: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO subscriptions (id, license_key, payment_date, amount, period_days, is_active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)`,
		newRowID(), key, now, amount, periodDays,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to append ledger row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit extension: %w", err)
	}

	return newExpiry, nil
}

// ListLicenses returns all licenses with derived expiry state and aggregated
// usage, newest first. Admin listing only.
func (r *Repository) ListLicenses(ctx context.Context) ([]LicenseSummary, error) {
	query := `
	SELECT l.license_key, l.hardware_id, COALESCE(l.customer_name, ''), COALESCE(l.customer_email, ''),
	       l.created_date, l.expiry_date, l.is_active, l.subscription_type, l.last_verified,
	       (SELECT COUNT(*) FROM usage_stats us WHERE us.license_key = l.license_key),
	       COALESCE((SELECT SUM(us.total_invoices) FROM usage_stats us
	        WHERE us.license_key = l.license_key), 0),
	       (SELECT MAX(us.usage_date) FROM usage_stats us WHERE us.license_key = l.license_key)
	FROM licenses l
	ORDER BY l.created_date DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []LicenseSummary
	now := time.Now()
	for rows.Next() {
		var l LicenseSummary
		err := rows.Scan(
			&l.LicenseKey,
			&l.HardwareID,
			&l.CustomerName,
			&l.CustomerEmail,
			&l.CreatedDate,
			&l.ExpiryDate,
			&l.IsActive,
			&l.SubscriptionType,
			&l.LastVerified,
			&l.RunCount,
			&l.TotalInvoices,
			&l.LastUsage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		l.IsExpired = l.ExpiryDate.Before(now)
		licenses = append(licenses, l)
	}

	return licenses, rows.Err()
}

// AdminStats is the aggregate view for the admin dashboard.
type AdminStats struct {
	TotalLicenses   int     `json:"total_licenses"`
	ActiveLicenses  int     `json:"active_licenses"`
	ExpiredLicenses int     `json:"expired_licenses"`
	TotalUsers      int     `json:"total_users"`
	ActiveUsers     int     `json:"active_users"`
	TotalRevenue    float64 `json:"total_revenue"`
}

// GetAdminStats returns totals across both the license and user schemes.
func (r *Repository) GetAdminStats(ctx context.Context) (*AdminStats, error) {
	stats := &AdminStats{}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM licenses`,
	).Scan(&stats.TotalLicenses); err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM licenses WHERE expiry_date > NOW() AND is_active`,
	).Scan(&stats.ActiveLicenses); err != nil {
		return nil, fmt.Errorf("failed to count active licenses: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM licenses WHERE expiry_date <= NOW() OR NOT is_active`,
	).Scan(&stats.ExpiredLicenses); err != nil {
		return nil, fmt.Errorf("failed to count expired licenses: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users`,
	).Scan(&stats.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE is_active`,
	).Scan(&stats.ActiveUsers); err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM (SELECT amount FROM subscriptions
		       UNION ALL
		       SELECT amount FROM user_payments) p`,
	).Scan(&stats.TotalRevenue); err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}

	return stats, nil
}
