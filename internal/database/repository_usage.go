package database

import (
	"context"
	"fmt"
	"time"
)

// RecordLicenseUsage appends one telemetry row for a desktop run. Usage
// recording is deliberately permissive: the binding was authorized earlier in
// the flow and is not re-checked at write time.
func (r *Repository) RecordLicenseUsage(ctx context.Context, stat *LicenseUsageStat) error {
	if stat.ID == "" {
		stat.ID = newRowID()
	}
	stat.UsageDate = time.Now()

	query := `
	INSERT INTO usage_stats (id, license_key, usage_date, total_invoices, success_count, fail_count)
	VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		stat.ID,
		stat.LicenseKey,
		stat.UsageDate,
		stat.TotalInvoices,
		stat.SuccessCount,
		stat.FailCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record license usage: %w", err)
	}

	return nil
}

// RecordUserUsage appends one telemetry row for a user-account run.
func (r *Repository) RecordUserUsage(ctx context.Context, stat *UserUsageStat) error {
	if stat.ID == "" {
		stat.ID = newRowID()
	}
	stat.UsageDate = time.Now()

	query := `
	INSERT INTO user_usage_stats (id, user_id, total_invoices, success_count, fail_count,
	                              mac_address, hardware_id, usage_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		stat.ID,
		stat.UserID,
		stat.TotalInvoices,
		stat.SuccessCount,
		stat.FailCount,
		stat.MACAddress,
		stat.HardwareID,
		stat.UsageDate,
	)
	if err != nil {
		return fmt.Errorf("failed to record user usage: %w", err)
	}

	return nil
}
