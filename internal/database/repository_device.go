package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetActiveDevice returns the user's currently bound device, or nil when the
// user has never bound one (state NO_DEVICE).
func (r *Repository) GetActiveDevice(ctx context.Context, userID string) (*Device, error) {
	query := `
	SELECT id, user_id, device_uuid, COALESCE(device_name, ''),
	       registered_date, last_used, is_active
	FROM user_devices
	WHERE user_id = $1 AND is_active
	`

	var d Device
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&d.ID,
		&d.UserID,
		&d.DeviceUUID,
		&d.DeviceName,
		&d.RegisteredDate,
		&d.LastUsed,
		&d.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active device: %w", err)
	}

	return &d, nil
}

// CreateDevice binds a device to a user. The partial unique index on
// (user_id) WHERE is_active makes a concurrent double-bind fail with a unique
// violation instead of silently producing two bindings.
func (r *Repository) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = newRowID()
	}
	d.RegisteredDate = time.Now()
	d.IsActive = true

	query := `
	INSERT INTO user_devices (id, user_id, device_uuid, device_name, registered_date, is_active)
	VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		d.ID,
		d.UserID,
		d.DeviceUUID,
		d.DeviceName,
		d.RegisteredDate,
		d.IsActive,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

// TouchDevice updates last_used for the bound device.
func (r *Repository) TouchDevice(ctx context.Context, userID, deviceUUID string) error {
	query := `
	UPDATE user_devices SET last_used = NOW()
	WHERE user_id = $1 AND device_uuid = $2 AND is_active
	`
	_, err := r.db.Pool.Exec(ctx, query, userID, deviceUUID)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

// ReplaceDevice performs a device change in one transaction: deactivate the
// old device row, deactivate all of its tokens, insert the new device. The
// caller has already verified the cooldown.
func (r *Repository) ReplaceDevice(ctx context.Context, userID, newDeviceUUID, deviceName string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin device change: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE user_devices SET is_active = FALSE WHERE user_id = $1 AND is_active`,
		userID,
	); err != nil {
		return fmt.Errorf("failed to deactivate old device: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE access_tokens SET is_active = FALSE WHERE user_id = $1 AND is_active`,
		userID,
	); err != nil {
		return fmt.Errorf("failed to deactivate tokens: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_devices (id, user_id, device_uuid, device_name, registered_date, is_active)
		 VALUES ($1, $2, $3, $4, NOW(), TRUE)`,
		newRowID(), userID, newDeviceUUID, deviceName,
	); err != nil {
		return fmt.Errorf("failed to insert new device: %w", err)
	}

	return tx.Commit(ctx)
}
