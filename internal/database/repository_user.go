package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new user row. Returns a unique violation (detectable
// via IsUniqueViolation) when the user_id is already taken.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	user.CreatedDate = time.Now()

	query := `
	INSERT INTO users (user_id, password_hash, name, email, phone, is_active, created_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		user.UserID,
		user.PasswordHash,
		user.Name,
		user.Email,
		user.Phone,
		user.IsActive,
		user.CreatedDate,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user, or nil when absent.
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `
	SELECT user_id, password_hash, name, COALESCE(email, ''), COALESCE(phone, ''),
	       is_active, mac_address, created_date, last_login
	FROM users
	WHERE user_id = $1
	`

	var user User
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.PasswordHash,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.IsActive,
		&user.MACAddress,
		&user.CreatedDate,
		&user.LastLogin,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpdateUserLastLogin stamps the last successful authentication time.
func (r *Repository) UpdateUserLastLogin(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_login = NOW() WHERE user_id = $1`
	_, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// BindUserMAC sets the desktop MAC binding if the account has none yet. The
// conditional update makes concurrent first checks race-safe: the row is only
// written when the column is NULL or already holds this MAC, so exactly one
// machine wins. Returns whether the account now carries this MAC.
func (r *Repository) BindUserMAC(ctx context.Context, userID, mac string) (bool, error) {
	query := `
	UPDATE users SET mac_address = $2
	WHERE user_id = $1 AND (mac_address IS NULL OR mac_address = $2)
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, mac)
	if err != nil {
		return false, fmt.Errorf("failed to bind mac address: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetUserActive flips the account's active flag (admin approval / suspension).
func (r *Repository) SetUserActive(ctx context.Context, userID string, active bool) error {
	query := `UPDATE users SET is_active = $2 WHERE user_id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, userID, active)
	if err != nil {
		return fmt.Errorf("failed to set user active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListUsers returns all users with derived subscription state, bound device
// and aggregated usage, newest first. Admin listing only.
func (r *Repository) ListUsers(ctx context.Context) ([]UserSummary, error) {
	query := `
	SELECT u.user_id, u.name, COALESCE(u.email, ''), COALESCE(u.phone, ''),
	       u.is_active, u.created_date, u.last_login,
	       (SELECT MAX(s.expiry_date) FROM user_subscriptions s
	        WHERE s.user_id = u.user_id AND s.is_active),
	       COALESCE((SELECT d.device_uuid FROM user_devices d
	        WHERE d.user_id = u.user_id AND d.is_active), ''),
	       (SELECT COUNT(*) FROM user_usage_stats us WHERE us.user_id = u.user_id),
	       COALESCE((SELECT SUM(us.total_invoices) FROM user_usage_stats us
	        WHERE us.user_id = u.user_id), 0),
	       (SELECT MAX(us.usage_date) FROM user_usage_stats us WHERE us.user_id = u.user_id)
	FROM users u
	ORDER BY u.created_date DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	now := time.Now()
	for rows.Next() {
		var u UserSummary
		err := rows.Scan(
			&u.UserID,
			&u.Name,
			&u.Email,
			&u.Phone,
			&u.IsActive,
			&u.CreatedDate,
			&u.LastLogin,
			&u.ExpiryDate,
			&u.DeviceUUID,
			&u.RunCount,
			&u.TotalInvoices,
			&u.LastUsage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.IsExpired = u.ExpiryDate == nil || u.ExpiryDate.Before(now)
		users = append(users, u)
	}

	return users, rows.Err()
}

// newRowID generates a fresh UUID string for primary keys.
func newRowID() string {
	return uuid.New().String()
}
