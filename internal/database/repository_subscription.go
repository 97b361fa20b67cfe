package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CurrentUserExpiry returns MAX(expiry_date) among the user's active
// subscription rows, or nil when the user has no active subscription. By
// construction at most one active row exists, since extension always
// deactivates siblings before inserting.
func (r *Repository) CurrentUserExpiry(ctx context.Context, userID string) (*time.Time, error) {
	query := `
	SELECT MAX(expiry_date) FROM user_subscriptions
	WHERE user_id = $1 AND is_active
	`

	var expiry *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&expiry); err != nil {
		return nil, fmt.Errorf("failed to get current expiry: %w", err)
	}

	return expiry, nil
}

// ExtendUserSubscription extends a user's subscription in one transaction:
// lock the latest active ledger row, compute the new expiry (restart from now
// when already expired, extend from the current expiry otherwise), deactivate
// prior active rows, append the new row and the payment record, and set the
// user active, since a recorded payment reactivates a dormant or unapproved
// account. Returns the new expiry.
func (r *Repository) ExtendUserSubscription(ctx context.Context, userID string, periodDays int, amount float64, method, note string) (time.Time, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin extension: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the user row so concurrent extensions serialize.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT TRUE FROM users WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&exists)
	if err == pgx.ErrNoRows {
		return time.Time{}, pgx.ErrNoRows
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to lock user: %w", err)
	}

	var currentExpiry *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT MAX(expiry_date) FROM user_subscriptions WHERE user_id = $1 AND is_active`,
		userID,
	).Scan(&currentExpiry); err != nil {
		return time.Time{}, fmt.Errorf("failed to read current expiry: %w", err)
	}

	now := time.Now()
	base := now
	if currentExpiry != nil && currentExpiry.After(now) {
		base = *currentExpiry
	}
	newExpiry := base.AddDate(0, 0, periodDays)

	if _, err := tx.Exec(ctx,
		`UPDATE user_subscriptions SET is_active = FALSE WHERE user_id = $1 AND is_active`,
		userID,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to deactivate prior ledger rows: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_subscriptions (id, user_id, start_date, expiry_date, period_days, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $3)`,
		newRowID(), userID, now, newExpiry, periodDays,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to append ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_payments (id, user_id, amount, period_days, method, note, payment_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		newRowID(), userID, amount, periodDays, method, note, now,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to record payment: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET is_active = TRUE WHERE user_id = $1`,
		userID,
	); err != nil {
		return time.Time{}, fmt.Errorf("failed to activate user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit extension: %w", err)
	}

	return newExpiry, nil
}
