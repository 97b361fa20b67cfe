package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// IssueToken deactivates all active tokens for the (user, device) pair and
// inserts the new one in a single transaction, so a concurrent verify never
// observes two active tokens or a gap with none committed.
func (r *Repository) IssueToken(ctx context.Context, token *AccessToken) error {
	if token.ID == "" {
		token.ID = newRowID()
	}
	token.CreatedDate = time.Now()
	token.IsActive = true

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin token issuance: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE access_tokens SET is_active = FALSE
		 WHERE user_id = $1 AND device_uuid = $2 AND is_active`,
		token.UserID, token.DeviceUUID,
	); err != nil {
		return fmt.Errorf("failed to deactivate prior tokens: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO access_tokens (id, user_id, device_uuid, token_hash, created_date, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		token.ID,
		token.UserID,
		token.DeviceUUID,
		token.TokenHash,
		token.CreatedDate,
		token.ExpiresAt,
		token.IsActive,
	); err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	return tx.Commit(ctx)
}

// GetTokenByHash looks up a token by its stored hash, or nil when absent. The
// raw token value is never stored, so lookup by raw value is impossible by
// construction. Expiry is checked by the caller at read time, not swept.
func (r *Repository) GetTokenByHash(ctx context.Context, tokenHash string) (*AccessToken, error) {
	query := `
	SELECT id, user_id, device_uuid, token_hash, created_date, expires_at, is_active
	FROM access_tokens
	WHERE token_hash = $1
	`

	var t AccessToken
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID,
		&t.UserID,
		&t.DeviceUUID,
		&t.TokenHash,
		&t.CreatedDate,
		&t.ExpiresAt,
		&t.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return &t, nil
}

// DeactivateTokens logs out the (user, device) pair; an empty deviceUUID
// revokes across all devices. Idempotent: deactivating already-inactive
// tokens is a no-op.
func (r *Repository) DeactivateTokens(ctx context.Context, userID, deviceUUID string) error {
	query := `
	UPDATE access_tokens SET is_active = FALSE
	WHERE user_id = $1 AND ($2 = '' OR device_uuid = $2) AND is_active
	`
	_, err := r.db.Pool.Exec(ctx, query, userID, deviceUUID)
	if err != nil {
		return fmt.Errorf("failed to deactivate tokens: %w", err)
	}
	return nil
}

// ActiveTokenHashes lists the stored hashes of the still-active tokens for a
// user, optionally narrowed to one device. Rotation, logout and device change
// use it to drop cached verification results for the tokens being revoked;
// the cache is keyed by this same hash, raw token values are never stored.
func (r *Repository) ActiveTokenHashes(ctx context.Context, userID, deviceUUID string) ([]string, error) {
	query := `
	SELECT token_hash FROM access_tokens
	WHERE user_id = $1 AND ($2 = '' OR device_uuid = $2) AND is_active
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, deviceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan token hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}
