package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository provides data access methods for all tables
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// Callers use it to translate the one-active-device and one-active-token
// indexes into domain errors instead of surfacing raw store errors.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// HealthInfo describes the store for the health endpoint.
type HealthInfo struct {
	DBType    string         `json:"db_type"`
	DBVersion string         `json:"db_version"`
	Tables    map[string]int `json:"tables"`
}

// Health returns the database type/version and per-table row counts.
func (r *Repository) Health(ctx context.Context) (*HealthInfo, error) {
	info := &HealthInfo{
		DBType: "postgresql",
		Tables: make(map[string]int),
	}

	if err := r.db.Pool.QueryRow(ctx, "SELECT version()").Scan(&info.DBVersion); err != nil {
		return nil, fmt.Errorf("failed to get database version: %w", err)
	}

	tables := []string{
		"users", "user_devices", "access_tokens",
		"user_subscriptions", "user_payments", "user_usage_stats",
		"licenses", "subscriptions", "usage_stats",
	}
	for _, table := range tables {
		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := r.db.Pool.QueryRow(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		info.Tables[table] = count
	}

	return info, nil
}
