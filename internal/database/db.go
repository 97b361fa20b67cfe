package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// The server is stateless request-per-call; the pool is the only shared
	// resource across requests.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		// Users: soft-deleted via is_active, never hard-deleted
		`CREATE TABLE IF NOT EXISTS users (
			user_id VARCHAR(100) PRIMARY KEY,
			password_hash TEXT NOT NULL,
			name VARCHAR(100) NOT NULL,
			email VARCHAR(255),
			phone VARCHAR(50),
			is_active BOOLEAN DEFAULT FALSE,
			mac_address VARCHAR(17),
			created_date TIMESTAMP NOT NULL DEFAULT NOW(),
			last_login TIMESTAMP
		)`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS mac_address VARCHAR(17)`,

		// Devices: one active device per user, enforced at the store level so
		// two concurrent first logins cannot both bind
		`CREATE TABLE IF NOT EXISTS user_devices (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL REFERENCES users(user_id),
			device_uuid VARCHAR(100) NOT NULL,
			device_name VARCHAR(200),
			registered_date TIMESTAMP NOT NULL DEFAULT NOW(),
			last_used TIMESTAMP,
			is_active BOOLEAN DEFAULT TRUE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_devices_one_active
			ON user_devices(user_id) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_user_devices_uuid ON user_devices(device_uuid)`,

		// Access tokens: hash-only storage, one active token per (user, device)
		`CREATE TABLE IF NOT EXISTS access_tokens (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL REFERENCES users(user_id),
			device_uuid VARCHAR(100) NOT NULL,
			token_hash VARCHAR(64) NOT NULL,
			created_date TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL,
			is_active BOOLEAN DEFAULT TRUE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_access_tokens_one_active
			ON access_tokens(user_id, device_uuid) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_access_tokens_hash ON access_tokens(token_hash)`,

		// Per-user subscription ledger (append-only)
		`CREATE TABLE IF NOT EXISTS user_subscriptions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL REFERENCES users(user_id),
			start_date TIMESTAMP NOT NULL,
			expiry_date TIMESTAMP NOT NULL,
			period_days INTEGER NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_subscriptions_user
			ON user_subscriptions(user_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS user_payments (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL REFERENCES users(user_id),
			amount DECIMAL(12, 2) NOT NULL,
			period_days INTEGER NOT NULL,
			method VARCHAR(50),
			note TEXT,
			payment_date TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Per-user usage telemetry (insert-only)
		`CREATE TABLE IF NOT EXISTS user_usage_stats (
			id UUID PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL REFERENCES users(user_id),
			total_invoices INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			fail_count INTEGER NOT NULL DEFAULT 0,
			mac_address VARCHAR(17),
			hardware_id VARCHAR(64),
			usage_date TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_usage_stats_user_date
			ON user_usage_stats(user_id, usage_date)`,

		// Legacy license-key flow, independent of the user/device model
		`CREATE TABLE IF NOT EXISTS licenses (
			id UUID PRIMARY KEY,
			license_key VARCHAR(16) UNIQUE NOT NULL,
			hardware_id VARCHAR(64),
			customer_name VARCHAR(200),
			customer_email VARCHAR(255),
			created_date TIMESTAMP NOT NULL DEFAULT NOW(),
			expiry_date TIMESTAMP NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			subscription_type VARCHAR(20) DEFAULT 'monthly',
			last_verified TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses(license_key)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			license_key VARCHAR(16) NOT NULL REFERENCES licenses(license_key),
			payment_date TIMESTAMP NOT NULL DEFAULT NOW(),
			amount DECIMAL(12, 2) NOT NULL,
			period_days INTEGER NOT NULL,
			is_active BOOLEAN DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_key
			ON subscriptions(license_key, is_active)`,

		`CREATE TABLE IF NOT EXISTS usage_stats (
			id UUID PRIMARY KEY,
			license_key VARCHAR(16) NOT NULL REFERENCES licenses(license_key),
			usage_date TIMESTAMP NOT NULL DEFAULT NOW(),
			total_invoices INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			fail_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_stats_license_date
			ON usage_stats(license_key, usage_date)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
