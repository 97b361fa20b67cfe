package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	AuthConfig     AuthConfig     `json:"auth"`
	LicenseConfig  LicenseConfig  `json:"license"`
	AdminConfig    AdminConfig    `json:"admin"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`

	// DevMode disables authentication and MAC checks entirely. It is resolved
	// once at startup from DEV_MODE or the dev-mode file and never re-read.
	DevMode bool `json:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// AuthConfig holds user authentication configuration
type AuthConfig struct {
	BcryptCost               int           `json:"bcrypt_cost"`
	MinPasswordLength        int           `json:"min_password_length"`
	AccessTokenDuration      time.Duration `json:"access_token_duration"`
	DeviceChangeCooldownDays int           `json:"device_change_cooldown_days"`
	MaxLoginAttempts         int           `json:"max_login_attempts"`
	LoginAttemptWindow       time.Duration `json:"login_attempt_window"`
}

// LicenseConfig holds license issuing configuration
type LicenseConfig struct {
	DefaultPeriodDays       int    `json:"default_period_days"`
	DefaultSubscriptionType string `json:"default_subscription_type"` // monthly, yearly
}

// AdminConfig holds admin panel configuration
type AdminConfig struct {
	AdminKey             string        `json:"admin_key"`
	SessionSecret        string        `json:"session_secret"`
	SessionTokenDuration time.Duration `json:"session_token_duration"`
}

// RedisConfig holds Redis configuration for caching and rate limiting
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for the server secrets
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	// Dev-mode bypass: env var wins, otherwise a marker file containing "true".
	// Resolved exactly once here so a mid-flight file edit never changes behavior.
	cfg.DevMode = resolveDevMode(getEnvOrDefault("DEV_MODE_FILE", "config/dev_mode.txt"))

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 5000)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "license_server")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "license_server")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Auth config
	cfg.AuthConfig.BcryptCost = getEnvIntOrDefault("AUTH_BCRYPT_COST", 12)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 8)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 7*24*time.Hour)
	cfg.AuthConfig.DeviceChangeCooldownDays = getEnvIntOrDefault("AUTH_DEVICE_CHANGE_COOLDOWN_DAYS", 30)
	cfg.AuthConfig.MaxLoginAttempts = getEnvIntOrDefault("AUTH_MAX_LOGIN_ATTEMPTS", 10)
	cfg.AuthConfig.LoginAttemptWindow = getEnvDurationOrDefault("AUTH_LOGIN_ATTEMPT_WINDOW", 5*time.Minute)

	// License config
	cfg.LicenseConfig.DefaultPeriodDays = getEnvIntOrDefault("LICENSE_DEFAULT_PERIOD_DAYS", 30)
	cfg.LicenseConfig.DefaultSubscriptionType = getEnvOrDefault("LICENSE_DEFAULT_SUBSCRIPTION_TYPE", "monthly")

	// Admin config
	cfg.AdminConfig.AdminKey = getEnvOrDefault("ADMIN_KEY", cfg.AdminConfig.AdminKey)
	cfg.AdminConfig.SessionSecret = getEnvOrDefault("ADMIN_SESSION_SECRET", cfg.AdminConfig.SessionSecret)
	cfg.AdminConfig.SessionTokenDuration = getEnvDurationOrDefault("ADMIN_SESSION_TOKEN_DURATION", 8*time.Hour)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "license-server/server")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

// resolveDevMode reads the dev-mode marker. Env var DEV_MODE takes precedence
// over the file; a missing file means dev mode is off.
func resolveDevMode(markerPath string) bool {
	if v := os.Getenv("DEV_MODE"); v != "" {
		return strings.ToLower(v) == "true"
	}
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(string(data))) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
