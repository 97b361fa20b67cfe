package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aibot-license-server/config"
	"aibot-license-server/internal/api"
	"aibot-license-server/internal/auth"
	"aibot-license-server/internal/cache"
	"aibot-license-server/internal/database"
	"aibot-license-server/internal/events"
	"aibot-license-server/internal/license"
	"aibot-license-server/internal/logging"
	"aibot-license-server/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Bool("dev_mode", cfg.DevMode).Msg("License server starting")

	eventBus := events.NewEventBus()

	// Database and migrations.
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	cancelMigrate()
	logger.Info().Msg("Database ready")

	repo := database.NewRepository(db)

	// Vault can override the admin key and session secret.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize vault client")
	}
	if vaultClient.Enabled() {
		secretCtx, cancelSecret := context.WithTimeout(context.Background(), 10*time.Second)
		secrets, err := vaultClient.GetServerSecrets(secretCtx)
		cancelSecret()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load server secrets from vault")
		}
		if secrets.AdminKey != "" {
			cfg.AdminConfig.AdminKey = secrets.AdminKey
		}
		if secrets.SessionSecret != "" {
			cfg.AdminConfig.SessionSecret = secrets.SessionSecret
		}
		logger.Info().Msg("Server secrets loaded from vault")
	}
	if cfg.AdminConfig.AdminKey == "" && !cfg.DevMode {
		logger.Fatal().Msg("ADMIN_KEY is required outside dev mode")
	}

	// Redis is optional; without it the server still works, just without the
	// shared login throttle and token cache.
	var loginLimiter auth.LoginLimiter
	var tokenCache *cache.TokenCache
	if cfg.RedisConfig.Enabled {
		cacheService, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize cache")
		}
		defer cacheService.Close()
		loginLimiter = cache.NewLoginLimiter(cacheService, cfg.AuthConfig.MaxLoginAttempts, cfg.AuthConfig.LoginAttemptWindow)
		tokenCache = cache.NewTokenCache(cacheService, cache.DefaultTokenVerifyTTL)
	} else {
		loginLimiter = cache.NewLoginLimiter(nil, cfg.AuthConfig.MaxLoginAttempts, cfg.AuthConfig.LoginAttemptWindow)
	}

	authService := auth.NewService(repo, auth.Config{
		BcryptCost:               cfg.AuthConfig.BcryptCost,
		MinPasswordLength:        cfg.AuthConfig.MinPasswordLength,
		AccessTokenDuration:      cfg.AuthConfig.AccessTokenDuration,
		DeviceChangeCooldownDays: cfg.AuthConfig.DeviceChangeCooldownDays,
		DevMode:                  cfg.DevMode,
	}, eventBus, logger)

	licenseService := license.NewService(repo, eventBus, logger)

	server := api.NewServer(*cfg, repo, eventBus, authService, licenseService, loginLimiter, tokenCache, vaultClient, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
	logger.Info().Msg("Server stopped")
}
