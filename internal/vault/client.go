// Package vault loads server secrets from HashiCorp Vault. With Vault
// disabled the configured or environment-provided values stay in effect.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"aibot-license-server/config"
)

// ServerSecrets holds the secrets the server reads at startup.
type ServerSecrets struct {
	AdminKey      string `json:"admin_key"`
	SessionSecret string `json:"session_secret"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached *ServerSecrets
}

// NewClient creates a new Vault client. With Vault disabled it returns a
// client whose reads report not-found, letting callers keep their fallbacks.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether Vault integration is on.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// GetServerSecrets reads the server secrets from the KV v2 engine. The result
// is cached for the process lifetime; secrets rotate with a restart.
func (c *Client) GetServerSecrets(ctx context.Context) (*ServerSecrets, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("server secrets not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	secrets := &ServerSecrets{}
	if v, ok := data["admin_key"].(string); ok {
		secrets.AdminKey = v
	}
	if v, ok := data["session_secret"].(string); ok {
		secrets.SessionSecret = v
	}

	c.mu.Lock()
	c.cached = secrets
	c.mu.Unlock()
	return secrets, nil
}

// StoreServerSecrets writes the server secrets into the KV v2 engine. Used by
// the admin CLI during provisioning.
func (c *Client) StoreServerSecrets(ctx context.Context, secrets ServerSecrets) error {
	if !c.config.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"admin_key":      secrets.AdminKey,
			"session_secret": secrets.SessionSecret,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		return fmt.Errorf("failed to store server secrets in vault: %w", err)
	}

	c.mu.Lock()
	c.cached = &secrets
	c.mu.Unlock()
	return nil
}

// HealthCheck verifies Vault connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault is not ready (initialized=%v, sealed=%v)", health.Initialized, health.Sealed)
	}
	return nil
}
