package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
)

// ErrNotFound is returned when no credentials are stored under a profile
var ErrNotFound = errors.New("credentials not found")

// DefaultProfile is used when a request names no profile
const DefaultProfile = "default"

// Client stores exchange credentials in Vault KV v2. When Vault is
// disabled it keeps them in process memory only.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]exchange.Credentials // profile -> credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "trade-setup-assistant/mexc"
	}
	c := &Client{config: cfg, cache: make(map[string]exchange.Credentials)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// NewMemoryClient returns a store that never talks to Vault
func NewMemoryClient() *Client {
	c, _ := NewClient(config.VaultConfig{Enabled: false})
	return c
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Store saves credentials under a profile name
func (c *Client) Store(ctx context.Context, profile string, creds exchange.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	profile = normalizeProfile(profile)

	if c.config.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":    creds.APIKey,
				"secret_key": creds.SecretKey,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(profile), payload); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache[profile] = creds
	c.mu.Unlock()

	logging.WithComponent("vault").Info("Credentials stored", "profile", profile, "vault", c.config.Enabled)
	return nil
}

// Get returns the credentials for a profile, reading through the cache
func (c *Client) Get(ctx context.Context, profile string) (exchange.Credentials, error) {
	profile = normalizeProfile(profile)

	c.mu.RLock()
	cached, ok := c.cache[profile]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	if !c.config.Enabled {
		return exchange.Credentials{}, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(profile))
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return exchange.Credentials{}, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return exchange.Credentials{}, fmt.Errorf("invalid secret format at %s", c.secretPath(profile))
	}

	creds := exchange.Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if err := creds.Validate(); err != nil {
		return exchange.Credentials{}, err
	}

	c.mu.Lock()
	c.cache[profile] = creds
	c.mu.Unlock()
	return creds, nil
}

// Delete removes a profile from the cache and from Vault
func (c *Client) Delete(ctx context.Context, profile string) error {
	profile = normalizeProfile(profile)

	c.mu.Lock()
	delete(c.cache, profile)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(profile)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// Profiles lists stored profile names
func (c *Client) Profiles(ctx context.Context) ([]string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()
		out := make([]string, 0, len(c.cache))
		for p := range c.cache {
			out = append(out, p)
		}
		sort.Strings(out)
		return out, nil
	}

	path := fmt.Sprintf("%s/metadata/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return []string{}, nil
	}
	keys, _ := secret.Data["keys"].([]interface{})
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(profile string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, profile)
}

func (c *Client) metadataPath(profile string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, profile)
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
