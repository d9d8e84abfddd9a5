// Package vault loads the gateway's secrets (bot token, shared signing
// secret) from HashiCorp Vault when enabled. Environment values win over
// Vault values so local overrides stay possible.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"ticklet-push-gateway/config"
)

// Credentials holds the secret material the gateway reads from Vault
type Credentials struct {
	BotToken     string `json:"bot_token"`
	SharedSecret string `json:"shared_secret"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a new Vault client. With Vault disabled it returns a
// client whose Load is a no-op.
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

// Load reads the gateway credentials from the KV v2 mount.
func (c *Client) Load(ctx context.Context) (*Credentials, error) {
	if !c.config.Enabled {
		return &Credentials{}, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	return &Credentials{
		BotToken:     getString(data, "bot_token"),
		SharedSecret: getString(data, "shared_secret"),
	}, nil
}

// Apply fills cfg fields that are still empty from the Vault credentials.
func (creds *Credentials) Apply(cfg *config.Config) {
	if cfg.TelegramConfig.BotToken == "" {
		cfg.TelegramConfig.BotToken = creds.BotToken
	}
	if cfg.AuthConfig.SharedSecret == "" {
		cfg.AuthConfig.SharedSecret = creds.SharedSecret
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
