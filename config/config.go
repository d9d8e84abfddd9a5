package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	TelegramConfig TelegramConfig `json:"telegram"`
	BreakerConfig  BreakerConfig  `json:"circuit_breaker"`
	LimiterConfig  LimiterConfig  `json:"rate_limiter"`
	DispatchConfig DispatchConfig `json:"dispatch"`
	StorageConfig  StorageConfig  `json:"storage"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ServerConfig holds the inbound HTTP server configuration
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// AuthConfig holds the HMAC envelope verification settings
type AuthConfig struct {
	SharedSecret   string `json:"shared_secret"`
	MaxSkewSeconds int    `json:"max_skew_seconds"` // replay window for X-Ticklet-Timestamp
}

// TelegramConfig holds the downstream bot credentials and channel routing
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	BaseURL  string `json:"base_url"` // override for tests / self-hosted bot API
	// Channel name -> chat id. "signals" and "maintenance" are the
	// built-in producers; more channels can be added in config.
	Channels map[string]string `json:"channels"`
}

// BreakerConfig holds circuit breaker tuning
type BreakerConfig struct {
	FailureThreshold float64 `json:"failure_threshold"` // failure ratio that opens the breaker
	MinCalls         int     `json:"min_calls"`         // rolling window size / minimum samples
	CooldownSeconds  int     `json:"cooldown_seconds"`  // open -> half-open delay
}

// LimiterConfig holds the global token bucket settings
type LimiterConfig struct {
	Capacity   int `json:"capacity"`    // burst size
	RefillRate int `json:"refill_rate"` // tokens per second
}

// DispatchConfig holds outbound dispatch tuning
type DispatchConfig struct {
	Concurrency    int     `json:"concurrency"`      // max in-flight sends
	TimeoutSeconds int     `json:"timeout_seconds"`  // per outbound HTTP call
	RetryAttempts  int     `json:"retry_attempts"`   // attempts per dispatch
	RetryBaseDelay float64 `json:"retry_base_delay"` // seconds
	RetryJitter    bool    `json:"retry_jitter"`
}

// StorageConfig selects and configures the idempotency store backend
type StorageConfig struct {
	Backend     string `json:"backend"` // "sqlite", "redis" or "postgres"
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn"`
	TTLDays     int    `json:"ttl_days"`
	SweepCron   string `json:"sweep_cron"` // cron spec for expired-row sweeps, "" disables

	Redis RedisConfig `json:"redis"`
}

// RedisConfig holds Redis connection settings for the idempotency store
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // pretty console output instead of JSON
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Auth config
	cfg.AuthConfig.SharedSecret = getEnvOrDefault("TICKLET_SHARED_SECRET", cfg.AuthConfig.SharedSecret)
	cfg.AuthConfig.MaxSkewSeconds = getEnvIntOrDefault("TICKLET_MAX_SKEW_SECONDS", 300)

	// Telegram config
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.BaseURL = getEnvOrDefault("TELEGRAM_BASE_URL", defaultString(cfg.TelegramConfig.BaseURL, "https://api.telegram.org"))
	if cfg.TelegramConfig.Channels == nil {
		cfg.TelegramConfig.Channels = make(map[string]string)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID_SIGNALS"); v != "" {
		cfg.TelegramConfig.Channels["signals"] = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID_MAINT"); v != "" {
		cfg.TelegramConfig.Channels["maintenance"] = v
	}

	// Circuit breaker config
	cfg.BreakerConfig.FailureThreshold = getEnvFloatOrDefault("CB_FAILURE_THRESHOLD", 0.5)
	cfg.BreakerConfig.MinCalls = getEnvIntOrDefault("CB_MIN_CALLS", 20)
	cfg.BreakerConfig.CooldownSeconds = getEnvIntOrDefault("CB_COOLDOWN_SECONDS", 120)

	// Rate limiter config
	cfg.LimiterConfig.Capacity = getEnvIntOrDefault("GLOBAL_RPS_LIMIT", 20)
	cfg.LimiterConfig.RefillRate = getEnvIntOrDefault("GLOBAL_RPS_REFILL", cfg.LimiterConfig.Capacity)

	// Dispatch config
	cfg.DispatchConfig.Concurrency = getEnvIntOrDefault("SINK_CONCURRENCY", 5)
	cfg.DispatchConfig.TimeoutSeconds = getEnvIntOrDefault("SINK_TIMEOUT_SECONDS", 15)
	cfg.DispatchConfig.RetryAttempts = getEnvIntOrDefault("SINK_RETRY_ATTEMPTS", 6)
	cfg.DispatchConfig.RetryBaseDelay = getEnvFloatOrDefault("SINK_RETRY_BASE_DELAY", 0.5)
	cfg.DispatchConfig.RetryJitter = getEnvOrDefault("SINK_RETRY_JITTER", "true") == "true"

	// Storage config
	cfg.StorageConfig.Backend = getEnvOrDefault("IDEMPOTENCY_BACKEND", defaultString(cfg.StorageConfig.Backend, "sqlite"))
	cfg.StorageConfig.SQLitePath = getEnvOrDefault("IDEMPOTENCY_SQLITE_PATH", defaultString(cfg.StorageConfig.SQLitePath, "idempotency.sqlite"))
	cfg.StorageConfig.PostgresDSN = getEnvOrDefault("IDEMPOTENCY_POSTGRES_DSN", cfg.StorageConfig.PostgresDSN)
	cfg.StorageConfig.TTLDays = getEnvIntOrDefault("IDEMPOTENCY_TTL_DAYS", 7)
	cfg.StorageConfig.SweepCron = getEnvOrDefault("IDEMPOTENCY_SWEEP_CRON", defaultString(cfg.StorageConfig.SweepCron, "@hourly"))
	cfg.StorageConfig.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.StorageConfig.Redis.Address, "localhost:6379"))
	cfg.StorageConfig.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.StorageConfig.Redis.Password)
	cfg.StorageConfig.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.StorageConfig.Redis.DB)
	cfg.StorageConfig.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "push-gateway/credentials")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.Console = getEnvOrDefault("LOG_CONSOLE", "false") == "true"
}

// Validate checks the settings the gateway cannot run without.
// Readiness (credentials, channel map) is probed separately via /readyz.
func (c *Config) Validate() error {
	if c.AuthConfig.SharedSecret == "" {
		return fmt.Errorf("TICKLET_SHARED_SECRET is required")
	}
	switch c.StorageConfig.Backend {
	case "sqlite", "redis", "postgres":
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.StorageConfig.Backend)
	}
	if c.StorageConfig.Backend == "postgres" && c.StorageConfig.PostgresDSN == "" {
		return fmt.Errorf("IDEMPOTENCY_POSTGRES_DSN is required for the postgres backend")
	}
	return nil
}

// Ready reports whether the downstream credentials and channel routing are
// configured; /readyz returns 503 until this is true.
func (c *Config) Ready() bool {
	if c.TelegramConfig.BotToken == "" {
		return false
	}
	if c.TelegramConfig.Channels["signals"] == "" || c.TelegramConfig.Channels["maintenance"] == "" {
		return false
	}
	return true
}

// IdempotencyTTL returns the configured record TTL as a duration.
func (c *StorageConfig) IdempotencyTTL() time.Duration {
	days := c.TTLDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// DispatchTimeout returns the per-call outbound timeout as a duration.
func (c *DispatchConfig) DispatchTimeout() time.Duration {
	secs := c.TimeoutSeconds
	if secs <= 0 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
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

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
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

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
