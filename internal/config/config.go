package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is the environment variable prefix, e.g. CHAT_SERVICE_HTTP_PORT.
const Prefix = "CHAT_SERVICE"

// DevSessionSecret is the default signing secret. It is refused in production.
const DevSessionSecret = "dev-insecure-session-secret"

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Notify modes.
const (
	NotifyDirect = "direct"
	NotifyOutbox = "outbox"
)

// Config holds the configuration for the chat service
// Environment variables are automatically parsed from CHAT_SERVICE_ prefix
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/chat.db"`

	// HTTP Configuration
	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:""`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Sessions
	SessionSecret string        `envconfig:"SESSION_SECRET" default:"dev-insecure-session-secret"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	// Event fan-out
	SubscriberBuffer int    `envconfig:"SUBSCRIBER_BUFFER" default:"64"`
	NotifyMode       string `envconfig:"NOTIFY_MODE" default:"direct"`

	// Outbox dispatcher (NOTIFY_MODE=outbox)
	OutboxBatchSize   int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxInterval    time.Duration `envconfig:"OUTBOX_INTERVAL" default:"1s"`
	OutboxMaxAttempts int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"10"`
	OutboxRetention   time.Duration `envconfig:"OUTBOX_RETENTION" default:"24h"`
	// OutboxEmbedded runs the dispatcher inside chat-service. When false a
	// separate outbox-worker drains the table and fans out through valkey.
	OutboxEmbedded bool `envconfig:"OUTBOX_EMBEDDED" default:"true"`

	// Cross-node relay; empty address disables it
	ValkeyAddr    string `envconfig:"VALKEY_ADDR" default:""`
	ValkeyChannel string `envconfig:"VALKEY_CHANNEL" default:"chat:events"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"15"`
	HealthCheckTimeoutSeconds int `envconfig:"HEALTH_CHECK_TIMEOUT_SECONDS" default:"2"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// ResolveDefaults validates driver and mode combinations.
func (c *Config) ResolveDefaults() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("unsupported ENVIRONMENT: %s", c.Environment)
	}

	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for DB_DRIVER=sqlite")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	switch c.NotifyMode {
	case NotifyDirect, NotifyOutbox:
	default:
		return fmt.Errorf("unsupported NOTIFY_MODE: %s", c.NotifyMode)
	}

	if c.NotifyMode == NotifyOutbox && !c.OutboxEmbedded && c.ValkeyAddr == "" {
		return fmt.Errorf("VALKEY_ADDR is required when OUTBOX_EMBEDDED=false")
	}

	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET must not be empty")
	}
	if c.IsProduction() && c.SessionSecret == DevSessionSecret {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be > 0")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxInterval <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE and OUTBOX_INTERVAL must be > 0")
	}
	if c.HealthIntervalSeconds <= 0 {
		c.HealthIntervalSeconds = 15
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with CHAT_SERVICE_
// Example: CHAT_SERVICE_DB_DRIVER, CHAT_SERVICE_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("notify_mode", cfg.NotifyMode).
		Int("subscriber_buffer", cfg.SubscriberBuffer).
		Bool("relay", cfg.ValkeyAddr != "").
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		DBDriver:                  "sqlite",
		SQLitePath:                "chat-test.db",
		HTTPPort:                  0,
		ShutdownTimeout:           2 * time.Second,
		SessionSecret:             "test-secret",
		SessionTTL:                time.Hour,
		SubscriberBuffer:          64,
		NotifyMode:                NotifyDirect,
		OutboxBatchSize:           100,
		OutboxInterval:            50 * time.Millisecond,
		OutboxMaxAttempts:         10,
		OutboxEmbedded:            true,
		ValkeyChannel:             "chat:events",
		HealthIntervalSeconds:     1,
		HealthCheckTimeoutSeconds: 1,
		LogLevel:                  "debug",
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// HealthInterval returns the health check period.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

// HealthCheckTimeout returns the per-check timeout.
func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutSeconds) * time.Second
}

// DSN returns the data source for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.PostgresDSN
	}
	return c.SQLitePath
}
