// Package config loads the service configuration: defaults, then an optional
// TOML file, then IDENTITY_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/identity"
)

// Config holds runtime settings for identityd.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Log       LogConfig       `toml:"log"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Token     TokenConfig     `toml:"token"`
	TOTP      TOTPConfig      `toml:"totp"`
	Reset     ResetConfig     `toml:"reset"`
	Mail      MailConfig      `toml:"mail"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Audit     AuditConfig     `toml:"audit"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type HTTPConfig struct {
	Addr              string        `toml:"addr"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	// PublicPaths replaces the default allow-list when non-empty.
	PublicPaths []string `toml:"public_paths"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DatabaseConfig selects the store backend. Driver is "postgres", "sqlite"
// or "memory".
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// RedisConfig enables the shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type TokenConfig struct {
	SigningKey    string        `toml:"signing_key"`
	Issuer        string        `toml:"issuer"`
	SessionTTL    time.Duration `toml:"session_ttl"`
	LongLivedTTL  time.Duration `toml:"long_lived_ttl"`
	MaxRefreshAge time.Duration `toml:"max_refresh_age"`
}

type TOTPConfig struct {
	Issuer string `toml:"issuer"`
}

type ResetConfig struct {
	LinkBaseURL string        `toml:"link_base_url"`
	TokenTTL    time.Duration `toml:"token_ttl"`
	// GCInterval is how often expired reset tokens are purged. Zero disables it.
	GCInterval time.Duration `toml:"gc_interval"`
}

// MailConfig selects the email sender. Mode "log" only logs recipient and
// subject; "smtp" delivers through the relay.
type MailConfig struct {
	Mode     string `toml:"mode"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	Company  string `toml:"company"`
	Team     string `toml:"team"`
}

type RateLimitConfig struct {
	Enabled          bool          `toml:"enabled"`
	MaxLoginFailures int           `toml:"max_login_failures"`
	MaxMFAFailures   int           `toml:"max_mfa_failures"`
	MaxResetRequests int           `toml:"max_reset_requests"`
	Window           time.Duration `toml:"window"`
}

type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Latency bool `toml:"latency"`
	// OTel pushes the counters through an OpenTelemetry MeterProvider that
	// logs one record every OTelInterval.
	OTel         bool          `toml:"otel"`
	OTelInterval time.Duration `toml:"otel_interval"`
}

// LoadDefaults populates Config with development defaults. The signing key
// is left empty and must be supplied.
func (c *Config) LoadDefaults() {
	eng := identity.DefaultConfig()

	c.HTTP = HTTPConfig{Addr: ":8080", ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 10 * time.Second}
	c.Log = LogConfig{Level: "info", Format: "json"}
	c.Database = DatabaseConfig{Driver: "sqlite", DSN: "file:identity.db?_pragma=foreign_keys(1)"}
	c.Redis = RedisConfig{}
	c.Token = TokenConfig{
		Issuer:       eng.Token.Issuer,
		SessionTTL:   eng.Token.SessionTTL,
		LongLivedTTL: eng.Token.LongLivedTTL,
	}
	c.TOTP = TOTPConfig{Issuer: eng.TOTP.Issuer}
	c.Reset = ResetConfig{
		LinkBaseURL: eng.PasswordReset.LinkBaseURL,
		TokenTTL:    eng.PasswordReset.TokenTTL,
		GCInterval:  time.Hour,
	}
	c.Mail = MailConfig{Mode: "log", Port: 587, From: "noreply@localhost"}
	c.RateLimit = RateLimitConfig{
		MaxLoginFailures: eng.RateLimit.MaxLoginFailures,
		MaxMFAFailures:   eng.RateLimit.MaxMFAFailures,
		MaxResetRequests: eng.RateLimit.MaxResetRequests,
		Window:           eng.RateLimit.Window,
	}
	c.Audit = AuditConfig{BufferSize: eng.Audit.BufferSize}
	c.Metrics = MetricsConfig{Enabled: true, OTelInterval: time.Minute}
}

// Validate checks the service-level settings. Engine settings are validated
// again by the engine builder.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return errors.New("database dsn must not be empty")
	}
	switch c.Mail.Mode {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			return errors.New("smtp mail requires host and from")
		}
	default:
		return fmt.Errorf("unsupported mail mode %q", c.Mail.Mode)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http addr must not be empty")
	}
	if c.Reset.GCInterval < 0 {
		return errors.New("reset gc interval must be >= 0")
	}
	if c.Metrics.OTel && c.Metrics.OTelInterval <= 0 {
		return errors.New("metrics otel interval must be > 0")
	}
	eng := c.EngineConfig()
	return eng.Validate()
}

// EngineConfig converts the service configuration into engine configuration.
func (c *Config) EngineConfig() identity.Config {
	cfg := identity.DefaultConfig()

	cfg.Token.SigningKey = []byte(c.Token.SigningKey)
	cfg.Token.Issuer = c.Token.Issuer
	cfg.Token.SessionTTL = c.Token.SessionTTL
	cfg.Token.LongLivedTTL = c.Token.LongLivedTTL
	cfg.Token.MaxRefreshAge = c.Token.MaxRefreshAge

	cfg.TOTP.Issuer = c.TOTP.Issuer

	cfg.PasswordReset.LinkBaseURL = c.Reset.LinkBaseURL
	cfg.PasswordReset.TokenTTL = c.Reset.TokenTTL

	cfg.RateLimit = identity.RateLimitConfig{
		Enabled:          c.RateLimit.Enabled,
		MaxLoginFailures: c.RateLimit.MaxLoginFailures,
		MaxMFAFailures:   c.RateLimit.MaxMFAFailures,
		MaxResetRequests: c.RateLimit.MaxResetRequests,
		Window:           c.RateLimit.Window,
	}

	if len(c.HTTP.PublicPaths) > 0 {
		cfg.Filter.PublicPaths = append([]string(nil), c.HTTP.PublicPaths...)
	}

	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Latency
	return cfg
}
