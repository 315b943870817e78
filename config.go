package identity

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the engine configuration. It is copied by Builder.WithConfig and
// treated as immutable after Build.
type Config struct {
	Token         TokenConfig
	TOTP          TOTPConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	RateLimit     RateLimitConfig
	Filter        FilterConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// TokenConfig controls bearer token signing and lifetimes.
type TokenConfig struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string
	// SigningKey is the HMAC secret or the Ed25519 private key.
	SigningKey []byte
	PublicKey  []byte
	Issuer     string
	// SessionTTL is the lifetime of interactive login tokens.
	SessionTTL time.Duration
	// LongLivedTTL is the lifetime of tokens minted for non-interactive use.
	LongLivedTTL time.Duration
	// MaxRefreshAge bounds how long after issuance a token may still be
	// refreshed. Zero means unbounded.
	MaxRefreshAge time.Duration
}

// TOTPConfig controls second-factor enrollment and verification.
type TOTPConfig struct {
	Issuer string
	// SecretSize is the number of random bytes in a generated secret.
	SecretSize uint
	Period     uint
	Skew       uint
	Digits     int
	// QRSize is the edge length in pixels of the enrollment QR image.
	QRSize int
}

// PasswordConfig is the password policy applied on registration, change and reset.
type PasswordConfig struct {
	MinLength int
	MaxLength int
	// UpgradeOnLogin rehashes digests flagged by the hasher after a successful login.
	UpgradeOnLogin bool
}

// PasswordResetConfig controls reset tokens and the reset link.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	// LinkBaseURL is the frontend page receiving the token as a query parameter.
	LinkBaseURL string
	LinkParam   string
	// GenericMessage is returned for every accepted reset request.
	GenericMessage string
}

// RateLimitConfig bounds failed attempts per email. Disabled by default.
type RateLimitConfig struct {
	Enabled          bool
	MaxLoginFailures int
	MaxMFAFailures   int
	MaxResetRequests int
	Window           time.Duration
}

// FilterConfig configures the request filter.
type FilterConfig struct {
	// PublicPaths are path prefixes that never require a bearer token.
	PublicPaths []string
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultPublicPaths is the default allow-list of unauthenticated prefixes.
var DefaultPublicPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/register-admin",
	"/api/auth/verify-mfa",
	"/api/auth/password",
	"/api/auth/refresh-token",
	"/api/auth/validate-token",
	"/api/auth/generate-fresh-token",
	"/api/auth/system-time",
	"/jwt-reset",
	"/healthz",
	"/metrics",
}

// DefaultConfig returns the engine defaults. A signing key must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "hs256",
			Issuer:        "identity",
			SessionTTL:    time.Hour,
			LongLivedTTL:  365 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:     "Assurance App",
			SecretSize: 20,
			Period:     30,
			Skew:       1,
			Digits:     6,
			QRSize:     200,
		},
		Password: PasswordConfig{
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:       24 * time.Hour,
			LinkBaseURL:    "http://localhost:3000/reset-password",
			LinkParam:      "token",
			GenericMessage: "If your email is registered, you will receive a reset link",
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			MaxLoginFailures: 5,
			MaxMFAFailures:   5,
			MaxResetRequests: 3,
			Window:           15 * time.Minute,
		},
		Filter: FilterConfig{
			PublicPaths: append([]string(nil), DefaultPublicPaths...),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Filter.PublicPaths = append([]string(nil), cfg.Filter.PublicPaths...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	// Token
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.SigningKey) < 32 {
			return errors.New("Token SigningKey must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}
	if c.Token.SessionTTL <= 0 {
		return errors.New("Token SessionTTL must be > 0")
	}
	if c.Token.LongLivedTTL < c.Token.SessionTTL {
		return errors.New("Token LongLivedTTL must be >= SessionTTL")
	}
	if c.Token.MaxRefreshAge < 0 {
		return errors.New("Token MaxRefreshAge must be >= 0")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.SecretSize < 10 {
		return errors.New("TOTP SecretSize must be >= 10 bytes")
	}
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be <= 3")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.QRSize < 64 {
		return errors.New("TOTP QRSize must be >= 64")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	u, err := url.Parse(c.PasswordReset.LinkBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PasswordReset LinkBaseURL must be an absolute URL")
	}
	if c.PasswordReset.LinkParam == "" {
		return errors.New("PasswordReset LinkParam must not be empty")
	}
	if c.PasswordReset.GenericMessage == "" {
		return errors.New("PasswordReset GenericMessage must not be empty")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.MaxLoginFailures <= 0 || c.RateLimit.MaxMFAFailures <= 0 || c.RateLimit.MaxResetRequests <= 0 {
			return errors.New("RateLimit maximums must be > 0")
		}
	}

	// Filter
	for _, p := range c.Filter.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Filter PublicPaths entries must start with /")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
