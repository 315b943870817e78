package identity

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/identity/internal/audit"
	"github.com/MrEthical07/identity/internal/rate"
	"github.com/MrEthical07/identity/jwt"
	"github.com/MrEthical07/identity/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserStore
	mfa      MFAStore
	resets   ResetTokenStore
	hasher   Hasher
	mailer   Mailer
	renderer ResetEmailRenderer

	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserStore sets the identity store. Required.
func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

// WithMFAStore sets the MFA record store. Required.
func (b *Builder) WithMFAStore(s MFAStore) *Builder {
	b.mfa = s
	return b
}

// WithResetTokenStore sets the reset token store. Required.
func (b *Builder) WithResetTokenStore(s ResetTokenStore) *Builder {
	b.resets = s
	return b
}

// WithHasher overrides the default argon2id hasher with bcrypt fallback.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

// WithMailer sets the reset email transport. Required.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithResetEmailRenderer sets the reset email template. Required.
func (b *Builder) WithResetEmailRenderer(r ResetEmailRenderer) *Builder {
	b.renderer = r
	return b
}

// WithRedis makes the failed-attempt limiter shared through Redis. Without it
// an in-process limiter is used when rate limiting is enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for token issuance, TOTP and reset expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.mfa == nil {
		return nil, errors.New("mfa store required")
	}
	if b.resets == nil {
		return nil, errors.New("reset token store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if b.renderer == nil {
		return nil, errors.New("reset email renderer required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher := b.hasher
	if hasher == nil {
		primary, err := password.NewArgon2(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		legacy, err := password.NewBcrypt(0)
		if err != nil {
			return nil, err
		}
		hasher = password.NewAuto(primary, legacy)
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.SigningKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)

	engine := &Engine{
		config:   cloneConfig(cfg),
		jwt:      jm,
		totp:     newTOTPEngine(cfg.TOTP),
		users:    b.users,
		mfa:      b.mfa,
		resets:   b.resets,
		hasher:   hasher,
		mailer:   b.mailer,
		renderer: b.renderer,
		metrics:  metrics,
		filter:   newRequestFilter(jm, cfg.Filter.PublicPaths, logger, metrics),
		logger:   logger,
		now:      now,
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	if cfg.RateLimit.Enabled {
		if b.redis != nil {
			engine.limiter = rate.NewRedis(b.redis, "")
		} else {
			engine.limiter = rate.NewLocal()
		}
	}

	dummy, err := hasher.Hash("identity-timing-equalizer")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	b.built = true

	return engine, nil
}
