package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/identity/internal/audit"
	"github.com/MrEthical07/identity/internal/rate"
	"github.com/MrEthical07/identity/jwt"
)

// Engine is the authentication and credential-lifecycle core. It is safe for
// concurrent use once returned by Builder.Build; all mutable state lives in
// the configured stores.
type Engine struct {
	config   Config
	jwt      *jwt.Manager
	totp     *totpEngine
	users    UserStore
	mfa      MFAStore
	resets   ResetTokenStore
	hasher   Hasher
	mailer   Mailer
	renderer ResetEmailRenderer
	limiter  rate.Limiter
	audit    *audit.Dispatcher
	metrics  *Metrics
	filter   *RequestFilter
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash is verified against on unknown-email logins.
	dummyHash string
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped so far.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Filter returns the request filter bound to the engine's token codec and
// public path list.
func (e *Engine) Filter() *RequestFilter {
	if e == nil {
		return nil
	}
	return e.filter
}

// ServerTime is the engine clock.
func (e *Engine) ServerTime() time.Time {
	if e == nil || e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(start time.Time) {
	if e == nil {
		return
	}
	e.metrics.Observe(MetricLoginLatency, time.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil && e.jwt != nil && e.users != nil && e.mfa != nil && e.resets != nil && e.hasher != nil
}

// storeError classifies a store failure. Context errors pass through.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range []error{
		ErrNotFound, ErrEmailInUse, ErrConflict, ErrMFAAlreadyEnabled,
		ErrResetTokenUsed, ErrResetTokenNotFound, ErrResetTokenExpired,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func tokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (e *Engine) checkPasswordPolicy(password string) error {
	n := len([]rune(password))
	if n < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPasswordPolicy, e.config.Password.MinLength)
	}
	if e.config.Password.MaxLength > 0 && len(password) > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrPasswordPolicy, e.config.Password.MaxLength)
	}
	return nil
}

func (e *Engine) burnPasswordCheck(password string) {
	if e.dummyHash == "" {
		return
	}
	_, _ = e.hasher.Verify(password, e.dummyHash)
}

func (e *Engine) upgradePasswordHash(ctx context.Context, userID int64, encoded, password string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	checker, ok := e.hasher.(upgradeChecker)
	if !ok {
		return
	}
	stale, err := checker.NeedsUpgrade(encoded)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return
	}
	// A conflict means the password changed since login read it; the newer
	// hash wins.
	err = e.users.UpdatePasswordHash(ctx, userID, encoded, hash, e.now())
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		e.logger.Debug("password rehash skipped", "user_id", userID)
	default:
		e.logger.Warn("password rehash failed", "user_id", userID, "error", err)
	}
}

func (e *Engine) limitFor(scope string) int {
	switch scope {
	case "login":
		return e.config.RateLimit.MaxLoginFailures
	case "mfa":
		return e.config.RateLimit.MaxMFAFailures
	case "reset":
		return e.config.RateLimit.MaxResetRequests
	default:
		return 0
	}
}

// limiterError maps limiter results. Backend failures are logged and the
// attempt is allowed.
func (e *Engine) limiterError(scope string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	e.logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
	return nil
}

func (e *Engine) checkLimit(ctx context.Context, scope, key string) error {
	return e.limiterError(scope, e.limiter.Check(ctx, scope+":"+key, e.limitFor(scope), e.config.RateLimit.Window))
}

func (e *Engine) hitLimit(ctx context.Context, scope, key string) error {
	return e.limiterError(scope, e.limiter.Hit(ctx, scope+":"+key, e.limitFor(scope), e.config.RateLimit.Window))
}

func (e *Engine) resetLimit(ctx context.Context, scope, key string) {
	if err := e.limiter.Reset(ctx, scope+":"+key); err != nil {
		e.logger.Warn("rate limiter reset failed", "scope", scope, "error", err)
	}
}

// PruneRateLimits drops idle in-process limiter state. It does nothing when
// the limiter is disabled or backed by Redis.
func (e *Engine) PruneRateLimits(idle time.Duration) int {
	if e == nil {
		return 0
	}
	local, ok := e.limiter.(*rate.Local)
	if !ok {
		return 0
	}
	return local.Prune(idle)
}
