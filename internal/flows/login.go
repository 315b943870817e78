package flows

import (
	"context"
	"errors"
	"time"
)

// LoginStep is the terminal state of a login attempt that was not rejected.
type LoginStep int

const (
	// StepAuthenticated means a token was issued.
	StepAuthenticated LoginStep = iota + 1
	// StepAwaitingSecondFactor means the password verified, MFA is enabled
	// and no token was issued.
	StepAwaitingSecondFactor
)

// LoginUser is the slice of an identity the login flows need.
type LoginUser struct {
	ID           int64
	Email        string
	PasswordHash string
	Roles        []string
}

// LoginResult reports how far a login got. Token and ExpiresAt are set only
// when Step is StepAuthenticated.
type LoginResult struct {
	Step      LoginStep
	Email     string
	Token     string
	ExpiresAt time.Time
}

// TokenClaims is what refresh reads from an existing token.
type TokenClaims struct {
	Email    string
	UserID   int64
	Roles    []string
	IssuedAt time.Time
}

// LoginMetrics maps login outcomes to engine metric IDs.
type LoginMetrics struct {
	LoginSuccess   int
	LoginFailure   int
	MFARequired    int
	MFASuccess     int
	MFAFailure     int
	RefreshSuccess int
	RefreshFailure int
	LongLived      int
}

// LoginEvents names the audit events the login flows emit.
type LoginEvents struct {
	LoginSuccess string
	LoginFailure string
	MFARequired  string
	MFASuccess   string
	MFAFailure   string
	TokenRefresh string
	LongLived    string
}

// LoginErrors carries the engine sentinels the login flows return.
type LoginErrors struct {
	EngineNotReady        error
	AuthenticationFailed  error
	MFANotConfigured      error
	InvalidCode           error
	RateLimited           error
	TokenInvalid          error
	RefreshWindowExceeded error
	StoreUnavailable      error
}

// Limiter scopes.
const (
	ScopeLogin = "login"
	ScopeMFA   = "mfa"
	ScopeReset = "reset"
)

// LoginDeps is everything RunLogin, RunVerifyMFA, RunRefresh and
// RunIssueLongLived call back into.
type LoginDeps struct {
	SessionTTL    time.Duration
	LongLivedTTL  time.Duration
	MaxRefreshAge time.Duration
	Now           func() time.Time

	FindUserByEmail     func(context.Context, string) (LoginUser, error)
	IsNotFound          func(error) bool
	VerifyPassword      func(LoginUser, string) (bool, error)
	BurnPasswordCheck   func(string)
	UpgradePasswordHash func(context.Context, LoginUser, string)

	// MFASecret returns the stored secret (empty when none) and whether MFA is enabled.
	MFASecret  func(context.Context, int64) (string, bool, error)
	VerifyCode func(secret, code string, now time.Time) bool

	IssueToken   func(email string, roles []string, userID int64, ttl time.Duration) (string, time.Time, error)
	ExtractToken func(string) (TokenClaims, error)

	// CheckLimiter and RecordFailure are nil when rate limiting is disabled.
	CheckLimiter  func(context.Context, string, string) error
	RecordFailure func(context.Context, string, string) error
	ResetLimiter  func(context.Context, string, string)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, int64, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, string)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies email and password. Unknown email and wrong password fail
// identically. With MFA enabled the result is StepAwaitingSecondFactor and no
// token exists yet.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.FindUserByEmail == nil || deps.VerifyPassword == nil || deps.MFASecret == nil || deps.IssueToken == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	user, err := authenticatePassword(ctx, email, password, deps)
	if err != nil {
		return LoginResult{}, err
	}

	_, enabled, err := deps.MFASecret(ctx, user.ID)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.ID, user.Email, deps.Errors.StoreUnavailable, nil)
		return LoginResult{}, deps.Errors.StoreUnavailable
	}
	if enabled {
		deps.MetricInc(deps.Metrics.MFARequired)
		deps.EmitAudit(ctx, deps.Events.MFARequired, true, user.ID, user.Email, nil, nil)
		return LoginResult{Step: StepAwaitingSecondFactor, Email: user.Email}, nil
	}

	token, expiresAt, err := deps.IssueToken(user.Email, user.Roles, user.ID, deps.SessionTTL)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.ID, user.Email, err, nil)
		return LoginResult{}, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, user.Email, nil, nil)
	return LoginResult{Step: StepAuthenticated, Email: user.Email, Token: token, ExpiresAt: expiresAt}, nil
}

// RunIssueLongLived authenticates with the password alone and issues a token
// with the long-lived TTL. It is meant for non-interactive clients.
func RunIssueLongLived(ctx context.Context, email, password string, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.FindUserByEmail == nil || deps.VerifyPassword == nil || deps.IssueToken == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	user, err := authenticatePassword(ctx, email, password, deps)
	if err != nil {
		return LoginResult{}, err
	}

	token, expiresAt, err := deps.IssueToken(user.Email, user.Roles, user.ID, deps.LongLivedTTL)
	if err != nil {
		return LoginResult{}, err
	}

	deps.MetricInc(deps.Metrics.LongLived)
	deps.EmitAudit(ctx, deps.Events.LongLived, true, user.ID, user.Email, nil, func() map[string]string {
		return map[string]string{"ttl": deps.LongLivedTTL.String()}
	})
	return LoginResult{Step: StepAuthenticated, Email: user.Email, Token: token, ExpiresAt: expiresAt}, nil
}

func authenticatePassword(ctx context.Context, email, password string, deps LoginDeps) (LoginUser, error) {
	fail := func(userID int64, reason string) (LoginUser, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, email, deps.Errors.AuthenticationFailed, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		if deps.RecordFailure != nil {
			if err := deps.RecordFailure(ctx, ScopeLogin, email); errors.Is(err, deps.Errors.RateLimited) {
				deps.EmitRateLimit(ctx, ScopeLogin, email)
			}
		}
		return LoginUser{}, deps.Errors.AuthenticationFailed
	}

	if email == "" || password == "" {
		return fail(0, "empty_credentials")
	}

	if deps.CheckLimiter != nil {
		if err := deps.CheckLimiter(ctx, ScopeLogin, email); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.EmitRateLimit(ctx, ScopeLogin, email)
			}
			return LoginUser{}, err
		}
	}

	user, err := deps.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LoginUser{}, err
		}
		if !deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, 0, email, deps.Errors.StoreUnavailable, nil)
			return LoginUser{}, deps.Errors.StoreUnavailable
		}
		// equalize timing with the found path
		deps.BurnPasswordCheck(password)
		return fail(0, "unknown_email")
	}

	ok, err := deps.VerifyPassword(user, password)
	if err != nil || !ok {
		return fail(user.ID, "bad_password")
	}

	if deps.ResetLimiter != nil {
		deps.ResetLimiter(ctx, ScopeLogin, email)
	}
	if deps.UpgradePasswordHash != nil {
		deps.UpgradePasswordHash(ctx, user, password)
	}
	return user, nil
}

// RunVerifyMFA completes a login that ended in StepAwaitingSecondFactor.
func RunVerifyMFA(ctx context.Context, email, code string, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.FindUserByEmail == nil || deps.MFASecret == nil || deps.VerifyCode == nil || deps.IssueToken == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	if deps.CheckLimiter != nil {
		if err := deps.CheckLimiter(ctx, ScopeMFA, email); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.EmitRateLimit(ctx, ScopeMFA, email)
			}
			return LoginResult{}, err
		}
	}

	user, err := deps.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LoginResult{}, err
		}
		if !deps.IsNotFound(err) {
			return LoginResult{}, deps.Errors.StoreUnavailable
		}
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, 0, email, deps.Errors.AuthenticationFailed, nil)
		return LoginResult{}, deps.Errors.AuthenticationFailed
	}

	secret, _, err := deps.MFASecret(ctx, user.ID)
	if err != nil {
		return LoginResult{}, deps.Errors.StoreUnavailable
	}
	if secret == "" {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, user.ID, user.Email, deps.Errors.MFANotConfigured, nil)
		return LoginResult{}, deps.Errors.MFANotConfigured
	}

	if !deps.VerifyCode(secret, code, deps.Now()) {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, user.ID, user.Email, deps.Errors.InvalidCode, nil)
		if deps.RecordFailure != nil {
			if err := deps.RecordFailure(ctx, ScopeMFA, email); errors.Is(err, deps.Errors.RateLimited) {
				deps.EmitRateLimit(ctx, ScopeMFA, email)
			}
		}
		return LoginResult{}, deps.Errors.InvalidCode
	}

	token, expiresAt, err := deps.IssueToken(user.Email, user.Roles, user.ID, deps.SessionTTL)
	if err != nil {
		return LoginResult{}, err
	}

	if deps.ResetLimiter != nil {
		deps.ResetLimiter(ctx, ScopeMFA, email)
	}
	deps.MetricInc(deps.Metrics.MFASuccess)
	deps.EmitAudit(ctx, deps.Events.MFASuccess, true, user.ID, user.Email, nil, nil)
	return LoginResult{Step: StepAuthenticated, Email: user.Email, Token: token, ExpiresAt: expiresAt}, nil
}

// RunRefresh re-issues a token from an existing one whose signature verifies,
// whether or not it has expired.
func RunRefresh(ctx context.Context, token string, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.ExtractToken == nil || deps.IssueToken == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	claims, err := deps.ExtractToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.TokenRefresh, false, 0, "", err, nil)
		return LoginResult{}, err
	}

	if deps.MaxRefreshAge > 0 && !claims.IssuedAt.IsZero() && deps.Now().Sub(claims.IssuedAt) > deps.MaxRefreshAge {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.TokenRefresh, false, claims.UserID, claims.Email, deps.Errors.RefreshWindowExceeded, nil)
		return LoginResult{}, deps.Errors.RefreshWindowExceeded
	}

	fresh, expiresAt, err := deps.IssueToken(claims.Email, claims.Roles, claims.UserID, deps.SessionTTL)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return LoginResult{}, err
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.TokenRefresh, true, claims.UserID, claims.Email, nil, nil)
	return LoginResult{Step: StepAuthenticated, Email: claims.Email, Token: fresh, ExpiresAt: expiresAt}, nil
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.BurnPasswordCheck == nil {
		deps.BurnPasswordCheck = func(string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, int64, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, string) {}
	}
	if deps.Errors.StoreUnavailable == nil {
		deps.Errors.StoreUnavailable = deps.Errors.EngineNotReady
	}
}
