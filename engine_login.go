package identity

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/identity/internal/flows"
)

// Login runs the first login step. With a second factor enabled the outcome
// is *MFAChallenge and no token is issued; otherwise it is *Authenticated.
// Unknown emails and wrong passwords both fail with ErrAuthenticationFailed.
func (e *Engine) Login(ctx context.Context, email, password string) (LoginOutcome, error) {
	start := time.Now()
	defer e.observeLatency(start)

	res, err := internalflows.RunLogin(ctx, email, password, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return loginOutcome(res), nil
}

// VerifyMFA completes a login with a one-time code and issues a session token.
func (e *Engine) VerifyMFA(ctx context.Context, email, code string) (*Authenticated, error) {
	start := time.Now()
	defer e.observeLatency(start)

	res, err := internalflows.RunVerifyMFA(ctx, email, code, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return &Authenticated{Token: res.Token, ExpiresAt: res.ExpiresAt}, nil
}

// Refresh re-issues a session token with the claims of token. Expired tokens
// are accepted as long as their signature verifies and, when
// Token.MaxRefreshAge is set, they were issued recently enough.
func (e *Engine) Refresh(ctx context.Context, token string) (*Authenticated, error) {
	res, err := internalflows.RunRefresh(ctx, token, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return &Authenticated{Token: res.Token, ExpiresAt: res.ExpiresAt}, nil
}

// IssueLongLivedToken authenticates with the password only and issues a
// token with Token.LongLivedTTL. The second factor is not consulted.
func (e *Engine) IssueLongLivedToken(ctx context.Context, email, password string) (*Authenticated, error) {
	res, err := internalflows.RunIssueLongLived(ctx, email, password, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return &Authenticated{Token: res.Token, ExpiresAt: res.ExpiresAt}, nil
}

// VerifyToken checks signature and expiry of a bearer token.
func (e *Engine) VerifyToken(token string) (*Principal, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwt.Verify(token)
	if err != nil {
		return nil, tokenError(err)
	}
	return principalFromClaims(claims), nil
}

// InspectToken decodes a token whose signature verifies and reports whether
// it has expired. Tokens with a bad signature are rejected.
func (e *Engine) InspectToken(token string) (*TokenInspection, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwt.Extract(token)
	if err != nil {
		return nil, tokenError(err)
	}
	now := e.now()
	exp := claims.ExpiresAtTime()
	return &TokenInspection{
		Email:      claims.Email(),
		UserID:     claims.UserID,
		Roles:      append([]string(nil), claims.Roles...),
		IssuedAt:   claims.IssuedAtTime(),
		ExpiresAt:  exp,
		Expired:    !now.Before(exp),
		ServerTime: now,
	}, nil
}

func loginOutcome(res internalflows.LoginResult) LoginOutcome {
	if res.Step == internalflows.StepAwaitingSecondFactor {
		return &MFAChallenge{Email: res.Email}
	}
	return &Authenticated{Token: res.Token, ExpiresAt: res.ExpiresAt}
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:   int(MetricLoginSuccess),
			LoginFailure:   int(MetricLoginFailure),
			MFARequired:    int(MetricMFARequired),
			MFASuccess:     int(MetricMFASuccess),
			MFAFailure:     int(MetricMFAFailure),
			RefreshSuccess: int(MetricRefreshSuccess),
			RefreshFailure: int(MetricRefreshFailure),
			LongLived:      int(MetricLongLivedTokenIssued),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess: auditEventLoginSuccess,
			LoginFailure: auditEventLoginFailure,
			MFARequired:  auditEventMFARequired,
			MFASuccess:   auditEventMFASuccess,
			MFAFailure:   auditEventMFAFailure,
			TokenRefresh: auditEventTokenRefresh,
			LongLived:    auditEventLongLivedToken,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:        ErrEngineNotReady,
			AuthenticationFailed:  ErrAuthenticationFailed,
			MFANotConfigured:      ErrMFANotConfigured,
			InvalidCode:           ErrInvalidCode,
			RateLimited:           ErrRateLimited,
			TokenInvalid:          ErrTokenInvalid,
			RefreshWindowExceeded: ErrRefreshWindowExceeded,
			StoreUnavailable:      ErrStoreUnavailable,
		},
	}
	if !e.ready() {
		return deps
	}

	cfg := e.config
	deps.SessionTTL = cfg.Token.SessionTTL
	deps.LongLivedTTL = cfg.Token.LongLivedTTL
	deps.MaxRefreshAge = cfg.Token.MaxRefreshAge
	deps.Now = e.now
	deps.IsNotFound = isNotFound
	deps.FindUserByEmail = func(ctx context.Context, email string) (internalflows.LoginUser, error) {
		user, err := e.users.FindByEmail(ctx, email)
		if err != nil {
			return internalflows.LoginUser{}, storeError(err)
		}
		return internalflows.LoginUser{
			ID:           user.ID,
			Email:        user.Email,
			PasswordHash: user.PasswordHash,
			Roles:        user.RoleNames(),
		}, nil
	}
	deps.VerifyPassword = func(user internalflows.LoginUser, password string) (bool, error) {
		return e.hasher.Verify(password, user.PasswordHash)
	}
	deps.BurnPasswordCheck = e.burnPasswordCheck
	deps.UpgradePasswordHash = func(ctx context.Context, user internalflows.LoginUser, password string) {
		e.upgradePasswordHash(ctx, user.ID, user.PasswordHash, password)
	}
	deps.MFASecret = func(ctx context.Context, userID int64) (string, bool, error) {
		record, err := e.mfa.FindByUser(ctx, userID)
		if err != nil {
			if isNotFound(err) {
				return "", false, nil
			}
			return "", false, storeError(err)
		}
		return record.Secret, record.State() == MFAEnabled, nil
	}
	deps.VerifyCode = e.totp.VerifyCode
	deps.IssueToken = e.jwt.Issue
	deps.ExtractToken = func(token string) (internalflows.TokenClaims, error) {
		claims, err := e.jwt.Extract(token)
		if err != nil {
			return internalflows.TokenClaims{}, tokenError(err)
		}
		return internalflows.TokenClaims{
			Email:    claims.Email(),
			UserID:   claims.UserID,
			Roles:    claims.Roles,
			IssuedAt: claims.IssuedAtTime(),
		}, nil
	}
	deps.MetricInc = func(id int) {
		e.metricInc(MetricID(id))
	}
	deps.EmitAudit = e.emitAudit
	deps.EmitRateLimit = e.emitRateLimit

	if e.limiter != nil {
		deps.CheckLimiter = e.checkLimit
		deps.RecordFailure = e.hitLimit
		deps.ResetLimiter = e.resetLimit
	}
	return deps
}
