package flows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ResetUser is the identity a reset token belongs to.
type ResetUser struct {
	ID        int64
	Email     string
	FirstName string
}

// ResetRecord mirrors a stored reset token.
type ResetRecord struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// ResetValidation is the display data of a usable reset token.
type ResetValidation struct {
	Email     string
	ExpiresAt time.Time
}

// ResetDelivery is handed to SendResetEmail. Link carries the raw token.
type ResetDelivery struct {
	Recipient string
	FirstName string
	Link      string
	ExpiresAt time.Time
}

// PasswordResetMetrics maps reset outcomes to engine metric IDs.
type PasswordResetMetrics struct {
	PasswordResetRequest         int
	PasswordResetDeliveryFailure int
	PasswordResetConfirmSuccess  int
	PasswordResetConfirmFailure  int
}

// PasswordResetEvents names the audit events of the reset lifecycle.
type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

// PasswordResetErrors carries the engine sentinels the reset flows return.
type PasswordResetErrors struct {
	EngineNotReady     error
	ResetTokenNotFound error
	ResetTokenUsed     error
	ResetTokenExpired  error
	DeliveryFailed     error
	PasswordPolicy     error
	InvalidInput       error
	RateLimited        error
	StoreUnavailable   error
}

// PasswordResetDeps is everything the reset flows call back into.
type PasswordResetDeps struct {
	TokenTTL    time.Duration
	LinkBaseURL string
	LinkParam   string
	Now         func() time.Time

	FindUserByEmail func(context.Context, string) (ResetUser, error)
	FindUserByID    func(context.Context, int64) (ResetUser, error)
	IsNotFound      func(error) bool

	NewToken     func() (string, error)
	ReplaceToken func(context.Context, ResetRecord) error
	FindToken    func(context.Context, string) (ResetRecord, error)
	ConsumeToken func(ctx context.Context, token, passwordHash string, now time.Time) error

	CheckPasswordPolicy func(string) error
	HashPassword        func(string) (string, error)
	SendResetEmail      func(context.Context, ResetDelivery) error

	// SleepEnumerationDelay runs on the not-found request path.
	SleepEnumerationDelay func(context.Context) error
	// RecordRequest is nil when rate limiting is disabled.
	RecordRequest func(context.Context, string, string) error

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, int64, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset replaces any reset token of the identity owning
// email with a fresh one and sends the reset link. A nil error is returned
// for unknown emails. Only delivery failure is reported distinctly.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if deps.FindUserByEmail == nil || deps.NewToken == nil || deps.ReplaceToken == nil || deps.SendResetEmail == nil {
		return deps.Errors.EngineNotReady
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)

	if email == "" {
		return fmt.Errorf("%w: email is required", deps.Errors.InvalidInput)
	}

	if deps.RecordRequest != nil {
		if err := deps.RecordRequest(ctx, ScopeReset, email); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.EmitRateLimit(ctx, ScopeReset, email)
			}
			return err
		}
	}

	user, err := deps.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if deps.IsNotFound(err) {
			if err := deps.SleepEnumerationDelay(ctx); err != nil {
				return err
			}
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, 0, email, nil, func() map[string]string {
				return map[string]string{"delivered": "false"}
			})
			return nil
		}
		return deps.Errors.StoreUnavailable
	}

	token, err := deps.NewToken()
	if err != nil {
		return err
	}

	now := deps.Now()
	record := ResetRecord{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(deps.TokenTTL),
		CreatedAt: now,
	}
	if err := deps.ReplaceToken(ctx, record); err != nil {
		return deps.Errors.StoreUnavailable
	}

	link, err := BuildResetLink(deps.LinkBaseURL, deps.LinkParam, token)
	if err != nil {
		return err
	}

	if err := deps.SendResetEmail(ctx, ResetDelivery{
		Recipient: user.Email,
		FirstName: user.FirstName,
		Link:      link,
		ExpiresAt: record.ExpiresAt,
	}); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetDeliveryFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.ID, user.Email, deps.Errors.DeliveryFailed, nil)
		return fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, user.ID, user.Email, nil, func() map[string]string {
		return map[string]string{"delivered": "true"}
	})
	return nil
}

// RunValidateResetToken reports whether token is currently usable.
func RunValidateResetToken(ctx context.Context, token string, deps PasswordResetDeps) (ResetValidation, error) {
	normalizePasswordResetDeps(&deps)

	if deps.FindToken == nil || deps.FindUserByID == nil {
		return ResetValidation{}, deps.Errors.EngineNotReady
	}

	record, err := usableResetToken(ctx, token, deps)
	if err != nil {
		return ResetValidation{}, err
	}

	user, err := deps.FindUserByID(ctx, record.UserID)
	if err != nil {
		if deps.IsNotFound(err) {
			return ResetValidation{}, deps.Errors.ResetTokenNotFound
		}
		return ResetValidation{}, deps.Errors.StoreUnavailable
	}

	return ResetValidation{Email: user.Email, ExpiresAt: record.ExpiresAt}, nil
}

// RunResetPassword stores newPassword for the token owner and marks the token
// used in one store operation.
func RunResetPassword(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if deps.FindToken == nil || deps.ConsumeToken == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(userID int64, err error) error {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, userID, "", err, nil)
		return err
	}

	record, err := usableResetToken(ctx, token, deps)
	if err != nil {
		return fail(0, err)
	}

	if deps.CheckPasswordPolicy != nil {
		if err := deps.CheckPasswordPolicy(newPassword); err != nil {
			return fail(record.UserID, err)
		}
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail(record.UserID, err)
	}

	if err := deps.ConsumeToken(ctx, token, hash, deps.Now()); err != nil {
		switch {
		case errors.Is(err, deps.Errors.ResetTokenUsed), errors.Is(err, deps.Errors.ResetTokenNotFound),
			errors.Is(err, deps.Errors.ResetTokenExpired):
			return fail(record.UserID, err)
		default:
			return fail(record.UserID, deps.Errors.StoreUnavailable)
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, record.UserID, "", nil, nil)
	return nil
}

func usableResetToken(ctx context.Context, token string, deps PasswordResetDeps) (ResetRecord, error) {
	if token == "" {
		return ResetRecord{}, deps.Errors.ResetTokenNotFound
	}

	record, err := deps.FindToken(ctx, token)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ResetRecord{}, err
		}
		if deps.IsNotFound(err) {
			return ResetRecord{}, deps.Errors.ResetTokenNotFound
		}
		return ResetRecord{}, deps.Errors.StoreUnavailable
	}

	if record.Used {
		return ResetRecord{}, deps.Errors.ResetTokenUsed
	}
	if deps.Now().After(record.ExpiresAt) {
		return ResetRecord{}, deps.Errors.ResetTokenExpired
	}
	return record, nil
}

// BuildResetLink appends the token to base as query parameter param.
func BuildResetLink(base, param, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset link base: %w", err)
	}
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LinkParam == "" {
		deps.LinkParam = "token"
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
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
