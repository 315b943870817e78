package identity

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	internalflows "github.com/MrEthical07/identity/internal/flows"
	"github.com/google/uuid"
)

// RequestPasswordReset issues a new reset token for the identity owning email,
// replacing any earlier one, and mails the reset link. The returned message
// is the configured generic message whether or not the email is registered.
// Only ErrDeliveryFailed discloses that a send was attempted.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := internalflows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps()); err != nil {
		return "", err
	}
	return e.config.PasswordReset.GenericMessage, nil
}

// ValidateResetToken reports whether token may still be used and, if so,
// returns the owner's email and the token expiry for display.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) (*ResetTokenInfo, error) {
	v, err := internalflows.RunValidateResetToken(ctx, token, e.passwordResetFlowDeps())
	if err != nil {
		return nil, err
	}
	return &ResetTokenInfo{Email: v.Email, ExpiresAt: v.ExpiresAt}, nil
}

// ResetPassword consumes token and stores newPassword for its owner. The
// password change and the used flag are applied together.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return internalflows.RunResetPassword(ctx, token, newPassword, e.passwordResetFlowDeps())
}

// PreviewResetEmail renders the reset email with sample data.
func (e *Engine) PreviewResetEmail(ctx context.Context) (subject, body string, err error) {
	if e == nil || e.renderer == nil {
		return "", "", ErrEngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	link, err := internalflows.BuildResetLink(e.config.PasswordReset.LinkBaseURL, e.config.PasswordReset.LinkParam, "sample-token")
	if err != nil {
		return "", "", err
	}
	return e.renderer.RenderResetEmail(ResetEmail{
		Recipient: "user@example.com",
		FirstName: "User",
		Link:      link,
		ExpiresAt: e.now().Add(e.config.PasswordReset.TokenTTL),
	})
}

// PurgeExpiredResetTokens deletes reset tokens past their expiry and returns
// how many were removed.
func (e *Engine) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.resets.DeleteExpired(ctx, e.now())
	if err != nil {
		return 0, storeError(err)
	}
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricResetTokensPurged, uint64(n))
	}
	return n, nil
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	deps := internalflows.PasswordResetDeps{
		SleepEnumerationDelay: sleepPasswordResetEnumerationDelay,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest:         int(MetricPasswordResetRequest),
			PasswordResetDeliveryFailure: int(MetricPasswordResetDeliveryFailure),
			PasswordResetConfirmSuccess:  int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure:  int(MetricPasswordResetConfirmFailure),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:     ErrEngineNotReady,
			ResetTokenNotFound: ErrResetTokenNotFound,
			ResetTokenUsed:     ErrResetTokenUsed,
			ResetTokenExpired:  ErrResetTokenExpired,
			DeliveryFailed:     ErrDeliveryFailed,
			PasswordPolicy:     ErrPasswordPolicy,
			InvalidInput:       ErrInvalidInput,
			RateLimited:        ErrRateLimited,
			StoreUnavailable:   ErrStoreUnavailable,
		},
	}
	if !e.ready() || e.mailer == nil || e.renderer == nil {
		return deps
	}

	cfg := e.config.PasswordReset
	deps.TokenTTL = cfg.TokenTTL
	deps.LinkBaseURL = cfg.LinkBaseURL
	deps.LinkParam = cfg.LinkParam
	deps.Now = e.now
	deps.IsNotFound = isNotFound
	deps.FindUserByEmail = func(ctx context.Context, email string) (internalflows.ResetUser, error) {
		user, err := e.users.FindByEmail(ctx, email)
		if err != nil {
			return internalflows.ResetUser{}, storeError(err)
		}
		return internalflows.ResetUser{ID: user.ID, Email: user.Email, FirstName: user.FirstName}, nil
	}
	deps.FindUserByID = func(ctx context.Context, id int64) (internalflows.ResetUser, error) {
		user, err := e.users.FindByID(ctx, id)
		if err != nil {
			return internalflows.ResetUser{}, storeError(err)
		}
		return internalflows.ResetUser{ID: user.ID, Email: user.Email, FirstName: user.FirstName}, nil
	}
	deps.NewToken = newResetToken
	deps.ReplaceToken = func(ctx context.Context, r internalflows.ResetRecord) error {
		return storeError(e.resets.Replace(ctx, ResetToken{
			Token:     r.Token,
			UserID:    r.UserID,
			ExpiresAt: r.ExpiresAt,
			CreatedAt: r.CreatedAt,
		}))
	}
	deps.FindToken = func(ctx context.Context, token string) (internalflows.ResetRecord, error) {
		t, err := e.resets.FindByToken(ctx, token)
		if err != nil {
			return internalflows.ResetRecord{}, storeError(err)
		}
		return internalflows.ResetRecord{
			Token:     t.Token,
			UserID:    t.UserID,
			ExpiresAt: t.ExpiresAt,
			Used:      t.Used,
			CreatedAt: t.CreatedAt,
		}, nil
	}
	deps.ConsumeToken = func(ctx context.Context, token, hash string, now time.Time) error {
		return storeError(e.resets.Consume(ctx, token, hash, now))
	}
	deps.CheckPasswordPolicy = e.checkPasswordPolicy
	deps.HashPassword = e.hasher.Hash
	deps.SendResetEmail = func(ctx context.Context, d internalflows.ResetDelivery) error {
		subject, body, err := e.renderer.RenderResetEmail(ResetEmail{
			Recipient: d.Recipient,
			FirstName: d.FirstName,
			Link:      d.Link,
			ExpiresAt: d.ExpiresAt,
		})
		if err != nil {
			return err
		}
		return e.mailer.Send(ctx, d.Recipient, subject, body)
	}
	deps.MetricInc = func(id int) {
		e.metricInc(MetricID(id))
	}
	deps.EmitAudit = e.emitAudit
	deps.EmitRateLimit = e.emitRateLimit

	if e.limiter != nil {
		deps.RecordRequest = e.hitLimit
	}
	return deps
}

func newResetToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func sleepPasswordResetEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
