package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFASetup             = "mfa_setup"
	auditEventMFAEnabled           = "mfa_enabled"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventPasswordChange       = "password_change"
	auditEventAccountCreated       = "account_created"
	auditEventTokenRefresh         = "token_refresh"
	auditEventLongLivedToken       = "long_lived_token"
	auditEventRateLimited          = "rate_limited"
)

// AuditErrorCode is the coarse failure reason recorded on audit events.
type AuditErrorCode string

const (
	auditErrAuthenticationFailed AuditErrorCode = "authentication_failed"
	auditErrMFANotConfigured     AuditErrorCode = "mfa_not_configured"
	auditErrMFAAlreadyEnabled    AuditErrorCode = "mfa_already_enabled"
	auditErrInvalidCode          AuditErrorCode = "invalid_code"
	auditErrInvalidToken         AuditErrorCode = "invalid_token"
	auditErrExpiredToken         AuditErrorCode = "expired_token"
	auditErrRefreshWindow        AuditErrorCode = "refresh_window_exceeded"
	auditErrResetTokenNotFound   AuditErrorCode = "reset_token_not_found"
	auditErrResetTokenUsed       AuditErrorCode = "reset_token_used"
	auditErrResetTokenExpired    AuditErrorCode = "reset_token_expired"
	auditErrDeliveryFailed       AuditErrorCode = "delivery_failed"
	auditErrNotFound             AuditErrorCode = "not_found"
	auditErrDuplicate            AuditErrorCode = "duplicate"
	auditErrPasswordPolicy       AuditErrorCode = "password_policy"
	auditErrInvalidInput         AuditErrorCode = "invalid_input"
	auditErrRateLimited          AuditErrorCode = "rate_limited"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimited, false, 0, subject, ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrAuthenticationFailed
	case errors.Is(err, ErrMFANotConfigured):
		return auditErrMFANotConfigured
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrRefreshWindowExceeded):
		return auditErrRefreshWindow
	case errors.Is(err, ErrResetTokenNotFound):
		return auditErrResetTokenNotFound
	case errors.Is(err, ErrResetTokenUsed):
		return auditErrResetTokenUsed
	case errors.Is(err, ErrResetTokenExpired):
		return auditErrResetTokenExpired
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrEmailInUse):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
