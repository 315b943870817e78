package identity

import "errors"

var (
	// ErrAuthenticationFailed is returned for an unknown email and for a wrong
	// password alike.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMFANotConfigured is returned when a second factor is required or
	// requested but no secret is stored for the identity.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAlreadyEnabled is returned by setup while a second factor is active.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrInvalidCode is returned when a submitted one-time code does not verify.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrTokenInvalid covers malformed tokens and tokens whose signature does not verify.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when a correctly signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshWindowExceeded is returned when a token is too old to be refreshed.
	ErrRefreshWindowExceeded = errors.New("token too old to refresh")
	// ErrResetTokenNotFound is returned for unknown or replaced reset tokens.
	ErrResetTokenNotFound = errors.New("reset token not found")
	// ErrResetTokenUsed is returned once a reset token has been consumed.
	ErrResetTokenUsed = errors.New("reset token already used")
	// ErrResetTokenExpired is returned when a reset token is past its expiry.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrDeliveryFailed is returned when the reset email could not be sent.
	ErrDeliveryFailed = errors.New("email delivery failed")
	// ErrNotFound is a lookup miss where disclosing existence is harmless.
	ErrNotFound = errors.New("not found")
	// ErrEmailInUse is returned by registration for a taken email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrPasswordPolicy is returned when a new password violates the configured policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidInput is returned for structurally invalid requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited is returned when too many failed attempts were recorded.
	ErrRateLimited = errors.New("too many attempts")
	// ErrConflict is returned when a record changed between read and write.
	ErrConflict = errors.New("concurrent modification")
	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
