package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/identity"
	"github.com/gin-gonic/gin"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrAuthenticationFailed),
		errors.Is(err, identity.ErrInvalidCode),
		errors.Is(err, identity.ErrTokenInvalid),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, identity.ErrRefreshWindowExceeded):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrMFANotConfigured),
		errors.Is(err, identity.ErrMFAAlreadyEnabled),
		errors.Is(err, identity.ErrEmailInUse),
		errors.Is(err, identity.ErrPasswordPolicy),
		errors.Is(err, identity.ErrInvalidInput),
		errors.Is(err, identity.ErrResetTokenNotFound),
		errors.Is(err, identity.ErrResetTokenUsed),
		errors.Is(err, identity.ErrResetTokenExpired):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, identity.ErrEngineNotReady),
		errors.Is(err, identity.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing text. Causes wrapped behind 5xx
// errors are never exposed.
func messageFor(err error, status int) string {
	switch {
	case errors.Is(err, identity.ErrDeliveryFailed):
		return "failed to send password reset email"
	case status >= http.StatusInternalServerError:
		return "internal error"
	case errors.Is(err, identity.ErrResetTokenNotFound):
		return "Token not found"
	case errors.Is(err, identity.ErrResetTokenUsed):
		return "Token already used"
	case errors.Is(err, identity.ErrResetTokenExpired):
		return "Token expired"
	default:
		return err.Error()
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"message": messageFor(err, status)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}
