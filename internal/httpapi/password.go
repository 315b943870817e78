package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForgotPassword answers every accepted request with the same message,
// whether or not the email is registered.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var in struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	msg, err := h.engine.RequestPasswordReset(c.Request.Context(), in.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ValidateResetToken handles GET /api/auth/password/validate-token.
func (h *Handler) ValidateResetToken(c *gin.Context) {
	info, err := h.engine.ValidateResetToken(c.Request.Context(), c.Query("token"))
	if err != nil {
		status := statusFor(err)
		c.JSON(status, gin.H{"valid": false, "message": messageFor(err, status)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":          true,
		"email":          info.Email,
		"expiryDateTime": info.ExpiresAt,
	})
}

// ResetPassword handles POST /api/auth/password/reset.
func (h *Handler) ResetPassword(c *gin.Context) {
	var in struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.engine.ResetPassword(c.Request.Context(), in.Token, in.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully"})
}

// PreviewEmail renders the reset email with a placeholder link.
func (h *Handler) PreviewEmail(c *gin.Context) {
	_, body, err := h.engine.PreviewResetEmail(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
}
