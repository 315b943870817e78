package httpapi

import (
	"net/http"

	"github.com/MrEthical07/identity"
	"github.com/gin-gonic/gin"
)

// SetupMFA handles GET /api/mfa/setup.
func (h *Handler) SetupMFA(c *gin.Context) {
	setup, err := h.engine.SetupMFA(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":      setup.Secret,
		"uri":         setup.URI,
		"qrCodeImage": setup.QRCode,
	})
}

// EnableMFA handles POST /api/mfa/enable.
func (h *Handler) EnableMFA(c *gin.Context) {
	var in struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.engine.EnableMFA(c.Request.Context(), principal(c).UserID, in.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "MFA enabled successfully"})
}

// DisableMFA handles POST /api/mfa/disable.
func (h *Handler) DisableMFA(c *gin.Context) {
	if err := h.engine.DisableMFA(c.Request.Context(), principal(c).UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "MFA disabled successfully"})
}

// MFAStatus handles GET /api/mfa/status.
func (h *Handler) MFAStatus(c *gin.Context) {
	state, err := h.engine.MFAStatus(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": state == identity.MFAEnabled,
		"state":   state.String(),
	})
}
