package httpapi

import (
	"net/http"

	"github.com/MrEthical07/identity"
	"github.com/gin-gonic/gin"
)

// GetProfile handles GET /api/profile/me.
func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.engine.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfileView(p, h.engine.ServerTime()))
}

// UpdateProfile handles PUT /api/profile/me. Absent fields are left alone.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var in struct {
		FirstName   *string `json:"firstName"`
		LastName    *string `json:"lastName"`
		PhoneNumber *string `json:"phoneNumber"`
		Address     *string `json:"address"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	p, err := h.engine.UpdateProfile(c.Request.Context(), principal(c).UserID, identity.ProfileUpdate{
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		PhoneNumber: in.PhoneNumber,
		Address:     in.Address,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    newProfileView(p, h.engine.ServerTime()),
	})
}

// ChangePassword handles PUT /api/profile/change-password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var in struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Current password and new password are required")
		return
	}

	err := h.engine.ChangePassword(c.Request.Context(), principal(c).UserID, in.CurrentPassword, in.NewPassword)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

// SystemInfo reports the caller's username with the server version and time.
func (h *Handler) SystemInfo(c *gin.Context) {
	p, err := h.engine.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	view := newProfileView(p, h.engine.ServerTime())
	c.JSON(http.StatusOK, gin.H{
		"currentDateTime": view.CurrentDateTime,
		"username":        view.Username,
		"serverVersion":   h.version,
	})
}
