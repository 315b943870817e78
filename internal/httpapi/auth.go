package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/gin-gonic/gin"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var in credentials
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	outcome, err := h.engine.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch o := outcome.(type) {
	case *identity.MFAChallenge:
		c.JSON(http.StatusOK, gin.H{"requiresMfa": true, "email": o.Email})
	case *identity.Authenticated:
		c.JSON(http.StatusOK, tokenView{Token: o.Token, ExpiresAt: o.ExpiresAt})
	}
}

// VerifyMFA handles POST /api/auth/verify-mfa.
func (h *Handler) VerifyMFA(c *gin.Context) {
	var in struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.engine.VerifyMFA(c.Request.Context(), in.Email, in.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenView{Token: res.Token, ExpiresAt: res.ExpiresAt})
}

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
	// Birthday is a calendar date, YYYY-MM-DD.
	Birthday string `json:"birthday"`
}

func (r registerRequest) input() (identity.RegisterInput, bool) {
	in := identity.RegisterInput{
		Email:       r.Email,
		Password:    r.Password,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		PhoneNumber: r.PhoneNumber,
		Address:     r.Address,
	}
	if r.Birthday != "" {
		b, err := time.Parse(dateLayout, r.Birthday)
		if err != nil {
			return in, false
		}
		in.Birthday = &b
	}
	return in, true
}

// Register handles POST /api/auth/register and grants the client role.
func (h *Handler) Register(c *gin.Context) {
	h.register(c, h.engine.Register)
}

// RegisterAdmin handles POST /api/auth/register-admin.
func (h *Handler) RegisterAdmin(c *gin.Context) {
	h.register(c, h.engine.RegisterAdmin)
}

func (h *Handler) register(c *gin.Context, create func(context.Context, identity.RegisterInput) (*identity.User, error)) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	in, ok := req.input()
	if !ok {
		badRequest(c, "birthday must be formatted as YYYY-MM-DD")
		return
	}

	user, err := create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserView(user))
}

// RefreshToken re-issues the token carried in the Authorization header.
func (h *Handler) RefreshToken(c *gin.Context) {
	token, ok := bearer(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
		return
	}

	res, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenView{Token: res.Token, ExpiresAt: res.ExpiresAt})
}

// ValidateToken reports the claims of a token whose signature verifies,
// including expired ones.
func (h *Handler) ValidateToken(c *gin.Context) {
	var in struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "token is required"})
		return
	}

	info, err := h.engine.InspectToken(in.Token)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusUnauthorized {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"valid": false, "message": messageFor(err, status)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       !info.Expired,
		"expired":     info.Expired,
		"email":       info.Email,
		"subject":     info.Email,
		"userId":      info.UserID,
		"roles":       info.Roles,
		"issuedAt":    info.IssuedAt,
		"expiration":  info.ExpiresAt,
		"currentTime": info.ServerTime,
	})
}

// GenerateFreshToken issues a long-lived token from email and password.
func (h *Handler) GenerateFreshToken(c *gin.Context) {
	var in credentials
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.engine.IssueLongLivedToken(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":       res.Token,
		"expiresAt":   res.ExpiresAt,
		"generatedAt": h.engine.ServerTime(),
		"user":        gin.H{"email": in.Email},
	})
}

// SystemTime reports the server clock for token debugging.
func (h *Handler) SystemTime(c *gin.Context) {
	now := h.engine.ServerTime()
	c.JSON(http.StatusOK, gin.H{
		"serverTime":        now,
		"formattedTime":     now.UTC().Format("2006-01-02 15:04:05 MST"),
		"currentTimeMillis": now.UnixMilli(),
	})
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
