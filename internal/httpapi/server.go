package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Options configures NewRouter.
type Options struct {
	Engine *identity.Engine
	Logger *slog.Logger
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
	Version string
}

// Handler carries the dependencies of all route handlers.
type Handler struct {
	engine  *identity.Engine
	logger  *slog.Logger
	version string
}

const principalKey = "identity.principal"

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	h := &Handler{engine: opts.Engine, logger: logger, version: version}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), h.filter())

	auth := r.Group("/api/auth")
	auth.POST("/login", h.Login)
	auth.POST("/verify-mfa", h.VerifyMFA)
	auth.POST("/register", h.Register)
	auth.POST("/register-admin", h.RegisterAdmin)
	auth.POST("/refresh-token", h.RefreshToken)
	auth.POST("/validate-token", h.ValidateToken)
	auth.POST("/generate-fresh-token", h.GenerateFreshToken)
	auth.GET("/system-time", h.SystemTime)

	pw := auth.Group("/password")
	pw.POST("/forgot", h.ForgotPassword)
	pw.GET("/validate-token", h.ValidateResetToken)
	pw.POST("/reset", h.ResetPassword)
	pw.GET("/preview-email", h.PreviewEmail)

	jr := r.Group("/jwt-reset")
	jr.GET("/system-time", h.SystemTime)
	jr.POST("/generate-token", h.GenerateFreshToken)
	jr.POST("/validate-token", h.ValidateToken)

	mfa := r.Group("/api/mfa", requireAuth())
	mfa.GET("/setup", h.SetupMFA)
	mfa.POST("/enable", h.EnableMFA)
	mfa.POST("/disable", h.DisableMFA)
	mfa.GET("/status", h.MFAStatus)

	profile := r.Group("/api/profile", requireAuth())
	profile.GET("/me", h.GetProfile)
	profile.PUT("/me", h.UpdateProfile)
	profile.PUT("/change-password", h.ChangePassword)
	profile.GET("/system-info", h.SystemInfo)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	return r
}

// filter resolves the bearer token of every request through the engine's
// request filter. It never rejects; requireAuth does.
func (h *Handler) filter() gin.HandlerFunc {
	f := h.engine.Filter()
	return func(c *gin.Context) {
		ctx := identity.WithClientIP(c.Request.Context(), c.ClientIP())

		decision := f.Resolve(c.Request.URL.Path, c.GetHeader("Authorization"))
		if decision.Principal != nil {
			ctx = identity.WithPrincipal(ctx, decision.Principal)
			c.Set(principalKey, decision.Principal)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.PrincipalFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) *identity.Principal {
	p, _ := identity.PrincipalFromContext(c.Request.Context())
	return p
}

const requestIDHeader = "X-Request-ID"

// requestLogger tags each request with an id and logs the path without its
// query string, which may carry a reset token.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
		logger.LogAttrs(c.Request.Context(), slog.LevelInfo, "http request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
