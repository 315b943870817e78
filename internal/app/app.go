// Package app wires the engine, its stores and the HTTP API into a running
// process and owns its shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/MrEthical07/identity/internal/config"
	"github.com/MrEthical07/identity/internal/httpapi"
	"github.com/MrEthical07/identity/internal/mail"
	"github.com/MrEthical07/identity/internal/stores"
	"github.com/MrEthical07/identity/metrics/export/otel"
	"github.com/MrEthical07/identity/metrics/export/prometheus"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// App is one identityd process.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	engine  *identity.Engine
	router  http.Handler
	closers []func() error
}

// New opens the stores, builds the engine and registers the HTTP routes.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (_ *App, err error) {
	app := &App{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	users, mfa, resets, err := app.openStores(ctx)
	if err != nil {
		return nil, err
	}

	b := identity.New().
		WithConfig(cfg.EngineConfig()).
		WithUserStore(users).
		WithMFAStore(mfa).
		WithResetTokenStore(resets).
		WithMailer(app.mailer()).
		WithResetEmailRenderer(mail.NewRenderer(cfg.Mail.Company, cfg.Mail.Team)).
		WithLogger(logger)

	if cfg.Audit.Enabled {
		b = b.WithAuditSink(identity.NewSlogSink(logger.With("component", "audit")))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b = b.WithRedis(client)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}
	app.engine = engine
	app.closers = append(app.closers, func() error {
		engine.Close()
		return nil
	})

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = prometheus.New(engine).Handler()
	}
	if cfg.Metrics.OTel {
		pipeline, err := otel.NewPipeline(engine, logger.With("component", "metrics"), cfg.Metrics.OTelInterval)
		if err != nil {
			return nil, fmt.Errorf("otel metrics init: %w", err)
		}
		app.closers = append(app.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return pipeline.Close(ctx)
		})
	}
	gin.SetMode(gin.ReleaseMode)
	app.router = httpapi.NewRouter(httpapi.Options{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
		Version: version,
	})
	return app, nil
}

func (app *App) openStores(ctx context.Context) (identity.UserStore, identity.MFAStore, identity.ResetTokenStore, error) {
	if app.config.Database.Driver == "memory" {
		app.logger.Warn("using in-memory stores; data is lost on restart")
		m := stores.NewMemory()
		return m.Users, m.MFA, m.Resets, nil
	}

	m, err := stores.Open(ctx, app.config.Database.Driver, app.config.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, m.Close)
	return m.Users, m.MFA, m.Resets, nil
}

func (app *App) mailer() identity.Mailer {
	c := app.config.Mail
	if c.Mode == "smtp" {
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     c.Host,
			Port:     c.Port,
			Username: c.Username,
			Password: c.Password,
			From:     c.From,
		})
	}
	return mail.NewLogSender(app.logger)
}

func (app *App) Engine() *identity.Engine {
	return app.engine
}

func (app *App) Handler() http.Handler {
	return app.router
}

// Run serves HTTP and the reset-token garbage collector until ctx is
// cancelled, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.HTTP.Addr,
		Handler:           app.router,
		ReadHeaderTimeout: app.config.HTTP.ReadHeaderTimeout,
	}

	gcDone := make(chan struct{})
	go func() {
		defer close(gcDone)
		app.collectGarbage(ctx, app.config.Reset.GCInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http shutdown failed", "error", err)
	}
	<-gcDone

	app.logger.Info("server stopped")
	return runErr
}

// collectGarbage purges expired reset tokens and idle limiter state every
// interval. A zero interval disables it.
func (app *App) collectGarbage(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.sweep(ctx, interval)
		}
	}
}

func (app *App) sweep(ctx context.Context, interval time.Duration) {
	n, err := app.engine.PurgeExpiredResetTokens(ctx)
	if err != nil {
		app.logger.Warn("reset token purge failed", "error", err)
	} else if n > 0 {
		app.logger.Info("purged expired reset tokens", "count", n)
	}
	if pruned := app.engine.PruneRateLimits(interval); pruned > 0 {
		app.logger.Debug("pruned idle rate limit entries", "count", pruned)
	}
}

// Close releases everything New acquired in reverse order of acquisition.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("close failed", "error", err)
		}
	}
	app.closers = nil
}
