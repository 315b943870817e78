package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/MrEthical07/identity/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Token.SigningKey = "0123456789abcdef0123456789abcdef"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.HTTP.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewServesHealthAndRegistration(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.New(slog.DiscardHandler), "test")
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"email":"ada@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["token"])

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "identity_login_success_total 1")
}

func TestNewWithOTelMetricsFlushesOnClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Metrics.OTel = true
	cfg.Metrics.OTelInterval = time.Hour

	var buf bytes.Buffer
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(&buf, nil)), "test")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = a.Engine().Register(ctx, identity.RegisterInput{Email: "otel@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	_, err = a.Engine().Login(ctx, "otel@example.com", "correct-horse")
	require.NoError(t, err)

	a.Close()
	require.Contains(t, buf.String(), "component=metrics")
	require.Contains(t, buf.String(), "identity_login_success_total=1")
}

func TestNewWithRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Redis.Addr = mr.Addr()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.MaxLoginFailures = 1

	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler), "test")
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx := context.Background()
	_, err = a.Engine().Register(ctx, identity.RegisterInput{Email: "rl@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = a.Engine().Login(ctx, "rl@example.com", "wrong")
	require.ErrorIs(t, err, identity.ErrAuthenticationFailed)
	_, err = a.Engine().Login(ctx, "rl@example.com", "correct-horse")
	require.ErrorIs(t, err, identity.ErrRateLimited)
	require.NotEmpty(t, mr.Keys())
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, cfg, slog.New(slog.DiscardHandler), "test")
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Reset.GCInterval = 10 * time.Millisecond

	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler), "test")
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
