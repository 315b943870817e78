package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/identity/password"
)

func TestLoginWithoutMFAIssuesToken(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")

	out, err := te.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if RequiresMFA(out) {
		t.Fatal("expected no second factor")
	}
	auth, ok := out.(*Authenticated)
	if !ok || auth.Token == "" {
		t.Fatalf("expected token, got %#v", out)
	}

	p, err := te.VerifyToken(auth.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if p.Email != "a@x.com" || !p.HasRole(RoleClient) {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !auth.ExpiresAt.Equal(te.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", auth.ExpiresAt)
	}
}

func TestLoginFailureIsUndifferentiated(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")

	_, errWrong := te.Login(context.Background(), "a@x.com", "nope")
	_, errUnknown := te.Login(context.Background(), "ghost@x.com", "pw1")

	if !errors.Is(errWrong, ErrAuthenticationFailed) || !errors.Is(errUnknown, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v and %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errUnknown)
	}
}

func enableMFA(t *testing.T, te *testEngine, userID int64) string {
	t.Helper()
	setup, err := te.SetupMFA(context.Background(), userID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	code, err := te.totp.GenerateCode(setup.Secret, te.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if err := te.EnableMFA(context.Background(), userID, code); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	return setup.Secret
}

func TestLoginWithMFARequiresSecondStep(t *testing.T) {
	te := newTestEngine(t, nil)
	u := te.register(t, "b@x.com", "pwB")
	secret := enableMFA(t, te, u.ID)

	out, err := te.Login(context.Background(), "b@x.com", "pwB")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	challenge, ok := out.(*MFAChallenge)
	if !ok || challenge.Email != "b@x.com" {
		t.Fatalf("expected MFA challenge, got %#v", out)
	}

	if _, err := te.VerifyMFA(context.Background(), "b@x.com", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	code, _ := te.totp.GenerateCode(secret, te.clock.Now())
	auth, err := te.VerifyMFA(context.Background(), "b@x.com", code)
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	if auth.Token == "" {
		t.Fatal("expected token after second factor")
	}
}

func TestVerifyMFAWithoutSecret(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")

	if _, err := te.VerifyMFA(context.Background(), "a@x.com", "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("expected ErrMFANotConfigured, got %v", err)
	}
}

func TestMFAStateMachine(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	u := te.register(t, "c@x.com", "pwC")

	if st, _ := te.MFAStatus(ctx, u.ID); st != MFANoRecord {
		t.Fatalf("expected no record, got %v", st)
	}
	if err := te.EnableMFA(ctx, u.ID, "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("expected ErrMFANotConfigured, got %v", err)
	}

	first, err := te.SetupMFA(ctx, u.ID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	if !strings.HasPrefix(first.URI, "otpauth://totp/") || !strings.HasPrefix(first.QRCode, "data:image/png;base64,") {
		t.Fatalf("unexpected enrollment payload %+v", first)
	}
	second, err := te.SetupMFA(ctx, u.ID)
	if err != nil {
		t.Fatalf("SetupMFA again: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("repeated setup must replace the secret")
	}
	if st, _ := te.MFAStatus(ctx, u.ID); st != MFAPendingSetup {
		t.Fatalf("expected pending setup, got %v", st)
	}

	// wrong code leaves the record untouched
	if err := te.EnableMFA(ctx, u.ID, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if st, _ := te.MFAStatus(ctx, u.ID); st != MFAPendingSetup {
		t.Fatalf("failed enable changed state to %v", st)
	}

	code, _ := te.totp.GenerateCode(second.Secret, te.clock.Now())
	if err := te.EnableMFA(ctx, u.ID, code); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	if on, _ := te.MFAEnabled(ctx, u.ID); !on {
		t.Fatal("expected enabled")
	}
	if _, err := te.SetupMFA(ctx, u.ID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}

	if err := te.DisableMFA(ctx, u.ID); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}
	if err := te.DisableMFA(ctx, u.ID); err != nil {
		t.Fatalf("DisableMFA must be idempotent: %v", err)
	}
	if st, _ := te.MFAStatus(ctx, u.ID); st != MFADisabled {
		t.Fatalf("expected disabled, got %v", st)
	}
	secret, ok, _ := te.MFASecret(ctx, u.ID)
	if !ok || secret != second.Secret {
		t.Fatal("disable must keep the secret")
	}

	// re-enable without a new enrollment
	te.clock.Advance(30 * time.Second)
	code, _ = te.totp.GenerateCode(secret, te.clock.Now())
	if err := te.EnableMFA(ctx, u.ID, code); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if on, _ := te.MFAEnabled(ctx, u.ID); !on {
		t.Fatal("expected enabled after re-enable")
	}
}

func TestRefreshAcceptsExpiredToken(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")

	out, err := te.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	old := out.(*Authenticated).Token

	te.clock.Advance(3 * time.Hour)
	if _, err := te.VerifyToken(old); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	fresh, err := te.Refresh(context.Background(), old)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	p, err := te.VerifyToken(fresh.Token)
	if err != nil {
		t.Fatalf("refreshed token must verify: %v", err)
	}
	if p.Email != "a@x.com" || p.UserID == 0 || !p.HasRole(RoleClient) {
		t.Fatalf("claims not carried over: %+v", p)
	}

	if _, err := te.Refresh(context.Background(), old[:len(old)-4]+"AAAA"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestRefreshWindow(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Token.MaxRefreshAge = 2 * time.Hour })
	te.register(t, "a@x.com", "pw1")

	out, _ := te.Login(context.Background(), "a@x.com", "pw1")
	old := out.(*Authenticated).Token

	te.clock.Advance(90 * time.Minute)
	if _, err := te.Refresh(context.Background(), old); err != nil {
		t.Fatalf("Refresh within window: %v", err)
	}
	te.clock.Advance(time.Hour)
	if _, err := te.Refresh(context.Background(), old); !errors.Is(err, ErrRefreshWindowExceeded) {
		t.Fatalf("expected ErrRefreshWindowExceeded, got %v", err)
	}
}

func TestVerifyTokenTamperedSignature(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")
	out, _ := te.Login(context.Background(), "a@x.com", "pw1")
	token := out.(*Authenticated).Token

	sigStart := strings.LastIndex(token, ".") + 1
	for i := sigStart; i < len(token); i++ {
		for _, flipped := range []byte{'A', token[i] ^ 1} {
			if flipped == token[i] {
				flipped = 'B'
			}
			b := []byte(token)
			b[i] = flipped
			if _, err := te.VerifyToken(string(b)); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("flip at %d to %q: expected ErrTokenInvalid, got %v", i, flipped, err)
			}
		}
	}
}

func TestInspectToken(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")
	out, _ := te.Login(context.Background(), "a@x.com", "pw1")
	token := out.(*Authenticated).Token

	info, err := te.InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken: %v", err)
	}
	if info.Expired || info.Email != "a@x.com" {
		t.Fatalf("unexpected inspection %+v", info)
	}

	te.clock.Advance(2 * time.Hour)
	info, err = te.InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken expired: %v", err)
	}
	if !info.Expired {
		t.Fatal("expected expired flag")
	}

	if _, err := te.InspectToken("not.a.token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestIssueLongLivedTokenSkipsSecondFactor(t *testing.T) {
	te := newTestEngine(t, nil)
	u := te.register(t, "b@x.com", "pwB")
	enableMFA(t, te, u.ID)

	auth, err := te.IssueLongLivedToken(context.Background(), "b@x.com", "pwB")
	if err != nil {
		t.Fatalf("IssueLongLivedToken: %v", err)
	}
	if !auth.ExpiresAt.Equal(te.clock.Now().Add(365 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", auth.ExpiresAt)
	}
	if _, err := te.IssueLongLivedToken(context.Background(), "b@x.com", "bad"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func resetTokenFromMail(t *testing.T, m sentMail) string {
	t.Helper()
	u, err := url.Parse(m.Body)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("no token in link %q", m.Body)
	}
	return token
}

func TestRequestPasswordResetAntiEnumeration(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "known@x.com", "pw1")

	msgUnknown, err := te.RequestPasswordReset(context.Background(), "unknown@x.com")
	if err != nil {
		t.Fatalf("unknown: %v", err)
	}
	if te.mailer.count() != 0 {
		t.Fatal("no email may be sent for an unknown address")
	}
	msgKnown, err := te.RequestPasswordReset(context.Background(), "known@x.com")
	if err != nil {
		t.Fatalf("known: %v", err)
	}
	if msgKnown != msgUnknown || msgKnown == "" {
		t.Fatalf("messages differ: %q vs %q", msgKnown, msgUnknown)
	}
	if te.mailer.count() != 1 || te.mailer.last().To != "known@x.com" {
		t.Fatalf("expected one email to known@x.com, got %d", te.mailer.count())
	}
}

func TestResetPasswordSingleUse(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "known@x.com", "pw1")

	if _, err := te.RequestPasswordReset(ctx, "known@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := resetTokenFromMail(t, te.mailer.last())

	info, err := te.ValidateResetToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateResetToken: %v", err)
	}
	if info.Email != "known@x.com" || !info.ExpiresAt.Equal(te.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := te.ResetPassword(ctx, token, "new-pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := te.ResetPassword(ctx, token, "other-pass"); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("expected ErrResetTokenUsed, got %v", err)
	}
	if _, err := te.ValidateResetToken(ctx, token); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("expected ErrResetTokenUsed on validate, got %v", err)
	}

	if _, err := te.Login(ctx, "known@x.com", "pw1"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := te.Login(ctx, "known@x.com", "new-pass"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestRequestPasswordResetInvalidatesPriorToken(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "known@x.com", "pw1")

	_, _ = te.RequestPasswordReset(ctx, "known@x.com")
	first := resetTokenFromMail(t, te.mailer.last())
	_, _ = te.RequestPasswordReset(ctx, "known@x.com")
	second := resetTokenFromMail(t, te.mailer.last())

	if first == second {
		t.Fatal("reset tokens must not repeat")
	}
	if err := te.ResetPassword(ctx, first, "new-pass"); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("expected ErrResetTokenNotFound for replaced token, got %v", err)
	}
	if _, err := te.ValidateResetToken(ctx, second); err != nil {
		t.Fatalf("second token must be valid: %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.register(t, "known@x.com", "pw1")

	_, _ = te.RequestPasswordReset(ctx, "known@x.com")
	token := resetTokenFromMail(t, te.mailer.last())

	te.clock.Advance(24 * time.Hour)
	if _, err := te.ValidateResetToken(ctx, token); err != nil {
		t.Fatalf("token must be valid at its expiry instant: %v", err)
	}
	te.clock.Advance(time.Second)
	if err := te.ResetPassword(ctx, token, "new-pass"); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expected ErrResetTokenExpired, got %v", err)
	}

	n, err := te.PurgeExpiredResetTokens(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged token, got %d, %v", n, err)
	}
	if _, err := te.ValidateResetToken(ctx, token); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("expected ErrResetTokenNotFound after purge, got %v", err)
	}
}

func TestRequestPasswordResetDeliveryFailure(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "known@x.com", "pw1")
	te.mailer.err = errors.New("smtp: connection refused")

	_, err := te.RequestPasswordReset(context.Background(), "known@x.com")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if _, err := te.RequestPasswordReset(context.Background(), "unknown@x.com"); err != nil {
		t.Fatalf("unknown address must still succeed: %v", err)
	}
}

func TestResetPasswordPolicy(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Password.MinLength = 8 })
	ctx := context.Background()
	te.register(t, "known@x.com", "long-enough")

	_, _ = te.RequestPasswordReset(ctx, "known@x.com")
	token := resetTokenFromMail(t, te.mailer.last())
	if err := te.ResetPassword(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := te.ValidateResetToken(ctx, token); err != nil {
		t.Fatalf("token must survive a rejected password: %v", err)
	}
}

func TestPreviewResetEmail(t *testing.T) {
	te := newTestEngine(t, nil)
	subject, body, err := te.PreviewResetEmail(context.Background())
	if err != nil {
		t.Fatalf("PreviewResetEmail: %v", err)
	}
	if subject == "" || !strings.Contains(body, "token=sample-token") {
		t.Fatalf("unexpected preview %q %q", subject, body)
	}
}

func TestRegisterAndAccount(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	admin, err := te.RegisterAdmin(ctx, RegisterInput{Email: "root@x.com", Password: "adminpw"})
	if err != nil {
		t.Fatalf("RegisterAdmin: %v", err)
	}
	if len(admin.Roles) != 1 || admin.Roles[0] != RoleAdmin {
		t.Fatalf("unexpected roles %v", admin.Roles)
	}
	if _, err := te.Register(ctx, RegisterInput{Email: "root@x.com", Password: "other"}); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := te.Register(ctx, RegisterInput{Email: "not-an-email", Password: "pw1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := te.Register(ctx, RegisterInput{Email: "p@x.com", Password: "ab"}); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if err := te.ChangePassword(ctx, admin.ID, "wrong", "newadminpw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if err := te.ChangePassword(ctx, admin.ID, "adminpw", "newadminpw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := te.Login(ctx, "root@x.com", "newadminpw"); err != nil {
		t.Fatalf("login after change: %v", err)
	}

	name := "  Ada "
	p, err := te.UpdateProfile(ctx, admin.ID, ProfileUpdate{FirstName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if p.User.FirstName != "Ada" || p.User.PasswordHash != "" || p.MFAEnabled {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := te.Profile(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	te := newTestEngine(t, nil)
	legacy, _ := password.NewBcrypt(4)
	hash, _ := legacy.Hash("pw1")
	u := &User{Email: "old@x.com", PasswordHash: hash, Roles: []Role{RoleClient}}
	if err := te.users.Save(context.Background(), u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := te.Login(context.Background(), "old@x.com", "pw1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	stored, _ := te.users.FindByID(context.Background(), u.ID)
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("expected rehash to argon2id, got %q", stored.PasswordHash[:7])
	}
}

func TestLoginRateLimited(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.MaxLoginFailures = 2
	})
	ctx := context.Background()
	te.register(t, "a@x.com", "pw1")

	for i := 0; i < 2; i++ {
		if _, err := te.Login(ctx, "a@x.com", "bad"); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("attempt %d: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
	if _, err := te.Login(ctx, "a@x.com", "pw1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRateLimitHit]; got == 0 {
		t.Fatal("expected rate limit metric")
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	sink, events := NewChannelSink(16)
	te := newTestEngine(t, func(c *Config) { c.Audit.Enabled = true }, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	te.register(t, "a@x.com", "pw1")
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	if _, err := te.Login(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.EventType != auditEventLoginSuccess {
				continue
			}
			if ev.IP != "203.0.113.7" || ev.Subject != "a@x.com" || !ev.Success {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("login_success event not delivered")
		}
	}
}

func TestEngineFilterUsesEngineKeys(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "a@x.com", "pw1")
	out, _ := te.Login(context.Background(), "a@x.com", "pw1")
	token := out.(*Authenticated).Token

	f := te.Filter()
	if d := f.Resolve("/api/auth/login", ""); !d.Public {
		t.Fatal("login must be public")
	}
	d := f.Resolve("/api/profile/me", "Bearer "+token)
	if d.Public || d.Principal == nil || d.Principal.Email != "a@x.com" {
		t.Fatalf("expected authenticated decision, got %+v", d)
	}
	if d := f.Resolve("/api/profile/me", "Bearer garbage"); d.Principal != nil {
		t.Fatal("garbage token must resolve to anonymous")
	}
}

func TestBuildRequiresStores(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected Build to fail without stores")
	}
	var e *Engine
	if _, err := e.Login(context.Background(), "a@x.com", "pw1"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("nil engine: expected ErrEngineNotReady, got %v", err)
	}
}
