package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/stretchr/testify/require"
)

func TestRendererEscapesAndFormats(t *testing.T) {
	r := NewRenderer("", "")
	r.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }

	subject, body, err := r.RenderResetEmail(identity.ResetEmail{
		Recipient: "ada@example.com",
		FirstName: "<Ada>",
		Link:      "https://app.example.com/reset?token=abc",
		ExpiresAt: time.Date(2026, 1, 3, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, ResetSubject, subject)
	require.Contains(t, body, "Hello &lt;Ada&gt;,")
	require.Contains(t, body, `href="https://app.example.com/reset?token=abc"`)
	require.Contains(t, body, "2026-01-03 09:30:00")
	require.Contains(t, body, "&copy; 2026 Your Company")
}

func TestRendererFallsBackToRecipient(t *testing.T) {
	_, body, err := NewRenderer("Acme", "Acme Team").RenderResetEmail(identity.ResetEmail{
		Recipient: "bob@example.com",
		Link:      "https://app.example.com/reset?token=x",
	})
	require.NoError(t, err)
	require.Contains(t, body, "Hello bob@example.com,")
	require.Contains(t, body, "Acme Team")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
	)
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		require.NotNil(t, a)
		require.Equal(t, "noreply@example.com", from)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "ada@example.com", ResetSubject, "<p>hi</p>"))
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"ada@example.com"}, gotTo)

	msg := string(gotMsg)
	require.Contains(t, msg, "To: ada@example.com\r\n")
	require.Contains(t, msg, "Subject: Password Reset Request\r\n")
	require.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatalf("send must not be called")
		return nil
	}
	err := s.Send(context.Background(), "a@example.com\r\nBcc: x@example.com", "s", "b")
	require.ErrorIs(t, err, errHeaderInjection)
}

func TestSMTPSenderWrapsRelayError(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25})
	relay := errors.New("454 try again")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return relay }

	err := s.Send(context.Background(), "a@example.com", "s", "b")
	require.ErrorIs(t, err, relay)
}

func TestLogSenderNeverLogsBody(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), "ada@example.com", ResetSubject, "secret-link-token"))
	out := buf.String()
	require.Contains(t, out, "ada@example.com")
	require.Contains(t, out, ResetSubject)
	require.NotContains(t, out, "secret-link-token")
}
