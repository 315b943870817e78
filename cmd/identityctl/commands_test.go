package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCLI(t *testing.T, stdin string) (*cli, *bytes.Buffer) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "identity.db") + "?_pragma=foreign_keys(1)"
	env := map[string]string{
		"IDENTITY_DB_DRIVER":   "sqlite",
		"IDENTITY_DB_DSN":      dsn,
		"IDENTITY_SIGNING_KEY": "0123456789abcdef0123456789abcdef",
	}
	out := &bytes.Buffer{}
	return &cli{
		stdin:  strings.NewReader(stdin),
		stdout: out,
		stderr: &bytes.Buffer{},
		getenv: func(k string) string { return env[k] },
	}, out
}

func TestCreateAdminThenMintToken(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, "correct-horse\n")

	require.NoError(t, c.run(ctx, []string{"create-admin", "-email", "root@example.com"}))
	require.Contains(t, out.String(), "created admin root@example.com")

	c.stdin = strings.NewReader("correct-horse\n")
	out.Reset()
	require.NoError(t, c.run(ctx, []string{"mint-token", "-email", "root@example.com"}))
	require.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))
}

func TestMintTokenRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCLI(t, "correct-horse\n")
	require.NoError(t, c.run(ctx, []string{"create-admin", "-email", "root@example.com"}))

	c.stdin = strings.NewReader("wrong-password\n")
	require.Error(t, c.run(ctx, []string{"mint-token", "-email", "root@example.com"}))
}

func TestPurgeExpiredAndMigrate(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, "")

	require.NoError(t, c.run(ctx, []string{"migrate"}))
	require.Contains(t, out.String(), "migrations applied")

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"purge-expired"}))
	require.Contains(t, out.String(), "purged 0 expired reset tokens")
}

func TestUsageErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCLI(t, "")

	require.ErrorIs(t, c.run(ctx, nil), errUsage)
	require.ErrorIs(t, c.run(ctx, []string{"bogus"}), errUsage)
	require.ErrorIs(t, c.run(ctx, []string{"create-admin"}), errUsage)
}

func TestPromptPasswordRejectsEmpty(t *testing.T) {
	c, _ := newTestCLI(t, "\n")
	_, err := c.promptPassword("Password: ", false)
	require.Error(t, err)
}
