package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/identity"
	"github.com/MrEthical07/identity/internal/app"
	"github.com/MrEthical07/identity/internal/config"
	"github.com/MrEthical07/identity/internal/logging"
	"golang.org/x/term"
)

var errUsage = errors.New("usage")

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "migrate":
		return c.migrate(ctx, args[1:])
	case "create-admin":
		return c.createAdmin(ctx, args[1:])
	case "mint-token":
		return c.mintToken(ctx, args[1:])
	case "purge-expired":
		return c.purgeExpired(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage(c.stdout)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (c *cli) flagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	path := fs.String("config", "", "path to TOML config file")
	return fs, path
}

// open loads the configuration and builds the engine. Migrations run as a
// side effect of opening a SQL store.
func (c *cli) open(ctx context.Context, configPath string) (*app.App, error) {
	var args []string
	if configPath != "" {
		args = []string{"-config", configPath}
	}
	cfg, err := config.Load(args, c.getenv)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New("warn", "text", c.stderr)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger, "identityctl")
}

func (c *cli) migrate(ctx context.Context, args []string) error {
	fs, path := c.flagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, *path)
	if err != nil {
		return err
	}
	a.Close()
	fmt.Fprintln(c.stdout, "migrations applied")
	return nil
}

func (c *cli) createAdmin(ctx context.Context, args []string) error {
	fs, path := c.flagSet("create-admin")
	email := fs.String("email", "", "account email (required)")
	first := fs.String("first-name", "", "first name")
	last := fs.String("last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("%w: -email is required", errUsage)
	}

	password, err := c.promptPassword("Password: ", true)
	if err != nil {
		return err
	}

	a, err := c.open(ctx, *path)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Engine().RegisterAdmin(ctx, identity.RegisterInput{
		Email:     *email,
		Password:  password,
		FirstName: *first,
		LastName:  *last,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	fmt.Fprintf(c.stdout, "created admin %s (id %d)\n", user.Email, user.ID)
	return nil
}

func (c *cli) mintToken(ctx context.Context, args []string) error {
	fs, path := c.flagSet("mint-token")
	email := fs.String("email", "", "account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("%w: -email is required", errUsage)
	}

	password, err := c.promptPassword("Password: ", false)
	if err != nil {
		return err
	}

	a, err := c.open(ctx, *path)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.Engine().IssueLongLivedToken(ctx, *email, password)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(c.stdout, tok.Token)
	fmt.Fprintf(c.stderr, "expires %s\n", tok.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func (c *cli) purgeExpired(ctx context.Context, args []string) error {
	fs, path := c.flagSet("purge-expired")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, *path)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Engine().PurgeExpiredResetTokens(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	fmt.Fprintf(c.stdout, "purged %d expired reset tokens\n", n)
	return nil
}

// promptPassword reads without echo when stdin is a terminal and falls back
// to a plain line read so the command can be scripted.
func (c *cli) promptPassword(prompt string, confirm bool) (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, prompt)
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", err
		}
		if confirm {
			fmt.Fprint(c.stderr, "Repeat password: ")
			again, err := readPassword(int(f.Fd()))
			fmt.Fprintln(c.stderr)
			if err != nil {
				return "", err
			}
			if string(again) != string(pw) {
				return "", errors.New("passwords do not match")
			}
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
