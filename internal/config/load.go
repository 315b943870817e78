package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IDENTITY_"

// Load builds a Config from defaults, the TOML file named by -config or
// IDENTITY_CONFIG, the environment and finally args.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fs, flags := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := flags.configPath
	if path == "" {
		path = getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	flags.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML overlays the file at path onto cfg. Keys absent from the file
// keep their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays IDENTITY_* variables onto c.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []string
	dur := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("SIGNING_KEY", &c.Token.SigningKey)
	str("TOKEN_ISSUER", &c.Token.Issuer)
	dur("SESSION_TTL", &c.Token.SessionTTL)
	dur("LONG_LIVED_TTL", &c.Token.LongLivedTTL)
	dur("MAX_REFRESH_AGE", &c.Token.MaxRefreshAge)
	str("TOTP_ISSUER", &c.TOTP.Issuer)
	str("RESET_LINK_BASE_URL", &c.Reset.LinkBaseURL)
	dur("RESET_TOKEN_TTL", &c.Reset.TokenTTL)
	dur("RESET_GC_INTERVAL", &c.Reset.GCInterval)
	str("MAIL_MODE", &c.Mail.Mode)
	str("SMTP_HOST", &c.Mail.Host)
	num("SMTP_PORT", &c.Mail.Port)
	str("SMTP_USERNAME", &c.Mail.Username)
	str("SMTP_PASSWORD", &c.Mail.Password)
	str("SMTP_FROM", &c.Mail.From)
	boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	boolean("AUDIT_ENABLED", &c.Audit.Enabled)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	boolean("METRICS_OTEL", &c.Metrics.OTel)
	dur("METRICS_OTEL_INTERVAL", &c.Metrics.OTelInterval)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

type flagValues struct {
	configPath string
	addr       string
	dbDriver   string
	dbDSN      string
	signingKey string
	redisAddr  string
	logLevel   string
	logFormat  string
}

func newFlagSet() (*flag.FlagSet, *flagValues) {
	v := &flagValues{}
	fs := flag.NewFlagSet("identityd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&v.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&v.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&v.dbDriver, "db-driver", "", "database driver: postgres, sqlite or memory")
	fs.StringVar(&v.dbDSN, "db-dsn", "", "database DSN")
	fs.StringVar(&v.signingKey, "signing-key", "", "HS256 signing key (>= 32 bytes)")
	fs.StringVar(&v.redisAddr, "redis-addr", "", "Redis address for the shared rate limiter")
	fs.StringVar(&v.logLevel, "log-level", "", "log level")
	fs.StringVar(&v.logFormat, "log-format", "", "log format: json or text")
	return fs, v
}

// apply copies only the flags that were set on the command line.
func (v *flagValues) apply(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.HTTP.Addr = v.addr
		case "db-driver":
			cfg.Database.Driver = v.dbDriver
		case "db-dsn":
			cfg.Database.DSN = v.dbDSN
		case "signing-key":
			cfg.Token.SigningKey = v.signingKey
		case "redis-addr":
			cfg.Redis.Addr = v.redisAddr
		case "log-level":
			cfg.Log.Level = v.logLevel
		case "log-format":
			cfg.Log.Format = v.logFormat
		}
	})
}
