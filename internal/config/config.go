// Package config loads the service configuration from defaults, an optional
// YAML file, KARTULI_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix selects the environment variables read by Load. Nested keys are
// separated by a double underscore: KARTULI_DB__DSN sets db.dsn.
const EnvPrefix = "KARTULI_"

// ConfigFlag names the flag holding the YAML file path.
const ConfigFlag = "config"

type Config struct {
	HTTP     HTTP     `koanf:"http"`
	DB       DB       `koanf:"db"`
	Progress Progress `koanf:"progress"`
	Redis    Redis    `koanf:"redis"`
	Auth     Auth     `koanf:"auth"`
	Rate     Rate     `koanf:"rate"`
	Catalog  Catalog  `koanf:"catalog"`
	Session  Session  `koanf:"session"`
	Sync     Sync     `koanf:"sync"`
	Log      Log      `koanf:"log"`
}

type HTTP struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DB struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type Progress struct {
	Backend     string        `koanf:"backend" validate:"oneof=sql redis"`
	Workers     int           `koanf:"workers" validate:"min=1,max=256"`
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1,max=20"`
	RetryBase   time.Duration `koanf:"retry_base" validate:"gt=0"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
	Prefix   string `koanf:"prefix"`
}

type Auth struct {
	// Secret signs HS256 tokens. Empty makes every caller anonymous.
	Secret   string `koanf:"secret"`
	Required bool   `koanf:"required"`
}

type Rate struct {
	// PerSecond of zero disables rate limiting.
	PerSecond float64 `koanf:"per_second" validate:"min=0"`
	Burst     int     `koanf:"burst" validate:"min=0"`
}

type Catalog struct {
	CacheItems int64         `koanf:"cache_items" validate:"min=1"`
	CacheTTL   time.Duration `koanf:"cache_ttl" validate:"gt=0"`
}

type Session struct {
	Size         int           `koanf:"size" validate:"min=1,max=500"`
	SentenceSize int           `koanf:"sentence_size" validate:"min=1,max=500"`
	IdleTTL      time.Duration `koanf:"idle_ttl" validate:"gt=0"`
}

type Sync struct {
	ReposDir    string `koanf:"repos_dir" validate:"required"`
	Concurrency int    `koanf:"concurrency" validate:"min=1,max=64"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		DB:       DB{Driver: "sqlite", DSN: "kartuli.db"},
		Progress: Progress{Backend: "sql", Workers: 4, MaxAttempts: 5, RetryBase: 100 * time.Millisecond},
		Redis:    Redis{Addr: "localhost:6379", Prefix: "kartuli:"},
		Rate:     Rate{PerSecond: 20, Burst: 40},
		Catalog:  Catalog{CacheItems: 256, CacheTTL: 10 * time.Minute},
		Session:  Session{Size: 10, SentenceSize: 5, IdleTTL: 2 * time.Hour},
		Sync:     Sync{ReposDir: "repos", Concurrency: 4},
		Log:      Log{Level: "info", Format: "text"},
	}
}

// RegisterFlags adds the configuration flags to fs. Flags whose names hold a
// dot map onto configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(ConfigFlag, "c", "", "path to a YAML configuration file")
	fs.String("http.addr", d.HTTP.Addr, "address to listen on")
	fs.String("db.driver", d.DB.Driver, "database driver (sqlite or postgres)")
	fs.String("db.dsn", d.DB.DSN, "database file or connection string")
	fs.String("progress.backend", d.Progress.Backend, "progress store (sql or redis)")
	fs.String("redis.addr", d.Redis.Addr, "redis address")
	fs.String("sync.repos_dir", d.Sync.ReposDir, "directory git sources are cloned into")
	fs.Int("session.size", d.Session.Size, "items per session")
	fs.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log.format", d.Log.Format, "log format (text or json)")
}

// Load builds the configuration. fs must already be parsed; it may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if fs != nil {
		if path, _ := fs.GetString(ConfigFlag); path != "" {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			if !strings.Contains(f.Name, ".") {
				return "", nil
			}
			return f.Name, posflag.FlagVal(fs, f)
		})
		if err := k.Load(flags, nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps KARTULI_HTTP__READ_TIMEOUT to http.read_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var errRedisAddr = errors.New("redis.addr is required when progress.backend is redis")

// Validate checks field ranges and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Progress.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: %w", errRedisAddr)
	}
	return nil
}

// Logger builds the process logger described by the log section.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
