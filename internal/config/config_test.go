package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("kartuli", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.Bool("sync", false, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(parse(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithoutFlags(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kartuli.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
  read_timeout: 5s
db:
  driver: postgres
  dsn: postgres://file
session:
  size: 12
log:
  format: json
`), 0o644))

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(parse(t, "--config", path))
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.HTTP.Addr)
		assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
		assert.Equal(t, "postgres", cfg.DB.Driver)
		assert.Equal(t, 12, cfg.Session.Size)
		assert.Equal(t, "json", cfg.Log.Format)
		// Untouched keys keep their defaults.
		assert.Equal(t, 5, cfg.Session.SentenceSize)
	})

	t.Run("environment beats file", func(t *testing.T) {
		t.Setenv("KARTULI_DB__DSN", "postgres://env")
		t.Setenv("KARTULI_HTTP__WRITE_TIMEOUT", "45s")
		t.Setenv("KARTULI_SESSION__SIZE", "8")
		t.Setenv("KARTULI_AUTH__REQUIRED", "true")

		cfg, err := Load(parse(t, "-c", path))
		require.NoError(t, err)
		assert.Equal(t, "postgres://env", cfg.DB.DSN)
		assert.Equal(t, 45*time.Second, cfg.HTTP.WriteTimeout)
		assert.Equal(t, 8, cfg.Session.Size)
		assert.True(t, cfg.Auth.Required)
	})

	t.Run("flags beat environment", func(t *testing.T) {
		t.Setenv("KARTULI_SESSION__SIZE", "8")

		cfg, err := Load(parse(t, "--config", path, "--session.size", "20", "--sync"))
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Session.Size)
		assert.Equal(t, ":9000", cfg.HTTP.Addr, "unset flags do not override the file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(parse(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.DB.DSN = "" }},
		{"unknown backend", func(c *Config) { c.Progress.Backend = "mongo" }},
		{"redis without address", func(c *Config) { c.Progress.Backend = "redis"; c.Redis.Addr = "" }},
		{"zero session size", func(c *Config) { c.Session.Size = 0 }},
		{"no workers", func(c *Config) { c.Progress.Workers = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"negative rate", func(c *Config) { c.Rate.PerSecond = -1 }},
	}

	require.NoError(t, Default().Validate())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("KARTULI_LOG__FORMAT", "xml")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "http.read_timeout", envKey("KARTULI_HTTP__READ_TIMEOUT"))
	assert.Equal(t, "db.dsn", envKey("KARTULI_DB__DSN"))
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	l := cfg.Logger()
	require.NotNil(t, l)
	assert.True(t, l.Enabled(t.Context(), slog.LevelDebug))
}
