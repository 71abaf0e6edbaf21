package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/bookstore/pkg/errmodel"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DriverEnt, cfg.Driver)
	assert.Equal(t, 30, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.Count)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.StatementRows, "statement rows derive from batch size")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{name: "valid postgres gorm", mutate: func(c *Config) {
			c.Driver = DriverGorm
			c.DatabaseURL = "postgres://u:p@localhost/db"
		}},
		{name: "memory", mutate: func(c *Config) { c.DatabaseURL = MemoryURL }},
		{name: "missing url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantCode: "missing_database_url"},
		{name: "unknown driver", mutate: func(c *Config) { c.Driver = "jdbc" }, wantCode: "unsupported_driver"},
		{name: "gorm on sqlite", mutate: func(c *Config) { c.Driver = DriverGorm }, wantCode: "unsupported_driver"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantCode: "invalid_batch_size"},
		{name: "negative batch", mutate: func(c *Config) { c.BatchSize = -3 }, wantCode: "invalid_batch_size"},
		{name: "negative count", mutate: func(c *Config) { c.Count = -1 }, wantCode: "invalid_count"},
		{name: "negative statement rows", mutate: func(c *Config) { c.StatementRows = -1 }, wantCode: "invalid_statement_rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			ce := errmodel.From(err)
			assert.Equal(t, errmodel.CategoryValidation, ce.Category)
			assert.Equal(t, tt.wantCode, ce.Code)
		})
	}
}

func TestLayering_FileEnvFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url = "sqlite:file:from-file.db"
batch_size = 50
count = 10
trace_stdout = true
`), 0o600))

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Count = 7 // set by flag
	changed := map[string]bool{"count": true}
	ApplyFileConfig(&cfg, fc, changed)

	assert.Equal(t, "sqlite:file:from-file.db", cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 7, cfg.Count, "flag wins over file")
	assert.True(t, cfg.TraceStdout)
	assert.Equal(t, DriverEnt, cfg.Driver, "unset key keeps default")

	env := map[string]string{
		"BOOKSTORE_BATCH_SIZE": "25",
		"BOOKSTORE_COUNT":      "99",
		"DATABASE_URL":         "postgres://env/db",
	}
	require.NoError(t, ApplyEnvConfig(&cfg, changed, func(k string) string { return env[k] }))
	assert.Equal(t, 25, cfg.BatchSize, "env wins over file")
	assert.Equal(t, 7, cfg.Count, "flag wins over env")
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
}

func TestFileConfig_ZeroBatchSizeIsKeptForValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size = 0\n"), 0o600))
	fc, err := LoadFileConfig(path)
	require.NoError(t, err)
	cfg := DefaultConfig()
	ApplyFileConfig(&cfg, fc, nil)
	assert.Equal(t, 0, cfg.BatchSize)
	assert.Error(t, cfg.Validate())
}

func TestLoadFileConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size = \"thirty\"\n"), 0o600))
	_, err := LoadFileConfig(path)
	require.Error(t, err)
	assert.Equal(t, errmodel.ExitValidation, errmodel.ExitCode(err))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestApplyEnvConfig_InvalidInt(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnvConfig(&cfg, nil, func(k string) string {
		if k == "BOOKSTORE_BATCH_SIZE" {
			return "lots"
		}
		return ""
	})
	require.Error(t, err)
	assert.True(t, errmodel.IsCategory(err, errmodel.CategoryValidation))
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseURL = "postgres://bob:secret@db:5432/bookstore"
	red := cfg.Redacted()
	assert.NotContains(t, red.DatabaseURL, "secret")
	assert.Contains(t, red.DatabaseURL, "bob")
	assert.Contains(t, cfg.DatabaseURL, "secret", "original untouched")

	cfg.DatabaseURL = MemoryURL
	assert.Equal(t, MemoryURL, cfg.Redacted().DatabaseURL)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", &buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	fallbackLog := NewLogger("nonsense", &buf)
	fallbackLog.Info().Msg("fallback")
	assert.True(t, strings.Contains(buf.String(), "fallback"))
}
