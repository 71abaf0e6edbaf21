package config

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/wilhg/bookstore/pkg/errmodel"
)

// FileConfig mirrors Config with optional fields so unset keys keep lower layers.
type FileConfig struct {
	DatabaseURL   string `toml:"database_url"`
	Driver        string `toml:"driver"`
	BatchSize     *int   `toml:"batch_size"`
	StatementRows *int   `toml:"statement_rows"`
	Count         *int   `toml:"count"`
	LogLevel      string `toml:"log_level"`
	TraceStdout   *bool  `toml:"trace_stdout"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, errmodel.Validation("config_unreadable", err.Error(), map[string]any{"path": path})
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, errmodel.Validation("invalid_config_file", fmt.Sprintf("%s: %v", path, err), map[string]any{"path": path})
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.bookstore/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".bookstore", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to cfg.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) {
	s := newConfigSetter(changed)

	s.setString("database-url", fc.DatabaseURL, &cfg.DatabaseURL)
	s.setString("driver", fc.Driver, &cfg.Driver)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	s.setInt("statement-rows", fc.StatementRows, &cfg.StatementRows)
	s.setInt("count", fc.Count, &cfg.Count)

	s.setBool("trace-stdout", fc.TraceStdout, &cfg.TraceStdout)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
