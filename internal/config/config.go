// Package config holds the CLI configuration. Values are layered in this
// order, later layers winning: defaults, TOML file, BOOKSTORE_* environment,
// explicitly set flags.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wilhg/bookstore/pkg/errmodel"
)

// Supported drivers.
const (
	DriverEnt  = "ent"
	DriverGorm = "gorm"
)

// MemoryURL selects the in-process store.
const MemoryURL = "memory:"

// Config is the effective configuration of a bookstore invocation.
type Config struct {
	DatabaseURL string `json:"database_url"`
	Driver      string `json:"driver"`
	// BatchSize is the number of authors committed per transaction.
	BatchSize int `json:"batch_size"`
	// StatementRows is the number of rows per INSERT statement. Zero means BatchSize.
	StatementRows int    `json:"statement_rows"`
	Count         int    `json:"count"`
	LogLevel      string `json:"log_level"`
	TraceStdout   bool   `json:"trace_stdout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DatabaseURL: "sqlite:file:bookstore.sqlite?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		Driver:      DriverEnt,
		BatchSize:   30,
		Count:       1000,
		LogLevel:    "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errmodel.Validation("missing_database_url", "database-url is required", nil)
	}
	switch c.Driver {
	case DriverEnt:
	case DriverGorm:
		if !IsPostgresURL(c.DatabaseURL) {
			return errmodel.Validation("unsupported_driver", "the gorm driver requires a postgres database-url", map[string]any{"driver": c.Driver})
		}
	default:
		return errmodel.Validation("unsupported_driver", fmt.Sprintf("unknown driver %q (want ent or gorm)", c.Driver), map[string]any{"driver": c.Driver})
	}
	if c.BatchSize <= 0 {
		return errmodel.Validation("invalid_batch_size", fmt.Sprintf("batch-size must be > 0, got %d", c.BatchSize), map[string]any{"batch_size": c.BatchSize})
	}
	if c.Count < 0 {
		return errmodel.Validation("invalid_count", fmt.Sprintf("count must be >= 0, got %d", c.Count), map[string]any{"count": c.Count})
	}
	if c.StatementRows < 0 {
		return errmodel.Validation("invalid_statement_rows", fmt.Sprintf("statement-rows must be >= 0, got %d", c.StatementRows), nil)
	}
	if c.StatementRows == 0 {
		c.StatementRows = c.BatchSize
	}
	return nil
}

// IsPostgresURL reports whether u names a PostgreSQL database.
func IsPostgresURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(u, "host=") || strings.Contains(u, "dbname=")
}

// Redacted returns a copy safe to log: the database password is masked.
func (c Config) Redacted() Config {
	u, err := url.Parse(c.DatabaseURL)
	if err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "*****")
			c.DatabaseURL = u.String()
		}
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if present and flag not changed. Out-of-range
// values are kept so Validate can reject them.
func (s *configSetter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return errmodel.Validation("invalid_env", fmt.Sprintf("parse %s: %v", flag, err), map[string]any{"flag": flag})
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
