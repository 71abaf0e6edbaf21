package config

// ApplyEnvConfig applies configuration from environment variables (BOOKSTORE_*)
// read through lookup. It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool, lookup func(string) string) error {
	s := newConfigSetter(changed)

	dbURL := lookup("BOOKSTORE_DATABASE_URL")
	if dbURL == "" {
		dbURL = lookup("DATABASE_URL")
	}
	s.setString("database-url", dbURL, &cfg.DatabaseURL)
	s.setString("driver", lookup("BOOKSTORE_DRIVER"), &cfg.Driver)
	s.setString("log-level", lookup("BOOKSTORE_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("batch-size", lookup("BOOKSTORE_BATCH_SIZE"), &cfg.BatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("statement-rows", lookup("BOOKSTORE_STATEMENT_ROWS"), &cfg.StatementRows); err != nil {
		return err
	}
	if err := s.setIntFromString("count", lookup("BOOKSTORE_COUNT"), &cfg.Count); err != nil {
		return err
	}

	s.setBoolFromString("trace-stdout", lookup("BOOKSTORE_TRACE_STDOUT"), &cfg.TraceStdout)
	return nil
}
