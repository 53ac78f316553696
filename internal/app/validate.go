package app

import (
	"errors"
	"strings"

	"inboxd/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config, addr, dbPath string) error {
	if strings.TrimSpace(dbPath) == "" {
		return errors.New("database path is empty: set --db flag, INBOXD_DB_PATH env, or server.db_path in config")
	}
	if strings.TrimSpace(addr) == "" {
		return errors.New("listen address is empty: set --addr flag, INBOXD_SERVER_ADDR env, or server.address in config")
	}
	if cfg.Notifications.Cap <= 0 {
		return errors.New("notifications.cap must be positive")
	}
	if cfg.Threads.MaxDepth <= 0 {
		return errors.New("threads.max_depth must be positive")
	}
	if cfg.RateLimit.RPS < 0 {
		return errors.New("rate_limit.rps must not be negative")
	}
	return nil
}
