package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the config file and env overrides.
const (
	DefaultNotificationCap = 50
	DefaultMaxThreadDepth  = 16
	DefaultSweepCron       = "0 2 * * *"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseCommandFlags parses command-line flags and returns them as a Flags
// struct.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath returns the config file path: an explicit flag wins,
// then the INBOXD_CONFIG env var, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("INBOXD_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// Load reads the YAML config at path, applies defaults and env overrides
// and returns the effective config. A missing file is not an error; the
// defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Notifications.Cap = DefaultNotificationCap
	cfg.Threads.MaxDepth = DefaultMaxThreadDepth
	cfg.Sweep.Cron = DefaultSweepCron

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays INBOXD_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("INBOXD_SERVER_ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("INBOXD_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("INBOXD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("INBOXD_NOTIFICATION_CAP"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Notifications.Cap = n
		}
	}
	if v := os.Getenv("INBOXD_THREAD_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Threads.MaxDepth = n
		}
	}
	if v := os.Getenv("INBOXD_SWEEP_ENABLED"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Sweep.Enabled = true
		default:
			cfg.Sweep.Enabled = false
		}
	}
	if v := os.Getenv("INBOXD_SWEEP_CRON"); v != "" {
		cfg.Sweep.Cron = v
	}
	if v := os.Getenv("INBOXD_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("INBOXD_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimit.Burst = n
		}
	}
}
