// Package config manages the planetd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete planetd configuration.
type Config struct {
	Listen    ListenConfig    `koanf:"listen"`
	Limits    LimitsConfig    `koanf:"limits"`
	Penalty   PenaltyConfig   `koanf:"penalty"`
	Blacklist BlacklistConfig `koanf:"blacklist"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Admin     AdminConfig     `koanf:"admin"`
}

// ListenConfig holds the TCP listener configuration.
type ListenConfig struct {
	// Address is the interface address to bind (e.g., "0.0.0.0").
	Address string `koanf:"address"`
	// Port is the TCP port the master server listens on.
	Port int `koanf:"port"`
	// Workers is the number of connection-handling worker goroutines.
	Workers int `koanf:"workers"`
}

// LimitsConfig holds connection admission limits.
type LimitsConfig struct {
	// MaxClients is the maximum number of simultaneously connected clients.
	MaxClients int `koanf:"max_clients"`
	// MaxPerIP is the maximum number of simultaneous connections from a
	// single source IP address. -1 disables the per-IP cap entirely.
	MaxPerIP int `koanf:"max_per_ip"`
}

// PenaltyOnLimitConfig selects the enforcement actions taken when a client's
// penalty score crosses MaxPoints. The three fields are independent
// booleans: Blacklist combines with either Disconnect or Ignore.
type PenaltyOnLimitConfig struct {
	// Disconnect closes the connection on trip.
	Disconnect bool `koanf:"disconnect"`
	// Ignore drops the triggering command and keeps the connection open.
	Ignore bool `koanf:"ignore"`
	// Blacklist appends the peer IP to the persistent blacklist on trip.
	Blacklist bool `koanf:"blacklist"`
}

// PenaltyConfig holds the abusive-command rate limiting configuration.
type PenaltyConfig struct {
	// Enabled turns penalty accounting on or off.
	Enabled bool `koanf:"enabled"`
	// MaxPoints is the penalty score threshold that triggers OnLimit.
	MaxPoints int `koanf:"max_points"`
	// WindowSeconds is the sliding window, in seconds, over which penalty
	// points decay.
	WindowSeconds int `koanf:"window_seconds"`
	// OnLimit selects the enforcement actions taken on trip.
	OnLimit PenaltyOnLimitConfig `koanf:"on_limit"`
	// Costs maps a command letter to the penalty points it accrues.
	Costs map[string]int `koanf:"costs"`
}

// BlacklistConfig holds the persistent IP blacklist configuration.
type BlacklistConfig struct {
	// Path is the flat-file path used to persist blacklisted addresses.
	// Empty disables persistence (blacklist is held in memory only).
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminConfig holds the admin control-plane HTTP endpoint configuration,
// used by planetctl for status queries and session management.
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults, matching
// the historical master server's defaults where applicable (listen port
// 10003, penalty threshold of 85 points decaying over a 10 second window).
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Address: "127.0.0.1",
			Port:    10003,
			Workers: 0,
		},
		Limits: LimitsConfig{
			MaxClients: 1024,
			MaxPerIP:   10,
		},
		Penalty: PenaltyConfig{
			Enabled:       true,
			MaxPoints:     85,
			WindowSeconds: 10,
			OnLimit: PenaltyOnLimitConfig{
				Disconnect: true,
				Ignore:     true,
				Blacklist:  true,
			},
			Costs: map[string]int{
				"V": 1,
				"G": 3,
				"R": 5,
				"N": 3,
				"m": 3,
				"C": 3,
				"M": 3,
				"P": 3,
				"S": 2,
				"K": 1,
				"X": 3,
			},
		},
		Blacklist: BlacklistConfig{
			Path: "blacklist.txt",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Admin: AdminConfig{
			Addr: ":9101",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for planetd configuration.
// Variables are named PLANETD_<section>_<key>, e.g., PLANETD_LISTEN_PORT.
const envPrefix = "PLANETD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (PLANETD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	PLANETD_LISTEN_ADDRESS    -> listen.address
//	PLANETD_LISTEN_PORT       -> listen.port
//	PLANETD_LISTEN_WORKERS    -> listen.workers
//	PLANETD_LOG_LEVEL         -> log.level
//	PLANETD_LOG_FORMAT        -> log.format
//	PLANETD_METRICS_ADDR      -> metrics.addr
//	PLANETD_ADMIN_ADDR        -> admin.addr
//
// Keys whose own name contains an underscore (limits.max_clients and the
// like) cannot be set this way: see envKeyMapper.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms PLANETD_LISTEN_PORT -> listen.port.
// Strips the PLANETD_ prefix, lowercases, and replaces _ with .
//
// As with the daemon's own convention, this does not disambiguate a nested
// path separator from an underscore inside a compound key name (e.g.
// max_clients); only single-segment overrides are exercised via env vars in
// practice, with compound and nested keys set via the YAML file instead.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"listen.address":              defaults.Listen.Address,
		"listen.port":                 defaults.Listen.Port,
		"listen.workers":              defaults.Listen.Workers,
		"limits.max_clients":          defaults.Limits.MaxClients,
		"limits.max_per_ip":           defaults.Limits.MaxPerIP,
		"penalty.enabled":             defaults.Penalty.Enabled,
		"penalty.max_points":          defaults.Penalty.MaxPoints,
		"penalty.window_seconds":      defaults.Penalty.WindowSeconds,
		"penalty.on_limit.disconnect": defaults.Penalty.OnLimit.Disconnect,
		"penalty.on_limit.ignore":     defaults.Penalty.OnLimit.Ignore,
		"penalty.on_limit.blacklist":  defaults.Penalty.OnLimit.Blacklist,
		"penalty.costs":               defaults.Penalty.Costs,
		"blacklist.path":              defaults.Blacklist.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"admin.addr":                  defaults.Admin.Addr,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("listen.port must be between 1 and 65535")

	// ErrInvalidWorkerCount indicates the configured worker count is negative.
	// 0 is valid and means "use detected parallelism".
	ErrInvalidWorkerCount = errors.New("listen.workers must be >= 0")

	// ErrInvalidMaxClients indicates max_clients is < 1.
	ErrInvalidMaxClients = errors.New("limits.max_clients must be >= 1")

	// ErrInvalidMaxPerIP indicates max_per_ip is neither -1 (unlimited) nor >= 1.
	ErrInvalidMaxPerIP = errors.New("limits.max_per_ip must be -1 (unlimited) or >= 1")

	// ErrInvalidPenaltyWindow indicates the penalty window is <= 0.
	ErrInvalidPenaltyWindow = errors.New("penalty.window_seconds must be > 0")

	// ErrInvalidPenaltyThreshold indicates max_points is <= 0.
	ErrInvalidPenaltyThreshold = errors.New("penalty.max_points must be > 0")

	// ErrNoOnLimitAction indicates none of penalty.on_limit's three actions
	// are enabled, so a trip would have no observable effect.
	ErrNoOnLimitAction = errors.New("penalty.on_limit must enable at least one of disconnect, ignore, blacklist")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return ErrInvalidPort
	}

	if cfg.Listen.Workers < 0 {
		return ErrInvalidWorkerCount
	}

	if cfg.Limits.MaxClients < 1 {
		return ErrInvalidMaxClients
	}

	if cfg.Limits.MaxPerIP != -1 && cfg.Limits.MaxPerIP < 1 {
		return ErrInvalidMaxPerIP
	}

	if cfg.Penalty.Enabled {
		if cfg.Penalty.WindowSeconds <= 0 {
			return ErrInvalidPenaltyWindow
		}
		if cfg.Penalty.MaxPoints <= 0 {
			return ErrInvalidPenaltyThreshold
		}
		onLimit := cfg.Penalty.OnLimit
		if !onLimit.Disconnect && !onLimit.Ignore && !onLimit.Blacklist {
			return ErrNoOnLimitAction
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
