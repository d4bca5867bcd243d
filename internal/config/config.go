// Package config manages the nat64stated daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables; it reads no command-line
// flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete nat64stated configuration.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Engine  EngineConfig  `koanf:"engine"`
}

// AdminConfig holds the admin HTTP API configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":8062").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// EngineConfig holds the BIB/session engine's tunables: the two expiry
// class timeouts (§4.4) and whether BIB/session mutations are logged
// (§4.2's log_changes, §6's observable logging events).
type EngineConfig struct {
	// LogChanges enables the "Mapped"/"Forgot"/"Added session"/"Forgot
	// session" log lines for every protocol's tables.
	LogChanges bool `koanf:"log_changes"`

	// EstablishedTimeout is the timeout for the ESTABLISHED expiry class.
	EstablishedTimeout time.Duration `koanf:"established_timeout"`

	// TransitoryTimeout is the timeout for the TRANSITORY expiry class.
	TransitoryTimeout time.Duration `koanf:"transitory_timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Jool's stock TCP established/transitory timeouts (RFC 6146 §3.5.1's
// defaults of 2 hours and 4 minutes) are the conservative starting point
// for production deployments; see original_source/mod/stateful/session.
const (
	defaultEstablishedTimeout = 2 * time.Hour
	defaultTransitoryTimeout  = 4 * time.Minute
)

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8062",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			LogChanges:         false,
			EstablishedTimeout: defaultEstablishedTimeout,
			TransitoryTimeout:  defaultTransitoryTimeout,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for nat64stated
// configuration. Variables are named NAT64D_<section>_<key>, e.g.
// NAT64D_ADMIN_ADDR.
const envPrefix = "NAT64D_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NAT64D_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	NAT64D_ADMIN_ADDR              -> admin.addr
//	NAT64D_METRICS_ADDR            -> metrics.addr
//	NAT64D_METRICS_PATH            -> metrics.path
//	NAT64D_LOG_LEVEL               -> log.level
//	NAT64D_LOG_FORMAT              -> log.format
//	NAT64D_ENGINE_LOG_CHANGES      -> engine.log_changes
//	NAT64D_ENGINE_ESTABLISHED_TIMEOUT -> engine.established_timeout
//	NAT64D_ENGINE_TRANSITORY_TIMEOUT  -> engine.transitory_timeout
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
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

// envKeyMapper transforms NAT64D_ADMIN_ADDR -> admin.addr.
// Strips the NAT64D_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so keys such as log_changes keep their
// underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                  defaults.Admin.Addr,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
		"engine.log_changes":          defaults.Engine.LogChanges,
		"engine.established_timeout":  defaults.Engine.EstablishedTimeout.String(),
		"engine.transitory_timeout":   defaults.Engine.TransitoryTimeout.String(),
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
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidEstablishedTimeout indicates a non-positive established timeout.
	ErrInvalidEstablishedTimeout = errors.New("engine.established_timeout must be > 0")

	// ErrInvalidTransitoryTimeout indicates a non-positive transitory timeout.
	ErrInvalidTransitoryTimeout = errors.New("engine.transitory_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if cfg.Engine.EstablishedTimeout <= 0 {
		return ErrInvalidEstablishedTimeout
	}

	if cfg.Engine.TransitoryTimeout <= 0 {
		return ErrInvalidTransitoryTimeout
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
