package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/nat64stated/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":8062" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8062")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Engine.LogChanges {
		t.Error("Engine.LogChanges = true, want false")
	}

	if cfg.Engine.EstablishedTimeout != 2*time.Hour {
		t.Errorf("Engine.EstablishedTimeout = %v, want %v", cfg.Engine.EstablishedTimeout, 2*time.Hour)
	}

	if cfg.Engine.TransitoryTimeout != 4*time.Minute {
		t.Errorf("Engine.TransitoryTimeout = %v, want %v", cfg.Engine.TransitoryTimeout, 4*time.Minute)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":9062"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
engine:
  log_changes: true
  established_timeout: "1h"
  transitory_timeout: "2m"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9062" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9062")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if !cfg.Engine.LogChanges {
		t.Error("Engine.LogChanges = false, want true")
	}

	if cfg.Engine.EstablishedTimeout != time.Hour {
		t.Errorf("Engine.EstablishedTimeout = %v, want %v", cfg.Engine.EstablishedTimeout, time.Hour)
	}

	if cfg.Engine.TransitoryTimeout != 2*time.Minute {
		t.Errorf("Engine.TransitoryTimeout = %v, want %v", cfg.Engine.TransitoryTimeout, 2*time.Minute)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level. Everything
	// else should inherit from DefaultConfig().
	yamlContent := `
admin:
  addr: ":7000"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":7000" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":7000")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Engine.EstablishedTimeout != 2*time.Hour {
		t.Errorf("Engine.EstablishedTimeout = %v, want default %v", cfg.Engine.EstablishedTimeout, 2*time.Hour)
	}

	if cfg.Engine.TransitoryTimeout != 4*time.Minute {
		t.Errorf("Engine.TransitoryTimeout = %v, want default %v", cfg.Engine.TransitoryTimeout, 4*time.Minute)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "zero established timeout",
			modify: func(cfg *config.Config) {
				cfg.Engine.EstablishedTimeout = 0
			},
			wantErr: config.ErrInvalidEstablishedTimeout,
		},
		{
			name: "negative established timeout",
			modify: func(cfg *config.Config) {
				cfg.Engine.EstablishedTimeout = -time.Second
			},
			wantErr: config.ErrInvalidEstablishedTimeout,
		},
		{
			name: "zero transitory timeout",
			modify: func(cfg *config.Config) {
				cfg.Engine.TransitoryTimeout = 0
			},
			wantErr: config.ErrInvalidTransitoryTimeout,
		},
		{
			name: "negative transitory timeout",
			modify: func(cfg *config.Config) {
				cfg.Engine.TransitoryTimeout = -time.Second
			},
			wantErr: config.ErrInvalidTransitoryTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/nat64stated.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv via t.Setenv).

	yamlContent := `
admin:
  addr: ":8062"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NAT64D_ADMIN_ADDR", ":6000")
	t.Setenv("NAT64D_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":6000" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":6000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesEngine(t *testing.T) {
	yamlContent := `
admin:
  addr: ":8062"
engine:
  established_timeout: "2h"
  transitory_timeout: "4m"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NAT64D_ENGINE_ESTABLISHED_TIMEOUT", "30m")
	t.Setenv("NAT64D_ENGINE_LOG_CHANGES", "true")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Engine.EstablishedTimeout != 30*time.Minute {
		t.Errorf("Engine.EstablishedTimeout = %v, want %v (from env)", cfg.Engine.EstablishedTimeout, 30*time.Minute)
	}

	if !cfg.Engine.LogChanges {
		t.Error("Engine.LogChanges = false, want true (from env)")
	}
}

// writeTemp creates a temporary YAML file and returns its path. The file
// is cleaned up automatically when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "nat64stated.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
