package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Volumes   VolumesConfig   `mapstructure:"volumes"`
	Log       LogConfig       `mapstructure:"log"`
}

// Runtime backends.
const (
	BackendDocker    = "docker"
	BackendContainer = "container"
)

// RuntimeConfig selects and configures the container runtime backend.
type RuntimeConfig struct {
	Backend    string `mapstructure:"backend"`     // "docker" or "container"
	DockerHost string `mapstructure:"docker_host"` // empty uses DOCKER_HOST / the default socket
	Binary     string `mapstructure:"binary"`      // CLI binary for the container backend
}

// ReadinessConfig bounds how long the driver waits for a service to run.
type ReadinessConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// VolumesConfig holds named volume storage configuration.
type VolumesConfig struct {
	Root string `mapstructure:"root"` // empty means ~/.containers/Volumes
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("runtime.backend", BackendDocker)
	v.SetDefault("runtime.docker_host", "")
	v.SetDefault("runtime.binary", "container")
	v.SetDefault("readiness.timeout", "30s")
	v.SetDefault("readiness.poll_interval", "500ms")
	v.SetDefault("volumes.root", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a malformed one does not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("BOXCOMPOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Runtime.Backend {
	case BackendDocker, BackendContainer:
	default:
		return fmt.Errorf("unknown runtime backend %q (want %s or %s)", c.Runtime.Backend, BackendDocker, BackendContainer)
	}
	if c.Readiness.Timeout <= 0 {
		return fmt.Errorf("readiness.timeout must be positive, got %s", c.Readiness.Timeout)
	}
	if c.Readiness.PollInterval <= 0 {
		return fmt.Errorf("readiness.poll_interval must be positive, got %s", c.Readiness.PollInterval)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to w so that service output on stdout stays clean.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
