// Package config loads and validates hexaflow configuration via viper.
// Configuration is read from a YAML file, overridable by HEXAFLOW_*
// environment variables, with registered defaults as the base layer.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hexaflow/hexaflow/internal/pool"
)

// Config represents the complete hexaflow configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	Plan    PlanConfig    `mapstructure:"plan"`
}

// EngineConfig controls the execution engine
type EngineConfig struct {
	// MaxConcurrency is the worker pool slot count (1-16).
	// 0 means auto: the hardware parallelism, clamped to the same range.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// DefaultTimeoutMs bounds each attempt of tasks that declare no
	// timeout of their own (0 = no timeout)
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	// DefaultMaxRetries is the retry budget for tasks that declare none
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
}

// LoggingConfig controls structured run logging
type LoggingConfig struct {
	// Enabled controls whether run logs are written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for run logs. Empty means log to stderr.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// PlanConfig controls plan file loading
type PlanConfig struct {
	// File is the default plan file path used when the run command gets
	// no positional argument
	File string `mapstructure:"file"`
	// Only is a glob pattern restricting which plan tasks run
	// (empty = all tasks)
	Only string `mapstructure:"only"`
}

// DefaultTimeout returns the default attempt timeout as a time.Duration
// (0 means no timeout)
func (e *EngineConfig) DefaultTimeout() time.Duration {
	return time.Duration(e.DefaultTimeoutMs) * time.Millisecond
}

// ResolveMaxConcurrency returns the configured slot count, substituting
// the hardware default when unset.
func (e *EngineConfig) ResolveMaxConcurrency() int {
	if e.MaxConcurrency == 0 {
		return pool.DefaultMaxConcurrency()
	}
	return e.MaxConcurrency
}

// ResolveDir returns the resolved log directory path.
// If Dir starts with ~, it expands to the user's home directory.
func (l *LoggingConfig) ResolveDir() string {
	path := l.Dir
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrency:    0, // Auto: hardware parallelism clamped to 1..16
			DefaultTimeoutMs:  0, // No timeout
			DefaultMaxRetries: 0,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "", // Empty means stderr
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Plan: PlanConfig{
			File: "hexaflow.yaml",
			Only: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Engine defaults
	viper.SetDefault("engine.max_concurrency", defaults.Engine.MaxConcurrency)
	viper.SetDefault("engine.default_timeout_ms", defaults.Engine.DefaultTimeoutMs)
	viper.SetDefault("engine.default_max_retries", defaults.Engine.DefaultMaxRetries)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Plan defaults
	viper.SetDefault("plan.file", defaults.Plan.File)
	viper.SetDefault("plan.only", defaults.Plan.Only)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hexaflow")
	}
	// Fall back to ~/.config/hexaflow
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hexaflow"
	}
	return filepath.Join(home, ".config", "hexaflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
