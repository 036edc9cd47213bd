// Package config handles loading and validating dispatch configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/contabix/dispatch/internal/db"
	"github.com/contabix/dispatch/internal/logging"
)

// Config is the top-level dispatch configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  logging.Config `mapstructure:"logging"`
	Tenants  TenantsConfig  `mapstructure:"tenants"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// TenantsConfig points at the tenant directory file.
type TenantsConfig struct {
	Path string `mapstructure:"path"`
}

// DaemonConfig holds the background schedules run by `dispatch daemon`.
type DaemonConfig struct {
	// AssignmentSchedule is a cron expression for the auto-assignment batch.
	AssignmentSchedule string `mapstructure:"assignment_schedule"`
	// Generation lists recurring bulk-generation jobs.
	Generation []GenerationJob `mapstructure:"generation"`
}

// GenerationJob describes one recurring bulk-generation run.
type GenerationJob struct {
	Kind      string `mapstructure:"kind"`
	DueInDays int    `mapstructure:"due_in_days"`
	// PeriodFormat is a Go time layout rendered at run time to form the
	// dedup period key, e.g. "2006-01" for monthly jobs. Empty means no
	// dedup.
	PeriodFormat string `mapstructure:"period_format"`
	Schedule     string `mapstructure:"schedule"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Database: DatabaseConfig{Path: db.DefaultPath()},
		Logging:  logging.DefaultConfig(),
		Tenants:  TenantsConfig{Path: filepath.Join(home, ".config", "dispatch", "tenants.yaml")},
		Daemon: DaemonConfig{
			AssignmentSchedule: "*/15 * * * *",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dispatch", "dispatch.yaml")
}

// Load reads configuration from the given file path, applying defaults and
// DISPATCH_* environment overrides. A missing file is not an error; the
// defaults are returned.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.path", def.Logging.Path)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.retention_days", def.Logging.RetentionDays)
	v.SetDefault("tenants.path", def.Tenants.Path)
	v.SetDefault("daemon.assignment_schedule", def.Daemon.AssignmentSchedule)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	for i, job := range c.Daemon.Generation {
		if job.Kind == "" {
			return fmt.Errorf("daemon.generation[%d]: kind is required", i)
		}
		if job.Schedule == "" {
			return fmt.Errorf("daemon.generation[%d]: schedule is required", i)
		}
		if job.DueInDays < 0 {
			return fmt.Errorf("daemon.generation[%d]: due_in_days must be >= 0", i)
		}
	}
	return nil
}
