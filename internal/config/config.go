// Package config loads folio settings from a config file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/meigma/folio"
)

type Config struct {
	LibraryDir   string `mapstructure:"library_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	Concurrency  int    `mapstructure:"concurrency"`
	MaxEntrySize uint64 `mapstructure:"max_entry_size"`
}

// Load reads configuration from cfgFile, or from folio.yaml in the home
// directory or working directory when cfgFile is empty. A missing default
// config file is not an error.
//
// Environment variables prefixed with FOLIO_ override file values, and
// MANGA_DIR is accepted for library_dir.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("library_dir", "")
	v.SetDefault("cache_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("concurrency", 0)
	v.SetDefault("max_entry_size", uint64(folio.DefaultMaxEntrySize))

	v.SetEnvPrefix("folio")
	v.AutomaticEnv()
	if err := v.BindEnv("library_dir", "FOLIO_LIBRARY_DIR", "MANGA_DIR"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName("folio")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative: %d", c.Concurrency)
	}
	return nil
}

// ParseLevel maps a log level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
