// Package config loads runtime configuration for the supplied core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds the local database and the offline queue snapshot.
	DataDir string `mapstructure:"data_dir"`

	// Remote is the hosted record store.
	Remote RemoteConfig `mapstructure:"remote"`

	// Sync tunes the engine and scheduler.
	Sync SyncConfig `mapstructure:"sync"`

	// Log configures structured logging.
	Log LogConfig `mapstructure:"log"`
}

// RemoteConfig addresses the hosted record store and its change feed.
// UserID and AccessToken carry the session; when either is empty the
// engine runs local-only.
type RemoteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	RealtimeURL string `mapstructure:"realtime_url"`
	APIKey      string `mapstructure:"api_key"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
}

// SyncConfig tunes sync cadence and queue pacing.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	QueueInterval time.Duration `mapstructure:"queue_interval"`
	DrainDelay    time.Duration `mapstructure:"drain_delay"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from the given file (optional), the
// SUPPLIED_* environment, and built-in defaults, in that priority
// order from highest to lowest: env, file, defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("data_dir", filepath.Join(home, ".supplied"))
	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.queue_interval", time.Minute)
	v.SetDefault("sync.drain_delay", 100*time.Millisecond)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("SUPPLIED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".supplied"))
		// A missing default config file is fine; defaults apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
