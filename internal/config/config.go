// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/talemon/pagewatch/internal/browser"
	"github.com/talemon/pagewatch/internal/policy/domainlimit"
	"github.com/talemon/pagewatch/internal/publisher/pubsub"
	"github.com/talemon/pagewatch/internal/storage"
	"github.com/talemon/pagewatch/internal/storage/gcs"
	"github.com/talemon/pagewatch/internal/storage/local"
	"github.com/talemon/pagewatch/internal/storage/postgres"
)

// Config captures all service knobs loaded via Viper.
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Browser   browser.Config     `mapstructure:"browser"`
	Domain    domainlimit.Config `mapstructure:"domain"`
	Storage   StorageConfig      `mapstructure:"storage"`
	DB        postgres.Config    `mapstructure:"db"`
	PubSub    pubsub.Config      `mapstructure:"pubsub"`
	Logging   LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the claim loop and capture workers.
type SchedulerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ClaimBatchSize    int           `mapstructure:"claim_batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ZombieTimeout     time.Duration `mapstructure:"zombie_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// StorageConfig selects and configures the artifact store backend.
type StorageConfig struct {
	// Backend is one of "gcs", "local", "memory".
	Backend string `mapstructure:"backend"`
	// PathLayout is the strftime-style timestamp pattern used in
	// artifact path prefixes. Part of the persisted-data contract;
	// change it only for fresh deployments.
	PathLayout string       `mapstructure:"path_layout"`
	GCS        gcs.Config   `mapstructure:"gcs"`
	Local      local.Config `mapstructure:"local"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and the PAGEWATCH_* environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.poll_interval", "10s")
	v.SetDefault("scheduler.claim_batch_size", 100)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.heartbeat_interval", "30s")
	v.SetDefault("scheduler.zombie_timeout", "300s")
	v.SetDefault("scheduler.sweep_interval", "60s")
	v.SetDefault("scheduler.navigation_timeout", "60s")
	v.SetDefault("browser.user_agent", "pagewatch-bot/0.1")
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("domain.max_concurrent", 2)
	v.SetDefault("domain.rps", 1.0)
	v.SetDefault("domain.burst", 1)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.path_layout", storage.DefaultTimestampLayout)
	v.SetDefault("storage.local.base_dir", "./data/artifacts")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if c.Scheduler.ClaimBatchSize <= 0 {
		return fmt.Errorf("scheduler.claim_batch_size must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.HeartbeatInterval <= 0 || c.Scheduler.HeartbeatInterval >= c.Scheduler.ZombieTimeout {
		return fmt.Errorf("scheduler.heartbeat_interval must be > 0 and below scheduler.zombie_timeout")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler.sweep_interval must be > 0")
	}
	if c.Storage.PathLayout == "" {
		return fmt.Errorf("storage.path_layout must be set")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of gcs, local, memory")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
