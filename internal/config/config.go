// Package config loads and validates the eventcached application
// configuration: the ambient App/Log/Metrics sections plus the embedded
// eventcache.Config, via viper with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/qsyscore/eventcached/internal/eventcache"
)

// AppConfig holds process-level identity and environment information.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LogConfig configures the slog-based logger, including optional
// lumberjack file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// Config is the top-level eventcached configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Log        LogConfig         `mapstructure:"log"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	EventCache eventcache.Config `mapstructure:"event_cache"`

	// GroupsFile optionally points at a groups.yaml bootstrap file
	// listing per-group priority/capacity overrides applied at startup.
	GroupsFile string `mapstructure:"groups_file"`
}

// IsDevelopment reports whether App.Environment is "development".
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction reports whether App.Environment is "production".
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsTest reports whether App.Environment is "test", the only environment
// in which C7 validation may be bypassed (§4.9).
func (c *Config) IsTest() bool { return c.App.Environment == "test" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "eventcached")
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	d := eventcache.DefaultConfig()
	v.SetDefault("event_cache.max_events", d.MaxEvents)
	v.SetDefault("event_cache.max_age_ms", d.MaxAgeMs)
	v.SetDefault("event_cache.global_memory_limit_mb", d.GlobalMemoryLimitMB)
	v.SetDefault("event_cache.memory_check_interval", d.MemoryCheckInterval.String())
	v.SetDefault("event_cache.compression.enabled", d.Compression.Enabled)
	v.SetDefault("event_cache.compression.recent_window_ms", d.Compression.RecentWindowMs)
	v.SetDefault("event_cache.compression.medium_window_ms", d.Compression.MediumWindowMs)
	v.SetDefault("event_cache.compression.ancient_window_ms", d.Compression.AncientWindowMs)
	v.SetDefault("event_cache.compression.significant_change_percent", d.Compression.SignificantChangePercent)
	v.SetDefault("event_cache.compression.min_time_between_events_ms", d.Compression.MinTimeBetweenEventsMs)
	v.SetDefault("event_cache.compression.check_interval", d.Compression.CheckInterval.String())
	v.SetDefault("event_cache.compression.threshold_crossed_db", d.Compression.ThresholdCrossedDB)
	v.SetDefault("event_cache.compression.threshold_control_patterns", d.Compression.ThresholdControlPatterns)
	v.SetDefault("event_cache.spillover.enabled", d.Spillover.Enabled)
	v.SetDefault("event_cache.spillover.max_file_size_mb", d.Spillover.MaxFileSizeMB)
	v.SetDefault("event_cache.spillover.check_interval", d.Spillover.CheckInterval.String())
	v.SetDefault("event_cache.query_cache.size", d.QueryCache.Size)
	v.SetDefault("event_cache.query_cache.ttl", d.QueryCache.TTL.String())
}

// Load reads configuration from configPath (if non-empty and present),
// layers environment-variable overrides (EVENTCACHED_ prefix, "." -> "_"),
// unmarshals into Config, sanitizes, and runs C7 validation.
//
// forceValidate mirrors eventcache.Config.Validate's escape hatch: even a
// "test" environment config with skip_validation set is fully validated
// when forceValidate is true (used by `eventcached validate-config`).
func Load(configPath string, forceValidate bool) (*Config, []string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("eventcached")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, os.ErrNotExist) {
				return nil, nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.EventCache.Environment = cfg.App.Environment
	cfg.EventCache.Sanitize()

	warnings, err := cfg.EventCache.Validate(forceValidate)
	if err != nil {
		return nil, warnings, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, warnings, nil
}
