package eventcache

import "time"

// Priority biases eviction order during memory pressure (§3.3, §5).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// CompressionConfig holds the tiered-retention knobs for C2 (§4.1.1).
type CompressionConfig struct {
	Enabled                  bool          `mapstructure:"enabled"`
	RecentWindowMs           int64         `mapstructure:"recent_window_ms"`
	MediumWindowMs           int64         `mapstructure:"medium_window_ms"`
	AncientWindowMs          int64         `mapstructure:"ancient_window_ms"`
	SignificantChangePercent float64       `mapstructure:"significant_change_percent"`
	MinTimeBetweenEventsMs   int64         `mapstructure:"min_time_between_events_ms"`
	CheckInterval            time.Duration `mapstructure:"check_interval"`
	// ThresholdCrossedDB is the configurable set of dB crossings C5
	// classifies as threshold_crossed (§4.5, §9). 0 and -60 are always
	// detected even if omitted here.
	ThresholdCrossedDB []float64 `mapstructure:"threshold_crossed_db"`
	// ThresholdControlPatterns matches control names considered audio
	// level/meter controls eligible for threshold_crossed classification
	// (substring match, e.g. ".level", ".meter").
	ThresholdControlPatterns []string `mapstructure:"threshold_control_patterns"`
}

// SpilloverConfig holds the disk-spillover knobs for C3 (§4.1.1).
type SpilloverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Directory     string        `mapstructure:"directory"`
	ThresholdMB   int64         `mapstructure:"threshold_mb"`
	MaxFileSizeMB int64         `mapstructure:"max_file_size_mb"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// QueryCacheConfig holds the LRU query-cache knobs for C4 (§4.1.1).
type QueryCacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
	// L2 is an optional Redis-backed second tier (§3 DOMAIN STACK); left
	// nil disables it.
	L2 *L2CacheConfig `mapstructure:"l2"`
}

// L2CacheConfig configures the optional Redis-backed query-cache tier.
type L2CacheConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	TTL         time.Duration `mapstructure:"ttl"`
	Compression bool          `mapstructure:"compression"`
}

// Config is the Event Cache Manager's full configuration (§4.1.1).
type Config struct {
	MaxEvents           int                `mapstructure:"max_events"`
	MaxAgeMs            int64              `mapstructure:"max_age_ms"`
	GlobalMemoryLimitMB int64              `mapstructure:"global_memory_limit_mb"`
	MemoryCheckInterval time.Duration      `mapstructure:"memory_check_interval"`
	Compression         CompressionConfig  `mapstructure:"compression"`
	Spillover           SpilloverConfig    `mapstructure:"spillover"`
	QueryCache          QueryCacheConfig   `mapstructure:"query_cache"`
	// SkipValidation bypasses C7 when Environment is "test" (§4.1.1,
	// §4.9). In production it is always ignored.
	SkipValidation bool   `mapstructure:"skip_validation"`
	Environment    string `mapstructure:"environment"`
}

// DefaultConfig returns the documented defaults from §4.1.1.
func DefaultConfig() *Config {
	return &Config{
		MaxEvents:           100_000,
		MaxAgeMs:            3_600_000,
		GlobalMemoryLimitMB: 500,
		MemoryCheckInterval: 5 * time.Second,
		Compression: CompressionConfig{
			Enabled:                  false,
			RecentWindowMs:           60_000,
			MediumWindowMs:           600_000,
			AncientWindowMs:          3_600_000,
			SignificantChangePercent: 5,
			MinTimeBetweenEventsMs:   100,
			CheckInterval:            60 * time.Second,
			ThresholdCrossedDB:       []float64{-60, -40, -20, -12, -6, -3, 0},
			ThresholdControlPatterns: []string{".level", ".meter", ".gain"},
		},
		Spillover: SpilloverConfig{
			Enabled:       false,
			ThresholdMB:   0, // computed as 80% of GlobalMemoryLimitMB if zero
			MaxFileSizeMB: 100,
			CheckInterval: 5 * time.Second,
		},
		QueryCache: QueryCacheConfig{
			Size: 100,
			TTL:  60 * time.Second,
		},
	}
}

// GroupOverrides are the per-group configuration overrides accepted by
// configure_group (§4.1).
type GroupOverrides struct {
	MaxEvents *int
	MaxAgeMs  *int64
	Priority  *Priority
}

// Sanitize fills in any zero-valued fields with the documented defaults
// (§4.9 sanitize_config).
func (c *Config) Sanitize() {
	d := DefaultConfig()
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.MaxAgeMs <= 0 {
		c.MaxAgeMs = d.MaxAgeMs
	}
	if c.GlobalMemoryLimitMB <= 0 {
		c.GlobalMemoryLimitMB = d.GlobalMemoryLimitMB
	}
	if c.MemoryCheckInterval <= 0 {
		c.MemoryCheckInterval = d.MemoryCheckInterval
	}
	if c.Compression.RecentWindowMs <= 0 {
		c.Compression.RecentWindowMs = d.Compression.RecentWindowMs
	}
	if c.Compression.MediumWindowMs <= 0 {
		c.Compression.MediumWindowMs = d.Compression.MediumWindowMs
	}
	if c.Compression.AncientWindowMs <= 0 {
		c.Compression.AncientWindowMs = d.Compression.AncientWindowMs
	}
	if c.Compression.SignificantChangePercent <= 0 {
		c.Compression.SignificantChangePercent = d.Compression.SignificantChangePercent
	}
	if c.Compression.MinTimeBetweenEventsMs <= 0 {
		c.Compression.MinTimeBetweenEventsMs = d.Compression.MinTimeBetweenEventsMs
	}
	if c.Compression.CheckInterval <= 0 {
		c.Compression.CheckInterval = d.Compression.CheckInterval
	}
	if len(c.Compression.ThresholdCrossedDB) == 0 {
		c.Compression.ThresholdCrossedDB = d.Compression.ThresholdCrossedDB
	}
	if len(c.Compression.ThresholdControlPatterns) == 0 {
		c.Compression.ThresholdControlPatterns = d.Compression.ThresholdControlPatterns
	}
	if c.Spillover.MaxFileSizeMB <= 0 {
		c.Spillover.MaxFileSizeMB = d.Spillover.MaxFileSizeMB
	}
	if c.Spillover.CheckInterval <= 0 {
		c.Spillover.CheckInterval = d.Spillover.CheckInterval
	}
	if c.Spillover.ThresholdMB <= 0 {
		c.Spillover.ThresholdMB = (c.GlobalMemoryLimitMB * 80) / 100
	}
	if c.QueryCache.Size <= 0 {
		c.QueryCache.Size = d.QueryCache.Size
	}
	if c.QueryCache.TTL <= 0 {
		c.QueryCache.TTL = d.QueryCache.TTL
	}
}

// Validate applies the C7 error/warning rules (§4.9). Warnings are
// returned alongside a nil error; the first violated error rule short-
// circuits with a non-nil *CacheError. Validation is skipped only when
// Environment == "test" and SkipValidation is set, unless forceValidate
// is true (§4.1.1, §4.9).
func (c *Config) Validate(forceValidate bool) (warnings []string, err error) {
	if c.Environment == "test" && c.SkipValidation && !forceValidate {
		return nil, nil
	}

	if c.GlobalMemoryLimitMB < 10 {
		return nil, ConfigInvalid("global_memory_limit_mb must be >= 10")
	}
	if c.MemoryCheckInterval < time.Second {
		return nil, ConfigInvalid("memory_check_interval_ms must be >= 1000")
	}
	if c.Compression.Enabled {
		if c.Compression.RecentWindowMs <= 0 || c.Compression.MediumWindowMs <= 0 || c.Compression.AncientWindowMs <= 0 {
			return nil, ConfigInvalid("compression windows must be positive")
		}
		if !(c.Compression.RecentWindowMs < c.Compression.MediumWindowMs && c.Compression.MediumWindowMs < c.Compression.AncientWindowMs) {
			return nil, ConfigInvalid("compression windows must satisfy recent < medium < ancient")
		}
		if c.Compression.SignificantChangePercent < 0 || c.Compression.SignificantChangePercent > 100 {
			return nil, ConfigInvalid("significant_change_percent must be in [0, 100]")
		}
	}
	if c.Spillover.Enabled {
		if c.Spillover.Directory == "" {
			return nil, ConfigInvalid("spillover.directory is required when spillover is enabled")
		}
		if c.Spillover.ThresholdMB < 10 {
			return nil, ConfigInvalid("spillover.threshold_mb must be >= 10")
		}
		if c.Spillover.MaxFileSizeMB < 1 {
			return nil, ConfigInvalid("spillover.max_file_size_mb must be >= 1")
		}
	}

	if c.GlobalMemoryLimitMB < 50 {
		warnings = append(warnings, "global_memory_limit_mb is very low; expect frequent memory pressure")
	}
	if c.GlobalMemoryLimitMB > 16_000 {
		warnings = append(warnings, "global_memory_limit_mb is very high; confirm the host has this much RAM")
	}
	if c.MaxAgeMs < 60_000 || c.MaxAgeMs > 86_400_000 {
		warnings = append(warnings, "max_age_ms is outside the recommended [1 minute, 24 hours] range")
	}
	if c.Compression.Enabled && c.Compression.RecentWindowMs > c.MaxAgeMs/2 {
		warnings = append(warnings, "compression.recent_window_ms is more than half of max_age_ms")
	}
	estimatedBytes := int64(c.MaxEvents) * 300
	limitBytes := c.GlobalMemoryLimitMB * 1024 * 1024
	if estimatedBytes > limitBytes*8/10 {
		warnings = append(warnings, "estimated memory use (max_events * 300B) is approaching global_memory_limit_mb")
	}

	return warnings, nil
}
