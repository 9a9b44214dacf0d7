// Package types provides the configuration contract for the stockadvisor
// van-sales recommendation service. The configuration is loaded from YAML
// files and validated before any component starts.
//
// The types package is the central contract between the data access layer,
// the recommendation engine, the supervision subsystem and the HTTP surface.
package types

import "time"

// Config represents the complete configuration for a stockadvisor instance.
// It encompasses warehouse connection parameters, recommendation engine
// knobs, scheduler settings and narrative collaborator limits.
//
// The configuration is typically loaded from a YAML file via viper and
// validated before being used to initialize the service.
type Config struct {
	// Database contains PostgreSQL warehouse connection parameters
	Database struct {
		Host     string `mapstructure:"host"`     // Warehouse server hostname or IP
		Port     int    `mapstructure:"port"`     // Warehouse server port (default: 5432)
		Dbname   string `mapstructure:"dbname"`   // Target database name
		Username string `mapstructure:"username"` // Authentication username
		Password string `mapstructure:"password"` // Authentication password
		Sslmode  string `mapstructure:"sslmode"`  // SSL connection mode (disable/require/verify-ca/verify-full)

		// Pool sizing: PoolSize base reusable connections plus PoolOverflow
		// additional connections under spike load.
		PoolSize     int `mapstructure:"connection_pool_size"`
		PoolOverflow int `mapstructure:"connection_pool_overflow"`

		// QueryTimeout bounds named template queries and connection checkout.
		QueryTimeout string `mapstructure:"query_timeout"`
	} `mapstructure:"database"`

	// Recommendation holds the engine and persistence knobs.
	Recommendation struct {
		HistoryDays          int    `mapstructure:"history_days"`                  // Window for history-based features
		JourneyWindowDays    int    `mapstructure:"journey_window_days"`           // +/- days loaded around today for journey plan
		TrialQuantityCeiling int    `mapstructure:"trial_quantity_ceiling"`        // Cap on NEW_CUSTOMER proposed qty
		RetentionDays        int    `mapstructure:"recommendation_retention_days"` // Cleanup of old recommendation rows
		GenerationTimeout    string `mapstructure:"generation_timeout"`            // End-to-end generation bound
	} `mapstructure:"recommendation"`

	// Scoring holds the accuracy curve bounds for supervision scoring.
	Scoring struct {
		PerfectZoneLow    float64 `mapstructure:"perfect_zone_low"`    // Lower accuracy ratio bound of the perfect zone
		PerfectZoneHigh   float64 `mapstructure:"perfect_zone_high"`   // Upper accuracy ratio bound of the perfect zone
		AccuracyDecayHigh float64 `mapstructure:"accuracy_decay_high"` // Ratio at which accuracy reaches 0 above the perfect zone
	} `mapstructure:"scoring"`

	// Scheduler configures the nightly pre-generation trigger.
	Scheduler struct {
		Enabled bool     `mapstructure:"enabled"`
		Hour    int      `mapstructure:"scheduler_hour"`   // Local wall-clock hour
		Minute  int      `mapstructure:"scheduler_minute"` // Local wall-clock minute
		Routes  []string `mapstructure:"scheduler_routes"` // Routes pre-generated nightly
	} `mapstructure:"scheduler"`

	// Narrative configures the text analyzer collaborator.
	Narrative struct {
		CustomerCooldownSeconds int    `mapstructure:"narrative_customer_cooldown_s"` // Per-(session,customer) cooldown
		RouteCooldownSeconds    int    `mapstructure:"narrative_route_cooldown_s"`    // Per-session cooldown
		CacheTTLHours           int    `mapstructure:"narrative_ttl_hours"`           // Response cache lifetime
		UpstreamTimeout         string `mapstructure:"upstream_timeout"`              // External analyzer timeout
	} `mapstructure:"narrative"`

	// Server configures the HTTP surface.
	Server struct {
		ListenAddr     string `mapstructure:"listen_addr"`
		EnableMetrics  bool   `mapstructure:"enable_metrics"`
		RequestTimeout string `mapstructure:"request_timeout"`
	} `mapstructure:"server"`

	// DataManager configures the in-memory snapshot layer.
	DataManager struct {
		// CSVFallbackDir holds the most recent on-disk snapshots used when
		// the warehouse is unreachable at startup. Empty disables the fallback.
		CSVFallbackDir string `mapstructure:"csv_fallback_dir"`
	} `mapstructure:"data_manager"`

	// Logging configures the structured logger.
	Logging struct {
		Level       string `mapstructure:"level"`
		Format      string `mapstructure:"format"`
		Output      string `mapstructure:"output"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// QueryTimeoutDuration returns the parsed warehouse query timeout,
// defaulting to 30 seconds.
func (c *Config) QueryTimeoutDuration() time.Duration {
	return parseDurationOr(c.Database.QueryTimeout, 30*time.Second)
}

// GenerationTimeoutDuration returns the parsed end-to-end generation bound,
// defaulting to 120 seconds.
func (c *Config) GenerationTimeoutDuration() time.Duration {
	return parseDurationOr(c.Recommendation.GenerationTimeout, 120*time.Second)
}

// UpstreamTimeoutDuration returns the parsed narrative upstream timeout,
// defaulting to 60 seconds.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return parseDurationOr(c.Narrative.UpstreamTimeout, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ApplyDefaults fills unset options with the documented defaults. It runs
// before validation; the warehouse host, database name and username have no
// defaults, so a file without them fails validation.
func (c *Config) ApplyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Sslmode == "" {
		c.Database.Sslmode = "disable"
	}
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = 5
	}
	if c.Database.PoolOverflow == 0 {
		c.Database.PoolOverflow = 10
	}
	if c.Recommendation.HistoryDays == 0 {
		c.Recommendation.HistoryDays = 365
	}
	if c.Recommendation.JourneyWindowDays == 0 {
		c.Recommendation.JourneyWindowDays = 30
	}
	if c.Recommendation.TrialQuantityCeiling == 0 {
		c.Recommendation.TrialQuantityCeiling = 3
	}
	if c.Recommendation.RetentionDays == 0 {
		c.Recommendation.RetentionDays = 90
	}
	if c.Scoring.PerfectZoneLow == 0 {
		c.Scoring.PerfectZoneLow = 0.75
	}
	if c.Scoring.PerfectZoneHigh == 0 {
		c.Scoring.PerfectZoneHigh = 1.20
	}
	if c.Scoring.AccuracyDecayHigh == 0 {
		c.Scoring.AccuracyDecayHigh = 2.0
	}
	if c.Scheduler.Hour == 0 && c.Scheduler.Minute == 0 {
		c.Scheduler.Hour = 3
	}
	if c.Narrative.CustomerCooldownSeconds == 0 {
		c.Narrative.CustomerCooldownSeconds = 5
	}
	if c.Narrative.RouteCooldownSeconds == 0 {
		c.Narrative.RouteCooldownSeconds = 10
	}
	if c.Narrative.CacheTTLHours == 0 {
		c.Narrative.CacheTTLHours = 24
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
