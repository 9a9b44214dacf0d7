// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/spf13/viper"
)

func Load(configFile string) (*types.Config, error) {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg types.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	// Validate configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *types.Config) error {
	// Validate database configuration
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1-65535, got: %d", cfg.Database.Port)
	}
	if cfg.Database.Dbname == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate SSL mode
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.Database.Sslmode != "" && !validSSLModes[cfg.Database.Sslmode] {
		return fmt.Errorf("invalid sslmode: %s (valid: disable, require, verify-ca, verify-full)", cfg.Database.Sslmode)
	}

	// Validate pool sizing
	if cfg.Database.PoolSize <= 0 {
		return fmt.Errorf("connection_pool_size must be positive, got: %d", cfg.Database.PoolSize)
	}
	if cfg.Database.PoolSize > 100 {
		return fmt.Errorf("connection_pool_size too high (max 100), got: %d", cfg.Database.PoolSize)
	}
	if cfg.Database.PoolOverflow < 0 {
		return fmt.Errorf("connection_pool_overflow must be non-negative, got: %d", cfg.Database.PoolOverflow)
	}
	if cfg.Database.QueryTimeout != "" {
		if _, err := time.ParseDuration(cfg.Database.QueryTimeout); err != nil {
			return fmt.Errorf("invalid query_timeout format: %s", cfg.Database.QueryTimeout)
		}
	}

	// Validate recommendation engine knobs
	if cfg.Recommendation.HistoryDays <= 0 || cfg.Recommendation.HistoryDays > 365 {
		return fmt.Errorf("history_days must be in 1-365, got: %d", cfg.Recommendation.HistoryDays)
	}
	if cfg.Recommendation.JourneyWindowDays <= 0 {
		return fmt.Errorf("journey_window_days must be positive, got: %d", cfg.Recommendation.JourneyWindowDays)
	}
	if cfg.Recommendation.TrialQuantityCeiling <= 0 {
		return fmt.Errorf("trial_quantity_ceiling must be positive, got: %d", cfg.Recommendation.TrialQuantityCeiling)
	}
	if cfg.Recommendation.RetentionDays < 0 {
		return fmt.Errorf("recommendation_retention_days must be non-negative, got: %d", cfg.Recommendation.RetentionDays)
	}

	// Validate scoring curve: 0 < low <= high < decay
	s := cfg.Scoring
	if s.PerfectZoneLow <= 0 || s.PerfectZoneLow > s.PerfectZoneHigh {
		return fmt.Errorf("perfect_zone_low (%.2f) must be positive and <= perfect_zone_high (%.2f)", s.PerfectZoneLow, s.PerfectZoneHigh)
	}
	if s.AccuracyDecayHigh <= s.PerfectZoneHigh {
		return fmt.Errorf("accuracy_decay_high (%.2f) must be > perfect_zone_high (%.2f)", s.AccuracyDecayHigh, s.PerfectZoneHigh)
	}

	// Validate scheduler wall-clock trigger
	if cfg.Scheduler.Hour < 0 || cfg.Scheduler.Hour > 23 {
		return fmt.Errorf("scheduler_hour must be in 0-23, got: %d", cfg.Scheduler.Hour)
	}
	if cfg.Scheduler.Minute < 0 || cfg.Scheduler.Minute > 59 {
		return fmt.Errorf("scheduler_minute must be in 0-59, got: %d", cfg.Scheduler.Minute)
	}
	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Routes) == 0 {
		return fmt.Errorf("scheduler_routes is required when the scheduler is enabled")
	}

	// Validate narrative cooldowns
	if cfg.Narrative.CustomerCooldownSeconds <= 0 {
		return fmt.Errorf("narrative_customer_cooldown_s must be positive, got: %d", cfg.Narrative.CustomerCooldownSeconds)
	}
	if cfg.Narrative.RouteCooldownSeconds <= 0 {
		return fmt.Errorf("narrative_route_cooldown_s must be positive, got: %d", cfg.Narrative.RouteCooldownSeconds)
	}
	if cfg.Narrative.CacheTTLHours <= 0 {
		return fmt.Errorf("narrative_ttl_hours must be positive, got: %d", cfg.Narrative.CacheTTLHours)
	}

	return nil
}
