package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
database:
  host: localhost
  port: 5432
  dbname: warehouse
  username: advisor
  password: secret
scheduler:
  enabled: true
  scheduler_hour: 3
  scheduler_routes: ["R1004", "R1007"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Expected valid config to load successfully, got error: %v", err)
	}

	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected port 5432, got %d", cfg.Database.Port)
	}

	// documented defaults fill the unset knobs
	if cfg.Database.PoolSize != 5 {
		t.Errorf("Expected default pool size 5, got %d", cfg.Database.PoolSize)
	}
	if cfg.Database.PoolOverflow != 10 {
		t.Errorf("Expected default pool overflow 10, got %d", cfg.Database.PoolOverflow)
	}
	if cfg.Recommendation.HistoryDays != 365 {
		t.Errorf("Expected default history window 365, got %d", cfg.Recommendation.HistoryDays)
	}
	if cfg.Recommendation.TrialQuantityCeiling != 3 {
		t.Errorf("Expected default trial ceiling 3, got %d", cfg.Recommendation.TrialQuantityCeiling)
	}
	if cfg.Scoring.PerfectZoneLow != 0.75 || cfg.Scoring.PerfectZoneHigh != 1.20 {
		t.Errorf("Expected default perfect zone 0.75/1.20, got %.2f/%.2f",
			cfg.Scoring.PerfectZoneLow, cfg.Scoring.PerfectZoneHigh)
	}
	if cfg.Narrative.CustomerCooldownSeconds != 5 || cfg.Narrative.RouteCooldownSeconds != 10 {
		t.Errorf("Expected default cooldowns 5/10, got %d/%d",
			cfg.Narrative.CustomerCooldownSeconds, cfg.Narrative.RouteCooldownSeconds)
	}
	if len(cfg.Scheduler.Routes) != 2 {
		t.Errorf("Expected 2 scheduler routes, got %d", len(cfg.Scheduler.Routes))
	}
}

func TestLoadMissingHost(t *testing.T) {
	yaml := strings.Replace(validYAML, "host: localhost", "host: \"\"", 1)
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatal("Expected error for missing host, but got none")
	}
	if !strings.Contains(err.Error(), "database host is required") {
		t.Errorf("Expected host error, got: %v", err)
	}
}

func TestLoadInvalidPoolSize(t *testing.T) {
	yaml := strings.Replace(validYAML, "password: secret", "password: secret\n  connection_pool_size: 500", 1)
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatal("Expected error for oversized pool, but got none")
	}
	if !strings.Contains(err.Error(), "connection_pool_size too high") {
		t.Errorf("Expected pool size error, got: %v", err)
	}
}

func TestLoadInvalidSSLMode(t *testing.T) {
	yaml := strings.Replace(validYAML, "password: secret", "password: secret\n  sslmode: sometimes", 1)
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatal("Expected error for invalid sslmode, but got none")
	}
	if !strings.Contains(err.Error(), "invalid sslmode") {
		t.Errorf("Expected sslmode error, got: %v", err)
	}
}

func TestLoadSchedulerWithoutRoutes(t *testing.T) {
	yaml := strings.Replace(validYAML, `scheduler_routes: ["R1004", "R1007"]`, "scheduler_routes: []", 1)
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatal("Expected error for enabled scheduler without routes, but got none")
	}
	if !strings.Contains(err.Error(), "scheduler_routes is required") {
		t.Errorf("Expected scheduler routes error, got: %v", err)
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	if _, err := Load("non_existent_file.yaml"); err == nil {
		t.Fatal("Expected error for non-existent config file, but got none")
	}
}
