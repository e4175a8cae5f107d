package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Fleet defaults
	if cfg.Fleet.Backend != BackendSim {
		t.Errorf("Expected sim backend, got %s", cfg.Fleet.Backend)
	}
	if len(cfg.Fleet.Targets) != 2 {
		t.Errorf("Expected 2 default targets, got %d", len(cfg.Fleet.Targets))
	}
	if cfg.Fleet.ConnectTimeout() != 60*time.Second {
		t.Errorf("Expected connect timeout 60s, got %v", cfg.Fleet.ConnectTimeout())
	}
	if cfg.Fleet.ArmTimeout() != 10*time.Second {
		t.Errorf("Expected arm timeout 10s, got %v", cfg.Fleet.ArmTimeout())
	}
	if cfg.Fleet.ArmPollInterval() != time.Second {
		t.Errorf("Expected arm poll 1s, got %v", cfg.Fleet.ArmPollInterval())
	}

	// Link defaults
	if cfg.Link.SystemID != 255 {
		t.Errorf("Expected system id 255, got %d", cfg.Link.SystemID)
	}

	// Database defaults
	if cfg.Database.Enabled {
		t.Error("Expected database disabled by default")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.Database.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
	if cfg.Fleet.ArmTimeoutSeconds != 10 {
		t.Error("Did not get default config for non-existent file")
	}
}

// TestLoadPartialConfig tests that fields missing from the file keep defaults.
func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	data := `{"fleet": {"backend": "mavlink", "targets": ["udp:127.0.0.1:14550"]}}`
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Fleet.Backend != BackendMAVLink {
		t.Errorf("Expected mavlink backend, got %s", cfg.Fleet.Backend)
	}
	if !reflect.DeepEqual(cfg.Fleet.Targets, []string{"udp:127.0.0.1:14550"}) {
		t.Errorf("Unexpected targets %v", cfg.Fleet.Targets)
	}
	if cfg.Fleet.ConnectTimeoutSeconds != 60 {
		t.Errorf("Expected default connect timeout kept, got %d", cfg.Fleet.ConnectTimeoutSeconds)
	}
	if cfg.Link.StreamRateHz != 2 {
		t.Errorf("Expected default stream rate kept, got %v", cfg.Link.StreamRateHz)
	}
}

// TestLoadInvalidJSON tests that Load returns error for invalid JSON.
func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("Failed to write invalid JSON: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid JSON, got nil")
	}
}

// TestSaveConfigCreatesDirectory tests that Save creates parent directories
// and the file round-trips.
func TestSaveConfigCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	cfg.Fleet.Targets = []string{"sim://vehicle_1", "sim://fail", "sim://vehicle_3"}
	cfg.Simulation.JitterSeed = 42

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

// TestEnvironmentOverrides tests that environment variables override config values.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("UAV_FLEET_BACKEND", "MAVLink")
	t.Setenv("UAV_FLEET_TARGETS", "udp:0.0.0.0:14550, ,tcp:127.0.0.1:5760")
	t.Setenv("UAV_FLEET_DB_PASSWORD", "env-password")
	t.Setenv("UAV_FLEET_LOG_LEVEL", "debug")

	cfg, err := Load("/nonexistent/config.json")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Fleet.Backend != BackendMAVLink {
		t.Errorf("Expected backend override mavlink, got %s", cfg.Fleet.Backend)
	}
	want := []string{"udp:0.0.0.0:14550", "tcp:127.0.0.1:5760"}
	if !reflect.DeepEqual(cfg.Fleet.Targets, want) {
		t.Errorf("Expected targets %v, got %v", want, cfg.Fleet.Targets)
	}
	if cfg.Database.Password != "env-password" {
		t.Errorf("Expected password override, got %s", cfg.Database.Password)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level override, got %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Unknown backend", func(c *Config) { c.Fleet.Backend = "carrier-pigeon" }, true},
		{"Blank target", func(c *Config) { c.Fleet.Targets = []string{"sim://vehicle_1", " "} }, true},
		{"No targets", func(c *Config) { c.Fleet.Targets = nil }, false},
		{"Zero connect timeout", func(c *Config) { c.Fleet.ConnectTimeoutSeconds = 0 }, true},
		{"Zero arm timeout", func(c *Config) { c.Fleet.ArmTimeoutSeconds = 0 }, true},
		{"Negative retries", func(c *Config) { c.Fleet.ConnectRetries = -1 }, true},
		{"Negative rate", func(c *Config) { c.Fleet.CommandRatePerSecond = -1 }, true},
		{"System id out of range", func(c *Config) { c.Link.SystemID = 256 }, true},
		{"Bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	f := DefaultConfig().Fleet
	f.ConnectRetries = 4
	f.RetryDelayMillis = 250

	r := f.Retry()
	if r.MaxRetries != 4 || r.InitialDelay != 250*time.Millisecond {
		t.Errorf("Unexpected retry config %+v", r)
	}
}

func TestStatusIntervalFloor(t *testing.T) {
	f := FleetConfig{StatusIntervalMillis: 5}
	if got := f.StatusInterval(); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms floor, got %v", got)
	}
}
