package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/log"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// DefaultPath is where the tools look for a configuration file.
const DefaultPath = "configs/config.json"

// Backend names accepted by FleetConfig.Backend.
const (
	BackendSim     = "sim"
	BackendMAVLink = "mavlink"
)

// Config represents the complete application configuration.
type Config struct {
	Fleet      FleetConfig      `json:"fleet"`
	Link       LinkConfig       `json:"link"`
	Simulation SimulationConfig `json:"simulation"`
	Logging    LoggingConfig    `json:"logging"`
	Database   DatabaseConfig   `json:"database"`
}

// FleetConfig contains the vehicle list and command timing.
type FleetConfig struct {
	// Backend selects the vehicle link implementation: "sim" or "mavlink"
	Backend string `json:"backend"`

	// Targets are connection strings, one per vehicle, in index order
	// sim: "sim://vehicle_1"; mavlink: "udp:127.0.0.1:14550", "serial:/dev/ttyUSB0:57600"
	Targets []string `json:"targets"`

	// ConnectTimeoutSeconds bounds each vehicle's connect, retries included (default: 60)
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`

	// ConnectRetries is the number of extra connect attempts per vehicle (default: 2)
	ConnectRetries int `json:"connect_retries"`

	// RetryDelayMillis is the initial backoff between connect attempts (default: 1000)
	RetryDelayMillis int `json:"retry_delay_millis"`

	// ArmTimeoutSeconds bounds the wait for arming confirmation (default: 10)
	ArmTimeoutSeconds int `json:"arm_timeout_seconds"`

	// ArmPollMillis is how often telemetry is checked while arming (default: 1000)
	ArmPollMillis int `json:"arm_poll_millis"`

	// Parallelism limits concurrent connects and batch commands
	// 0 = number of CPUs
	Parallelism int `json:"parallelism"`

	// CommandRatePerSecond limits commands sent to each vehicle (default: 10)
	// 0 = unlimited
	CommandRatePerSecond float64 `json:"command_rate_per_second"`

	// CommandBurst is the number of commands allowed back to back (default: 5)
	CommandBurst int `json:"command_burst"`

	// StatusIntervalMillis is the status refresh cadence of the front-ends (default: 1000)
	StatusIntervalMillis int `json:"status_interval_millis"`

	// TakeoffAltitude is the default takeoff altitude in meters (default: 10)
	TakeoffAltitude float64 `json:"takeoff_altitude"`
}

// LinkConfig contains MAVLink link settings.
type LinkConfig struct {
	// SystemID is our MAVLink system id (default: 255, ground station)
	SystemID int `json:"system_id"`

	// StreamRateHz is the telemetry rate requested from each vehicle (default: 2)
	StreamRateHz float64 `json:"stream_rate_hz"`
}

// SimulationConfig contains simulated backend settings.
type SimulationConfig struct {
	// Jitter adds small random variation to displayed status (default: true)
	Jitter bool `json:"jitter"`

	// JitterSeed seeds the jitter generator; 0 picks a seed from the clock
	JitterSeed int64 `json:"jitter_seed"`

	// ConnectDelayMillis simulates link setup time (default: 0)
	ConnectDelayMillis int `json:"connect_delay_millis"`

	// HomeLatitude and HomeLongitude place vehicle 0; the rest are offset from it
	HomeLatitude  float64 `json:"home_latitude"`
	HomeLongitude float64 `json:"home_longitude"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `json:"level"`

	// Dir is the log directory (default: "logs")
	Dir string `json:"dir"`

	// File is the log file name (default: "uav-fleet.slog")
	File string `json:"file"`

	// MaxSizeMB rotates the log file at this size (default: 32)
	MaxSizeMB int `json:"max_size_mb"`

	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `json:"max_backups"`

	// Stderr mirrors log records to standard error
	Stderr bool `json:"stderr"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on the command journal and status snapshots
	Enabled bool `json:"enabled"`

	// Driver is the database driver (postgres)
	Driver string `json:"driver"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The default fleet is two simulated vehicles.
func DefaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			Backend:               BackendSim,
			Targets:               []string{"sim://vehicle_1", "sim://vehicle_2"},
			ConnectTimeoutSeconds: 60,
			ConnectRetries:        2,
			RetryDelayMillis:      1000,
			ArmTimeoutSeconds:     10,
			ArmPollMillis:         1000,
			Parallelism:           0,
			CommandRatePerSecond:  10,
			CommandBurst:          5,
			StatusIntervalMillis:  1000,
			TakeoffAltitude:       10,
		},
		Link: LinkConfig{
			SystemID:     255,
			StreamRateHz: 2,
		},
		Simulation: SimulationConfig{
			Jitter:        true,
			HomeLatitude:  37.7749,
			HomeLongitude: -122.4194,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "logs",
			File:       "uav-fleet.slog",
			MaxSizeMB:  32,
			MaxBackups: 3,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Database:     "uavfleet",
			Username:     "uavfleet",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Fleet.Backend {
	case BackendSim, BackendMAVLink:
	default:
		return fmt.Errorf("fleet.backend %q: must be %q or %q", c.Fleet.Backend, BackendSim, BackendMAVLink)
	}
	for i, t := range c.Fleet.Targets {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("fleet.targets[%d] is empty", i)
		}
	}
	if c.Fleet.ConnectTimeoutSeconds <= 0 {
		return errors.New("fleet.connect_timeout_seconds must be positive")
	}
	if c.Fleet.ArmTimeoutSeconds <= 0 {
		return errors.New("fleet.arm_timeout_seconds must be positive")
	}
	if c.Fleet.ConnectRetries < 0 {
		return errors.New("fleet.connect_retries must not be negative")
	}
	if c.Fleet.CommandRatePerSecond < 0 {
		return errors.New("fleet.command_rate_per_second must not be negative")
	}
	if c.Link.SystemID < 1 || c.Link.SystemID > 255 {
		return fmt.Errorf("link.system_id %d: must be 1-255", c.Link.SystemID)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// ConnectTimeout returns the per-vehicle connect bound.
func (f *FleetConfig) ConnectTimeout() time.Duration {
	return time.Duration(f.ConnectTimeoutSeconds) * time.Second
}

// ArmTimeout returns the arming confirmation bound.
func (f *FleetConfig) ArmTimeout() time.Duration {
	return time.Duration(f.ArmTimeoutSeconds) * time.Second
}

// ArmPollInterval returns the arming poll cadence.
func (f *FleetConfig) ArmPollInterval() time.Duration {
	return time.Duration(f.ArmPollMillis) * time.Millisecond
}

// StatusInterval returns the status refresh cadence, at least 100ms.
func (f *FleetConfig) StatusInterval() time.Duration {
	d := time.Duration(f.StatusIntervalMillis) * time.Millisecond
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Retry returns the connect backoff settings.
func (f *FleetConfig) Retry() vehicle.RetryConfig {
	cfg := vehicle.DefaultRetryConfig()
	cfg.MaxRetries = f.ConnectRetries
	if f.RetryDelayMillis > 0 {
		cfg.InitialDelay = time.Duration(f.RetryDelayMillis) * time.Millisecond
	}
	return cfg
}

// ConnectDelay returns the simulated link setup time.
func (s *SimulationConfig) ConnectDelay() time.Duration {
	return time.Duration(s.ConnectDelayMillis) * time.Millisecond
}

// LogOptions converts the logging settings for log.New.
func (l *LoggingConfig) LogOptions() log.Options {
	return log.Options{
		Level:      l.Level,
		Dir:        l.Dir,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		Stderr:     l.Stderr,
	}
}

// ParseTargets splits a comma-separated target list, dropping blanks.
func ParseTargets(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if backend := os.Getenv("UAV_FLEET_BACKEND"); backend != "" {
		c.Fleet.Backend = strings.ToLower(backend)
	}
	if targets := os.Getenv("UAV_FLEET_TARGETS"); targets != "" {
		c.Fleet.Targets = ParseTargets(targets)
	}
	if dbPassword := os.Getenv("UAV_FLEET_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if level := os.Getenv("UAV_FLEET_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
