package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global DPL configuration: ledger storage location, the
// heartbeat/staleness/lock timing knobs that drive the cleanup state
// machine, and the remote HTTP surface.
type Config struct {
	// BasePath is the root directory the ledger store writes operation
	// documents, trails and backups under.
	BasePath string `json:"base_path" mapstructure:"base_path"`

	// HeartbeatInterval is the base period of a per-operation heartbeat
	// task (spec §4.3 default 4500ms).
	HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	// HeartbeatJitter bounds the random addition to HeartbeatInterval,
	// uniform in [0, HeartbeatJitter] (spec §4.3 default 500ms).
	HeartbeatJitter time.Duration `json:"heartbeat_jitter" mapstructure:"heartbeat_jitter"`
	// StaleThreshold is how long a frame may go without a heartbeat update
	// before it is considered crashed (spec §4.3 default 15s, minimum 10s).
	StaleThreshold time.Duration `json:"stale_threshold" mapstructure:"stale_threshold"`
	// GlobalHeartbeatInterval is the cadence of the per-Ledger scan across
	// all known operations (spec §4.3 default 5s).
	GlobalHeartbeatInterval time.Duration `json:"global_heartbeat_interval" mapstructure:"global_heartbeat_interval"`

	// LockTimeout bounds how long a document lock acquisition retries
	// before failing with lockFailed (spec §4.1 default 2s).
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`
	// StaleLockAge is how old a lock file's acquiredAt may be before it is
	// forcibly reclaimed even if its owning pid is alive (spec §4.1 default 2s).
	StaleLockAge time.Duration `json:"stale_lock_age" mapstructure:"stale_lock_age"`

	// MaxBackups bounds the retained trail-snapshot count per operation and
	// the retained backup-folder count under BasePath (spec §4.1 default 20).
	MaxBackups int `json:"max_backups" mapstructure:"max_backups"`
	// BackupsEnabled controls whether a terminal operation's document is
	// moved to backups/ or deleted outright (spec §4.4 Phase 4).
	BackupsEnabled bool `json:"backups_enabled" mapstructure:"backups_enabled"`

	// HTTPAddr is the bind address of the remote access surface (spec §4.7).
	HTTPAddr string `json:"http_addr" mapstructure:"http_addr"`
	// DiscoveryPort is the port auto-discovery scans on peer hosts.
	DiscoveryPort int `json:"discovery_port" mapstructure:"discovery_port"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with the spec's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		BasePath: "/var/lib/dpl",

		HeartbeatInterval:       4500 * time.Millisecond, //nolint:mnd
		HeartbeatJitter:         500 * time.Millisecond,  //nolint:mnd
		StaleThreshold:          15 * time.Second,        //nolint:mnd
		GlobalHeartbeatInterval: 5 * time.Second,         //nolint:mnd

		LockTimeout:  2 * time.Second, //nolint:mnd
		StaleLockAge: 2 * time.Second, //nolint:mnd

		MaxBackups:     20,
		BackupsEnabled: true,

		HTTPAddr:      "127.0.0.1:19880",
		DiscoveryPort: 19880,

		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields left unset by a partial config
// file or by env/flag binding, so callers only need to override what they
// care about. Exported for cmd's viper-driven config assembly.
func (c *Config) ApplyDefaults() {
	c.applyDefaults()
}

// applyDefaults fills in zero-valued fields left unset by a partial config
// file, so a config file only needs to override what it cares about.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatJitter < 0 {
		c.HeartbeatJitter = d.HeartbeatJitter
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if floor := c.staleThresholdFloor(); c.StaleThreshold < floor {
		c.StaleThreshold = floor
	}
	if c.GlobalHeartbeatInterval <= 0 {
		c.GlobalHeartbeatInterval = d.GlobalHeartbeatInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.StaleLockAge <= 0 {
		c.StaleLockAge = d.StaleLockAge
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.DiscoveryPort <= 0 {
		c.DiscoveryPort = d.DiscoveryPort
	}
}

// staleThresholdFloor is the minimum StaleThreshold this config accepts: the
// documented 10s floor (spec §4.3), or 3x the configured heartbeat interval,
// whichever is larger (spec §9 open question on threshold validation).
func (c *Config) staleThresholdFloor() time.Duration {
	const minFloor = 10 * time.Second //nolint:mnd
	if rel := 3 * c.HeartbeatInterval; rel > minFloor { //nolint:mnd
		return rel
	}
	return minFloor
}

// Validate reports a descriptive error if the configuration is internally
// inconsistent.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("base_path must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if floor := c.staleThresholdFloor(); c.StaleThreshold < floor {
		return fmt.Errorf("stale_threshold must be at least %s (10s floor or 3x heartbeat_interval), got %s", floor, c.StaleThreshold)
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("max_backups must not be negative")
	}
	return nil
}
