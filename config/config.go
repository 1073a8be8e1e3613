package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global Hatchery configuration.
type Config struct {
	// RootDir is the base directory for local persistent data (the default
	// sqlite store and the daemon lock).
	RootDir string `json:"root_dir"`
	// PoolSize is the goroutine pool size for reconciliation work.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size"`
	// TrialDays is the length of the free trial granted to new tenants.
	TrialDays int `json:"trial_days"`

	Store     StoreConfig     `json:"store"`
	Provider  ProviderConfig  `json:"provider"`
	Reconcile ReconcileConfig `json:"reconcile"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver"`
	// DSN is the connection string. Empty with the sqlite driver means
	// {RootDir}/hatchery.db.
	DSN string `json:"dsn"`
}

// ProviderConfig describes the external VM provider API.
type ProviderConfig struct {
	Endpoint string `json:"endpoint"`
	// TimeoutSeconds bounds each individual provider call.
	TimeoutSeconds int `json:"timeout_seconds"`
	// ReadyTimeoutSeconds bounds the post-create readiness poll.
	ReadyTimeoutSeconds int `json:"ready_timeout_seconds"`
}

// ReconcileConfig schedules the two reconciliation sweeps.
type ReconcileConfig struct {
	ExpiryIntervalSeconds int `json:"expiry_interval_seconds"`
	DriftIntervalSeconds  int `json:"drift_interval_seconds"`
	// SweepTimeoutSeconds bounds a single sweep run; VMs not processed in
	// time are picked up on the next scheduled run.
	SweepTimeoutSeconds int `json:"sweep_timeout_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:   "/var/lib/hatchery",
		PoolSize:  runtime.NumCPU(),
		TrialDays: 14,
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Provider: ProviderConfig{
			Endpoint:            "http://127.0.0.1:8996",
			TimeoutSeconds:      30,
			ReadyTimeoutSeconds: 120,
		},
		Reconcile: ReconcileConfig{
			ExpiryIntervalSeconds: 300,
			DriftIntervalSeconds:  3600,
			SweepTimeoutSeconds:   240,
		},
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
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	conf.Normalize()
	return conf, nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.TrialDays <= 0 {
		c.TrialDays = 14
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 30
	}
	if c.Provider.ReadyTimeoutSeconds <= 0 {
		c.Provider.ReadyTimeoutSeconds = 120
	}
	if c.Reconcile.ExpiryIntervalSeconds <= 0 {
		c.Reconcile.ExpiryIntervalSeconds = 300
	}
	if c.Reconcile.DriftIntervalSeconds <= 0 {
		c.Reconcile.DriftIntervalSeconds = 3600
	}
	if c.Reconcile.SweepTimeoutSeconds <= 0 {
		c.Reconcile.SweepTimeoutSeconds = 240
	}
}

// StoreDSN returns the effective store connection string.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.RootDir, "hatchery.db")
}

// DaemonLockPath is the flock path guarding the local data directory so that
// at most one daemon serves it.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.RootDir, "daemon.lock")
}

// EnsureRootDir creates the data root if it does not exist.
func (c *Config) EnsureRootDir() error {
	if err := os.MkdirAll(c.RootDir, 0o750); err != nil {
		return fmt.Errorf("ensure root dir: %w", err)
	}
	return nil
}
