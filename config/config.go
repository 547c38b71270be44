// Package config resolves the engine's runtime configuration. Everything is
// read once at startup and threaded through constructors as an immutable
// value; no component consults the environment after that.
//
// Resolution order, lowest to highest precedence:
//  1. built-in defaults
//  2. optional YAML file named by FENCELINE_CONFIG
//  3. environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarterdeck/fenceline/boundary"
)

// Environment variable names consumed at startup.
const (
	EnvMode               = "FENCELINE_MODE"
	EnvBoundaryRoot       = "FENCELINE_BOUNDARY_ROOT"
	EnvCleanupInterval    = "FENCELINE_CLEANUP_INTERVAL_SECS"
	EnvSessionTimeout     = "FENCELINE_SESSION_TIMEOUT_SECS"
	EnvDisableOrphanSweep = "FENCELINE_DISABLE_ORPHAN_SWEEP"
	EnvConfigFile         = "FENCELINE_CONFIG"
)

// Defaults applied when neither the environment nor a config file overrides
// a value.
const (
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultSessionIdleLimit = 30 * time.Minute
	DefaultBoundaryRoot     = boundary.DefaultRoot
)

// Config holds the resolved runtime configuration.
type Config struct {
	// Mode selects single-tenant (advisory checks) or multi-tenant
	// (mandatory checks).
	Mode boundary.DeploymentMode

	// BoundaryRoot is the directory containing all tenant sandboxes.
	BoundaryRoot string

	// CleanupInterval is how often the cleanup scheduler ticks.
	CleanupInterval time.Duration

	// SessionIdleTimeout is how long a PTY session may sit idle before the
	// reaper removes it.
	SessionIdleTimeout time.Duration

	// DisableOrphanSweep turns off the orphan-workspace sweep for
	// operators who manage retention out-of-band.
	DisableOrphanSweep bool
}

// fileConfig is the YAML shape of an optional fenceline.yaml.
type fileConfig struct {
	Mode               string `yaml:"mode"`
	BoundaryRoot       string `yaml:"boundary_root"`
	CleanupIntervalSec int    `yaml:"cleanup_interval_secs"`
	SessionTimeoutSec  int    `yaml:"session_timeout_secs"`
	DisableOrphanSweep bool   `yaml:"disable_orphan_sweep"`
}

// Default returns the built-in configuration: single-tenant, default root,
// default timers.
func Default() Config {
	return Config{
		Mode:               boundary.SingleTenant,
		BoundaryRoot:       DefaultBoundaryRoot,
		CleanupInterval:    DefaultCleanupInterval,
		SessionIdleTimeout: DefaultSessionIdleLimit,
	}
}

// FromEnv resolves the configuration from the optional YAML file and the
// environment. Environment variables win over the file, the file wins over
// defaults.
func FromEnv() (Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if s := os.Getenv(EnvMode); s != "" {
		mode, err := boundary.ParseMode(s)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvMode, err)
		}
		cfg.Mode = mode
	}

	if root := os.Getenv(EnvBoundaryRoot); root != "" {
		cfg.BoundaryRoot = root
	}

	if d, err := secondsFromEnv(EnvCleanupInterval); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.CleanupInterval = d
	}

	if d, err := secondsFromEnv(EnvSessionTimeout); err != nil {
		return cfg, err
	} else if d > 0 {
		cfg.SessionIdleTimeout = d
	}

	if os.Getenv(EnvDisableOrphanSweep) != "" {
		cfg.DisableOrphanSweep = true
	}

	return cfg, nil
}

// applyFile overlays values from a fenceline.yaml onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Mode != "" {
		mode, err := boundary.ParseMode(fc.Mode)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.Mode = mode
	}
	if fc.BoundaryRoot != "" {
		cfg.BoundaryRoot = fc.BoundaryRoot
	}
	if fc.CleanupIntervalSec > 0 {
		cfg.CleanupInterval = time.Duration(fc.CleanupIntervalSec) * time.Second
	}
	if fc.SessionTimeoutSec > 0 {
		cfg.SessionIdleTimeout = time.Duration(fc.SessionTimeoutSec) * time.Second
	}
	if fc.DisableOrphanSweep {
		cfg.DisableOrphanSweep = true
	}

	return nil
}

// secondsFromEnv parses an integer-seconds environment variable. Returns
// zero when unset.
func secondsFromEnv(name string) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%s: invalid seconds value %q", name, s)
	}
	return time.Duration(secs) * time.Second, nil
}
