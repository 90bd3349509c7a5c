package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// LoadFromFile reads a YAML configuration document at path, applies
// environment-variable overrides under the HEALTHCOORD_ prefix, fills
// defaults for any unset global section, and validates the result before
// returning it. It never returns a Config that failed Validate.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("HEALTHCOORD")
	v.AutomaticEnv()

	applyViperDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("config: creating data_dir %s: %w", cfg.DataDir, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyViperDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("aggregation.failure_threshold", d.Aggregation.FailureThreshold)
	v.SetDefault("aggregation.degraded_threshold", d.Aggregation.DegradedThreshold)
	v.SetDefault("aggregation.default_mode", d.Aggregation.DefaultMode)
	v.SetDefault("circuit_breaker.failure_threshold", d.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.open_duration", d.CircuitBreaker.OpenDuration)
	v.SetDefault("scheduler.max_concurrent_servers", d.Scheduler.MaxConcurrentServers)
	v.SetDefault("scheduler.max_concurrent_probes_per_server", d.Scheduler.MaxConcurrentProbesPerSvr)
	v.SetDefault("scheduler.cycle_interval", d.Scheduler.CycleInterval)
	v.SetDefault("scheduler.probe_grace", d.Scheduler.ProbeGrace)
	v.SetDefault("retention.window_capacity", d.Retention.WindowCapacity)
	v.SetDefault("retention.retention_hours", d.Retention.RetentionHours)
	v.SetDefault("log_level", "info")
}

// DefaultDataDir returns the per-user data directory used when a config
// document omits data_dir, mirroring the teacher's path-resolution helper.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".healthcoord")
	}
	return filepath.Join(home, ".healthcoord")
}
