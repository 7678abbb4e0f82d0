// Package config loads the process-wide RunConfig that apps/observer (and
// any other chronosim entrypoint) starts from: viper-backed, env-overridable,
// following the teacher-pack's config.Load shape (see
// betrace-hq-betrace/backend/internal/config) rather than inventing a
// bespoke flags-only loader.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// RunConfig holds the chronosim entrypoint settings: how the observer's
// WebSocket/HTTP surface listens, default Driver settings, and trace
// settings. chronosim-observer's serve command reads only HTTP; the
// Driver and Trace sections are loaded but not applied to any run.
type RunConfig struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	Driver DriverConfig `mapstructure:"driver"`
	Trace  TraceConfig  `mapstructure:"trace"`
}

// HTTPConfig configures the observer's listener.
type HTTPConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`  // seconds
	WriteTimeout    int `mapstructure:"write_timeout"` // seconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

// DriverConfig holds default Run settings. No entrypoint applies them: the
// observer's `run` subcommand takes its RunOptions from the scenario file
// and does not load a RunConfig.
type DriverConfig struct {
	DefaultMaxDurationMS int64 `mapstructure:"default_max_duration_ms"`
	DefaultCheckInterval int64 `mapstructure:"default_check_interval_ms"`
}

// TraceConfig holds trace recording and broadcast settings. No entrypoint
// applies them to a Simulation or to the hub's broadcasts.
type TraceConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	BroadcastLimit int  `mapstructure:"broadcast_limit"` // max TraceEvents per WS push
}

// Load reads configuration from configPath (if non-empty) and environment
// variables, with env vars taking priority over the file, and the file
// taking priority over the defaults set below. Environment variables use
// the CHRONOSIM_ prefix: CHRONOSIM_HTTP_PORT, CHRONOSIM_DRIVER_DEFAULT_MAX_DURATION_MS, etc.
func Load(configPath string) (*RunConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CHRONOSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8090)
	v.SetDefault("http.read_timeout", 15)
	v.SetDefault("http.write_timeout", 15)
	v.SetDefault("http.shutdown_timeout", 5)

	v.SetDefault("driver.default_max_duration_ms", 60000)
	v.SetDefault("driver.default_check_interval_ms", 100)

	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.broadcast_limit", 500)
}
