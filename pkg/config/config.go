// Package config resolves fbuildd's own operating parameters: distinct
// from the per-project build configuration (an ini file handled by an
// external collaborator), this is the daemon's heartbeat timeout,
// history retention, watchdog defaults, and so on.
//
// Precedence, highest first: CLI flags > environment variables
// (FBUILD_<KEY>, e.g. FBUILD_DEV_MODE, FBUILD_HTTP_ADDR) > an optional
// YAML file at <daemon_dir>/config.yaml > built-in defaults. Resolution
// is handled by viper; CLI flags are bound in cmd/fbuildd via
// pflag/cobra. There is no separate port setting: FBUILD_DAEMON_PORT is
// not read, and the HTTP endpoint comes from http_addr alone.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon's resolved operating parameters.
type Config struct {
	HeartbeatTimeout     time.Duration `mapstructure:"heartbeat_timeout"`
	MaxHistory           int           `mapstructure:"max_history"`
	CancellationCacheTTL time.Duration `mapstructure:"cancellation_cache_ttl"`
	SerialRetryUnix      time.Duration `mapstructure:"serial_retry_unix"`
	SerialRetryWindows   time.Duration `mapstructure:"serial_retry_windows"`
	WatchdogDefaultIdle  time.Duration `mapstructure:"watchdog_default_idle"`
	WatchdogDefaultTotal time.Duration `mapstructure:"watchdog_default_total"`
	CompileWorkers       int           `mapstructure:"compile_workers"`
	DevMode              bool          `mapstructure:"dev_mode"`
	HTTPAddr             string        `mapstructure:"http_addr"`
	DaemonDir            string        `mapstructure:"daemon_dir"`
}

// Defaults returns the built-in baseline before any file, environment,
// or flag overrides are applied.
func Defaults() Config {
	return Config{
		HeartbeatTimeout:     30 * time.Second,
		MaxHistory:           100,
		CancellationCacheTTL: 2 * time.Second,
		SerialRetryUnix:      250 * time.Millisecond,
		SerialRetryWindows:   500 * time.Millisecond,
		WatchdogDefaultIdle:  60 * time.Second,
		WatchdogDefaultTotal: 10 * time.Minute,
		CompileWorkers:       runtime.NumCPU(),
		DevMode:              false,
		HTTPAddr:             "127.0.0.1:9657",
		DaemonDir:            defaultDaemonDir(),
	}
}

func defaultDaemonDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".fbuildd")
	}
	return ".fbuildd"
}

// Load resolves a Config using viper: built-in defaults, an optional
// YAML file at <daemonDir>/config.yaml, and FBUILD_-prefixed environment
// variables. flags, if non-nil, is bound last so CLI flags win.
func Load(daemonDir string, flags *viper.Viper) (Config, error) {
	def := Defaults()
	if daemonDir != "" {
		def.DaemonDir = daemonDir
	}

	v := viper.New()
	v.SetEnvPrefix("FBUILD")
	v.AutomaticEnv()

	v.SetDefault("heartbeat_timeout", def.HeartbeatTimeout)
	v.SetDefault("max_history", def.MaxHistory)
	v.SetDefault("cancellation_cache_ttl", def.CancellationCacheTTL)
	v.SetDefault("serial_retry_unix", def.SerialRetryUnix)
	v.SetDefault("serial_retry_windows", def.SerialRetryWindows)
	v.SetDefault("watchdog_default_idle", def.WatchdogDefaultIdle)
	v.SetDefault("watchdog_default_total", def.WatchdogDefaultTotal)
	v.SetDefault("compile_workers", def.CompileWorkers)
	v.SetDefault("dev_mode", def.DevMode)
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("daemon_dir", def.DaemonDir)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(def.DaemonDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: reading config.yaml: %w", err)
		}
	}

	if flags != nil {
		for key, val := range flags.AllSettings() {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
