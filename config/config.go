// Package config provides YAML-based configuration loading for taskforge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/pool"
)

// Config is the root application configuration.
type Config struct {
	// Pool holds dispatch engine settings.
	Pool PoolConfig `mapstructure:"pool"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// PoolConfig configures the task dispatch engine.
type PoolConfig struct {
	// Workers is the number of worker contexts. 0 means one per CPU.
	Workers int `mapstructure:"workers"`

	// MaxQueueDepth bounds accepted-but-unassigned tasks; submissions
	// beyond it fail fast. <= 0 means unbounded.
	MaxQueueDepth int `mapstructure:"max_queue_depth"`

	// RetryLimit is how many times a task is reassigned after worker
	// crashes before it fails permanently.
	RetryLimit int `mapstructure:"retry_limit"`

	// HealthIntervalMS / HealthTimeoutMS drive the supervisor watchdog.
	// Timeout 0 disables it.
	HealthIntervalMS int `mapstructure:"health_interval_ms"`
	HealthTimeoutMS  int `mapstructure:"health_timeout_ms"`

	// Backoff shapes the delay between crash reassignments.
	Backoff BackoffConfig `mapstructure:"backoff"`

	// RateLimit optionally throttles task execution across all workers.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// PinWorkers pins each worker's OS thread to a CPU core.
	PinWorkers bool `mapstructure:"pin_workers"`
}

// BackoffConfig selects a retry delay strategy.
type BackoffConfig struct {
	// Kind: exponential, jittered, or decorrelated.
	Kind      string `mapstructure:"kind"`
	InitialMS int    `mapstructure:"initial_ms"`
	MaxMS     int    `mapstructure:"max_ms"`
}

// RateLimitConfig throttles execution when TasksPerSecond > 0.
type RateLimitConfig struct {
	TasksPerSecond float64 `mapstructure:"tasks_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Workers:          0, // one per CPU
			MaxQueueDepth:    256,
			RetryLimit:       2,
			HealthIntervalMS: 1000,
			HealthTimeoutMS:  30000,
			Backoff: BackoffConfig{
				Kind:      "exponential",
				InitialMS: 100,
				MaxMS:     5000,
			},
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix TASKFORGE and `.`/`-`
// are replaced with `_`. Example: TASKFORGE_POOL_RETRY_LIMIT=5
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("pool.workers", cfg.Pool.Workers)
	v.SetDefault("pool.max_queue_depth", cfg.Pool.MaxQueueDepth)
	v.SetDefault("pool.retry_limit", cfg.Pool.RetryLimit)
	v.SetDefault("pool.health_interval_ms", cfg.Pool.HealthIntervalMS)
	v.SetDefault("pool.health_timeout_ms", cfg.Pool.HealthTimeoutMS)
	v.SetDefault("pool.backoff.kind", cfg.Pool.Backoff.Kind)
	v.SetDefault("pool.backoff.initial_ms", cfg.Pool.Backoff.InitialMS)
	v.SetDefault("pool.backoff.max_ms", cfg.Pool.Backoff.MaxMS)
	v.SetDefault("pool.rate_limit.tasks_per_second", cfg.Pool.RateLimit.TasksPerSecond)
	v.SetDefault("pool.rate_limit.burst", cfg.Pool.RateLimit.Burst)
	v.SetDefault("pool.pin_workers", cfg.Pool.PinWorkers)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)

	if path == "" {
		if envPath := os.Getenv("TASKFORGE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskforge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".taskforge"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	kind := strings.ToLower(strings.TrimSpace(c.Pool.Backoff.Kind))
	switch kind {
	case "", "exponential", "jittered", "decorrelated":
	default:
		return fmt.Errorf("invalid pool.backoff.kind: %q", c.Pool.Backoff.Kind)
	}

	if c.Pool.Workers < 0 {
		return fmt.Errorf("invalid pool.workers: %d", c.Pool.Workers)
	}
	if c.Pool.RetryLimit < 0 {
		return fmt.Errorf("invalid pool.retry_limit: %d", c.Pool.RetryLimit)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

// PoolOptions translates the configuration into pool options.
func (c *Config) PoolOptions() []pool.Option {
	pc := c.Pool
	opts := []pool.Option{
		pool.WithMaxQueueDepth(pc.MaxQueueDepth),
		pool.WithRetryLimit(pc.RetryLimit),
	}
	if pc.Workers > 0 {
		opts = append(opts, pool.WithWorkerCount(pc.Workers))
	}
	if pc.HealthIntervalMS > 0 {
		opts = append(opts, pool.WithHealthCheck(
			time.Duration(pc.HealthIntervalMS)*time.Millisecond,
			time.Duration(pc.HealthTimeoutMS)*time.Millisecond))
	}
	opts = append(opts, pool.WithBackoff(
		backoffKind(pc.Backoff.Kind),
		time.Duration(pc.Backoff.InitialMS)*time.Millisecond,
		time.Duration(pc.Backoff.MaxMS)*time.Millisecond))
	if pc.RateLimit.TasksPerSecond > 0 && pc.RateLimit.Burst > 0 {
		opts = append(opts, pool.WithRateLimit(pc.RateLimit.TasksPerSecond, pc.RateLimit.Burst))
	}
	if pc.PinWorkers {
		opts = append(opts, pool.WithWorkerAffinity())
	}
	return opts
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() *zap.Logger {
	return logging.New(logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Outputs:    c.Log.Outputs,
		Rotate:     c.Log.Rotation.Enable,
		MaxSizeMB:  c.Log.Rotation.MaxSizeMB,
		MaxBackups: c.Log.Rotation.MaxBackups,
	})
}

func backoffKind(kind string) pool.BackoffKind {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "jittered":
		return pool.BackoffJittered
	case "decorrelated":
		return pool.BackoffDecorrelated
	default:
		return pool.BackoffExponential
	}
}
