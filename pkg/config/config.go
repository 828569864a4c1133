// Package config loads the YAML configuration of an engine process and
// translates it into component options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-durable-ops/pkg/engine"
	"github.com/jdziat/simple-durable-ops/pkg/schedule"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
	"github.com/jdziat/simple-durable-ops/pkg/worker"
)

// Config is the complete process configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Pool       PoolConfig       `yaml:"pool"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	HTTP       HTTPConfig       `yaml:"http"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

// EngineConfig controls orchestration passes.
type EngineConfig struct {
	// GraceWindow hides freshly created groups from periodic passes so
	// their after-commit processing gets the first chance.
	GraceWindow time.Duration `yaml:"grace_window"`

	AfterCommitExecutionEnabled bool `yaml:"after_commit_execution_enabled"`
	OptimizationEnabled         bool `yaml:"optimization_enabled"`
	ExecutingEnabled            bool `yaml:"executing_enabled"`

	// MaxOperationsPerIteration caps a pass; -1 is unlimited.
	MaxOperationsPerIteration int `yaml:"max_operations_per_iteration"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Threads   int `yaml:"threads"`
	QueueSize int `yaml:"queue_size"`
}

// SchedulingConfig controls the periodic trigger.
type SchedulingConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Cron                   string        `yaml:"cron"`
	FirstStartDelay        time.Duration `yaml:"first_start_delay"`
	MaxLockTime            time.Duration `yaml:"max_lock_time"`
	MinLockTime            time.Duration `yaml:"min_lock_time"`
	ForcedStopWhenTimeLeft time.Duration `yaml:"forced_stop_when_time_left"`
}

// DatabaseConfig selects the store and its connection pool.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HTTPConfig is the API listener.
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TracingConfig selects the span exporter: "none", "stdout" or "otlp".
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

const defaultThreads = 20

// Default returns the default configuration.
func Default() *Config {
	sched := schedule.DefaultConfig()
	pool := storage.PoolConfigForWorkers(defaultThreads)
	return &Config{
		Engine: EngineConfig{
			GraceWindow:                 timing.DefaultGraceWindow,
			AfterCommitExecutionEnabled: true,
			ExecutingEnabled:            true,
			MaxOperationsPerIteration:   engine.Unlimited,
		},
		Pool: PoolConfig{Threads: defaultThreads, QueueSize: 25},
		Scheduling: SchedulingConfig{
			Enabled:                sched.Enabled,
			Cron:                   sched.Spec,
			FirstStartDelay:        sched.FirstStartDelay,
			MaxLockTime:            sched.MaxLockTime,
			MinLockTime:            sched.MinLockTime,
			ForcedStopWhenTimeLeft: sched.ForcedStopWhenTimeLeft,
		},
		Database: DatabaseConfig{
			Driver:          storage.DriverSQLite,
			DSN:             "ops.db",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		},
		Metrics: MetricsConfig{Enabled: true},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{Exporter: "none", ServiceName: "opsd"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.GraceWindow < 0 {
		errs = append(errs, errors.New("engine.grace_window must not be negative"))
	}
	if c.Engine.MaxOperationsPerIteration < engine.Unlimited {
		errs = append(errs, errors.New("engine.max_operations_per_iteration must be -1 or more"))
	}
	if c.Pool.Threads <= 0 {
		errs = append(errs, errors.New("pool.threads must be positive"))
	}
	if c.Pool.QueueSize < 0 {
		errs = append(errs, errors.New("pool.queue_size must not be negative"))
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Database.Driver) {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Policy returns the timing policy for the engine and processor.
func (c *Config) Policy() *timing.Policy {
	return timing.NewPolicy(c.Engine.GraceWindow)
}

// Window returns the bounds of one pass ending at deadline.
func (c *Config) Window(deadline time.Time) engine.Window {
	return engine.Window{Deadline: deadline, MaxOperations: c.Engine.MaxOperationsPerIteration}
}

// SchedulerConfig translates the scheduling section.
func (c *Config) SchedulerConfig() schedule.Config {
	return schedule.Config{
		Enabled:                c.Scheduling.Enabled,
		Spec:                   c.Scheduling.Cron,
		FirstStartDelay:        c.Scheduling.FirstStartDelay,
		MaxLockTime:            c.Scheduling.MaxLockTime,
		MinLockTime:            c.Scheduling.MinLockTime,
		ForcedStopWhenTimeLeft: c.Scheduling.ForcedStopWhenTimeLeft,
		MaxOperations:          c.Engine.MaxOperationsPerIteration,
	}
}

// PoolOptions translates the pool section.
func (c *Config) PoolOptions() []worker.Option {
	return []worker.Option{worker.Threads(c.Pool.Threads), worker.QueueSize(c.Pool.QueueSize)}
}

// StoragePoolOptions translates the database pool settings.
func (c *Config) StoragePoolOptions() []storage.PoolOption {
	return []storage.PoolOption{
		storage.MaxOpenConns(c.Database.MaxOpenConns),
		storage.MaxIdleConns(c.Database.MaxIdleConns),
		storage.ConnMaxLifetime(c.Database.ConnMaxLifetime),
		storage.ConnMaxIdleTime(c.Database.ConnMaxIdleTime),
	}
}
