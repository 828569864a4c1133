package worker

import (
	"log/slog"

	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/security"
)

// Option configures a Pool or a Dispatcher.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// Config holds pool and dispatcher configuration.
type Config struct {
	// Threads is the number of goroutines executing tasks.
	// Default: 20
	Threads int

	// QueueSize is the number of accepted tasks that may wait for a free
	// goroutine. Submissions beyond it are rejected.
	// Default: 25
	QueueSize int

	// StorageRetry applies to releasing a claim and refreshing the group
	// after processing.
	StorageRetry RetryConfig

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Threads:      20,
		QueueSize:    25,
		StorageRetry: DefaultRetryConfig(),
		Logger:       slog.Default(),
	}
}

func newConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Threads sets the number of worker goroutines.
// Values are clamped to [1, MaxThreads].
func Threads(n int) Option {
	return optionFunc(func(c *Config) {
		c.Threads = security.ClampThreads(n)
	})
}

// QueueSize sets the backlog size.
// Values are clamped to [0, MaxQueueSize].
func QueueSize(n int) Option {
	return optionFunc(func(c *Config) {
		c.QueueSize = security.ClampQueueSize(n)
	})
}

// WithStorageRetry sets the retry policy for storage writes made after processing.
func WithStorageRetry(rc RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = rc
	})
}

// DisableRetry makes storage writes single-shot.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry.MaxAttempts = 1
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return optionFunc(func(c *Config) {
		c.Metrics = m
	})
}
