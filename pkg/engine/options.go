package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-durable-ops/pkg/events"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
	"github.com/jdziat/simple-durable-ops/pkg/worker"
)

// Option configures an Engine.
type Option interface {
	apply(*Engine)
}

type optionFunc func(*Engine)

func (f optionFunc) apply(e *Engine) { f(e) }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(e *Engine) {
		e.logger = l
	})
}

// WithMetrics sets the metrics collector shared with the dispatcher.
func WithMetrics(m *metrics.Collector) Option {
	return optionFunc(func(e *Engine) {
		e.metrics = m
	})
}

// WithPolicy sets the time policy, including the grace window that keeps
// fresh groups away from periodic passes.
func WithPolicy(p *timing.Policy) Option {
	return optionFunc(func(e *Engine) {
		e.policy = p
	})
}

// WithBroker sets the broker that receives engine events. Share it with the
// processor and the enqueue manager to get a single event stream.
func WithBroker(b *events.Broker) Option {
	return optionFunc(func(e *Engine) {
		e.broker = b
	})
}

// WithExecutingEnabled turns dispatching on or off. A disabled engine still
// answers queries and accepts results. Default: true.
func WithExecutingEnabled(enabled bool) Option {
	return optionFunc(func(e *Engine) {
		e.executingEnabled = enabled
	})
}

// WithStorageRetry sets the backoff for group status writes and claim releases.
func WithStorageRetry(rc worker.RetryConfig) Option {
	return optionFunc(func(e *Engine) {
		e.retry = rc
	})
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	})
}
