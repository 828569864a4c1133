package processor

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
)

// Option configures a Processor.
type Option interface {
	apply(*Processor)
}

type optionFunc func(*Processor)

func (f optionFunc) apply(p *Processor) { f(p) }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(p *Processor) {
		p.logger = l
	})
}

// WithPolicy sets the time policy.
func WithPolicy(policy *timing.Policy) Option {
	return optionFunc(func(p *Processor) {
		p.policy = policy
	})
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(p *Processor) {
		p.tracer = tp.Tracer(tracerName)
	})
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return optionFunc(func(p *Processor) {
		p.metrics = m
	})
}

// WithEmitter receives an OperationProcessed event for every stored state.
func WithEmitter(emit func(core.Event)) Option {
	return optionFunc(func(p *Processor) {
		p.emit = emit
	})
}
