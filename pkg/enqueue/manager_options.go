package enqueue

import (
	"log/slog"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
)

// ManagerOption configures a Manager.
type ManagerOption interface {
	applyManager(*Manager)
}

type managerOptionFunc func(*Manager)

func (f managerOptionFunc) applyManager(m *Manager) { f(m) }

// WithTrigger sets what runs after-commit operations. Without one
// ExecuteAfterCommit has no effect.
func WithTrigger(t AfterCommitTrigger) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.trigger = t
	})
}

// WithOptimization enables deduplication of Optimized operations. Default: false.
func WithOptimization(enabled bool) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.optimizationEnabled = enabled
	})
}

// WithAfterCommitExecution enables ExecuteAfterCommit. Default: true.
func WithAfterCommitExecution(enabled bool) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.afterCommitEnabled = enabled
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.logger = l
	})
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.metrics = c
	})
}

// WithEmitter receives an OperationEnqueued event after each commit.
func WithEmitter(emit func(core.Event)) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.emit = emit
	})
}
