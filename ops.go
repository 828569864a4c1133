// Package ops provides durable, transactional operation groups: operations
// enqueued inside a database transaction are persisted with it and executed
// in dependency order by a worker pool once it has committed.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages and wires them together.
//
// Basic usage:
//
//	db, _ := storage.Open(storage.DriverSQLite, "ops.db")
//	store := ops.NewGormStorage(db)
//	store.Migrate(ctx)
//	o := ops.New(store)
//	defer o.Close(ctx)
//
//	o.MustRegister(ops.Func("send-email", ops.KindSendMessage,
//	    func(ctx context.Context, to string) error {
//	        return sendEmail(ctx, to)
//	    }))
//
//	err := o.Do(ctx, func(ctx context.Context, u *ops.Unit) error {
//	    if err := saveOrder(ctx, ops.DB(ctx)); err != nil {
//	        return err
//	    }
//	    _, err := o.Enqueue(ctx, "send-email", "user@example.com", ops.ExecuteAfterCommit())
//	    return err
//	})
package ops

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/engine"
	"github.com/jdziat/simple-durable-ops/pkg/enqueue"
	"github.com/jdziat/simple-durable-ops/pkg/events"
	"github.com/jdziat/simple-durable-ops/pkg/executor"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/opctx"
	"github.com/jdziat/simple-durable-ops/pkg/processor"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
	"github.com/jdziat/simple-durable-ops/pkg/worker"
)

type (
	// Operation is a unit of work executed by a named executor.
	Operation = core.Operation

	// OperationGroup tracks the operations enqueued by one unit of work.
	OperationGroup = core.OperationGroup

	// OperationStatus is the lifecycle state of an operation.
	OperationStatus = core.OperationStatus

	// GroupStatus is the aggregate state of a group.
	GroupStatus = core.GroupStatus

	// Importance routes an operation's terminal failure.
	Importance = core.Importance

	// OperationKind describes what an executor does.
	OperationKind = core.OperationKind

	// ExecutionResult is what an executor reports.
	ExecutionResult = core.ExecutionResult

	// Storage defines the persistence layer.
	Storage = core.Storage

	// Event is the interface for all engine events.
	Event = core.Event

	// OperationEnqueued is emitted when an operation is persisted.
	OperationEnqueued = core.OperationEnqueued

	// OperationProcessed is emitted after an operation changed state.
	OperationProcessed = core.OperationProcessed

	// GroupStatusChanged is emitted when a group changes state.
	GroupStatusChanged = core.GroupStatusChanged

	// NoRetryError marks an executor error as terminal.
	NoRetryError = core.NoRetryError

	// RetryAfterError asks for a longer delay before the next attempt.
	RetryAfterError = core.RetryAfterError

	// Executor performs one kind of operation.
	Executor = executor.Executor

	// Rollbacker undoes an operation while its group rolls back.
	Rollbacker = executor.Rollbacker

	// Verifier confirms a successful execution in a later pass.
	Verifier = executor.Verifier

	// PreconditionChecker runs before every attempt.
	PreconditionChecker = executor.PreconditionChecker

	// Unit is the enqueue context of one transaction.
	Unit = enqueue.Unit

	// Option configures an enqueued operation.
	Option = enqueue.Option

	// Window bounds one engine pass.
	Window = engine.Window
)

// Importance values.
const (
	ImportanceCritical = core.ImportanceCritical
	ImportanceRequired = core.ImportanceRequired
	ImportanceOptional = core.ImportanceOptional
)

// Operation kinds.
const (
	KindLocalUpdate        = core.KindLocalUpdate
	KindPublishActualState = core.KindPublishActualState
	KindPublishDiffLog     = core.KindPublishDiffLog
	KindSendMessage        = core.KindSendMessage
	KindSyncRequest        = core.KindSyncRequest
	KindAsyncRequest       = core.KindAsyncRequest
)

// Execution results.
const (
	ResultSuccess         = core.ResultSuccess
	ResultAttemptFailed   = core.ResultAttemptFailed
	ResultFail            = core.ResultFail
	ResultRollbackSuccess = core.ResultRollbackSuccess
	ResultRollbackFail    = core.ResultRollbackFail
)

// Unlimited disables the operation budget of a Window.
const Unlimited = engine.Unlimited

// Errors.
var (
	ErrExecutorNotFound             = core.ErrExecutorNotFound
	ErrOperationNotFound            = core.ErrOperationNotFound
	ErrGroupNotFound                = core.ErrGroupNotFound
	ErrVersionConflict              = core.ErrVersionConflict
	ErrInvalidTransition            = core.ErrInvalidTransition
	ErrInvalidResult                = core.ErrInvalidResult
	ErrNoUnitOfWork                 = core.ErrNoUnitOfWork
	ErrCycleDetected                = core.ErrCycleDetected
	ErrCriticalDependsOnNonCritical = core.ErrCriticalDependsOnNonCritical
	ErrOptimizedConflict            = core.ErrOptimizedConflict
)

// NoRetry wraps an error so the attempt is not retried.
func NoRetry(err error) error { return core.NoRetry(err) }

// RetryAfter wraps an error so the next attempt waits at least d.
func RetryAfter(d time.Duration, err error) error { return core.RetryAfter(d, err) }

// NewGormStorage creates a GORM-backed storage.
func NewGormStorage(db *gorm.DB) *storage.GormStorage { return storage.NewGormStorage(db) }

// Func adapts a function to an Executor. It panics on an unsupported
// signature; see executor.Func.
func Func(name string, kind OperationKind, fn any) Executor {
	return executor.MustFunc(name, kind, fn)
}

// DB returns the transaction an executor or unit of work runs in.
func DB(ctx context.Context) *gorm.DB { return opctx.DB(ctx) }

// OperationFromContext returns the operation an executor is running for.
func OperationFromContext(ctx context.Context) *Operation { return opctx.OperationFromContext(ctx) }

// DecodeParams unmarshals JSON params into T.
func DecodeParams[T any](params string) (T, error) { return executor.DecodeParams[T](params) }

// Enqueue options.
var (
	WithImportance     = enqueue.Importance
	WithPriority       = enqueue.Priority
	MaxAttempts        = enqueue.MaxAttempts
	RetryDelay         = enqueue.RetryDelay
	WaitTimeout        = enqueue.WaitTimeout
	Deadline           = enqueue.Deadline
	After              = enqueue.After
	ExecuteAfterCommit = enqueue.ExecuteAfterCommit
	Optimized          = enqueue.Optimized
	Description        = enqueue.Description
	RelatedEntity      = enqueue.RelatedEntity
)

// ──────────────────────────────────────────────────────────────────────────────
// Wiring
// ──────────────────────────────────────────────────────────────────────────────

// Ops holds a wired engine: registry, event broker, worker pool, processor,
// engine and enqueue manager sharing one storage.
type Ops struct {
	Storage   core.Storage
	Registry  *executor.Registry
	Broker    *events.Broker
	Pool      *worker.Pool
	Processor *processor.Processor
	Engine    *engine.Engine
	Manager   *enqueue.Manager
	Metrics   *metrics.Collector
}

// New wires the components over s.
func New(s core.Storage, opts ...SetupOption) *Ops {
	cfg := newSetup(opts)

	broker := events.NewBroker(cfg.eventBuffer)
	registry := executor.NewRegistry()
	pool := worker.NewPool(append(cfg.poolOptions,
		worker.WithLogger(cfg.logger),
		worker.WithMetrics(cfg.metrics),
	)...)

	procOpts := []processor.Option{
		processor.WithLogger(cfg.logger),
		processor.WithPolicy(cfg.policy),
		processor.WithMetrics(cfg.metrics),
		processor.WithEmitter(broker.Emit),
	}
	engOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithPolicy(cfg.policy),
		engine.WithMetrics(cfg.metrics),
		engine.WithBroker(broker),
		engine.WithExecutingEnabled(cfg.executingEnabled),
	}
	if cfg.tracerProvider != nil {
		procOpts = append(procOpts, processor.WithTracerProvider(cfg.tracerProvider))
		engOpts = append(engOpts, engine.WithTracerProvider(cfg.tracerProvider))
	}

	proc := processor.New(s, registry, procOpts...)
	eng := engine.New(s, pool, proc, engOpts...)
	manager := enqueue.NewManager(s, registry,
		enqueue.WithTrigger(eng),
		enqueue.WithOptimization(cfg.optimizationEnabled),
		enqueue.WithAfterCommitExecution(cfg.afterCommitEnabled),
		enqueue.WithLogger(cfg.logger),
		enqueue.WithMetrics(cfg.metrics),
		enqueue.WithEmitter(broker.Emit),
	)

	return &Ops{
		Storage:   s,
		Registry:  registry,
		Broker:    broker,
		Pool:      pool,
		Processor: proc,
		Engine:    eng,
		Manager:   manager,
		Metrics:   cfg.metrics,
	}
}

// Register adds an executor.
func (o *Ops) Register(e Executor) error { return o.Registry.Register(e) }

// MustRegister adds an executor and panics on error.
func (o *Ops) MustRegister(e Executor) { o.Registry.MustRegister(e) }

// Do runs fn in a transaction that operations can be enqueued into.
func (o *Ops) Do(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	return o.Manager.Do(ctx, fn)
}

// Enqueue adds an operation to the group of the current transaction.
func (o *Ops) Enqueue(ctx context.Context, executorName string, params any, opts ...Option) (*Operation, error) {
	return o.Manager.Enqueue(ctx, executorName, params, opts...)
}

// FindInCurrentGroup returns the operations of the current transaction's
// group routed to executorName.
func (o *Ops) FindInCurrentGroup(ctx context.Context, executorName string) ([]*Operation, error) {
	return o.Manager.FindInCurrentGroup(ctx, executorName)
}

// FindInGroup returns the operations of a group routed to executorName.
func (o *Ops) FindInGroup(ctx context.Context, groupID, executorName string) ([]*Operation, error) {
	return o.Manager.FindInGroup(ctx, groupID, executorName)
}

// Run starts one engine pass without waiting for dispatched operations.
func (o *Ops) Run(ctx context.Context, w Window) ([]string, error) { return o.Engine.Run(ctx, w) }

// RunSync runs engine passes until no more work is ready in w.
func (o *Ops) RunSync(ctx context.Context, w Window) ([]string, error) {
	return o.Engine.RunSync(ctx, w)
}

// SaveResult records the external result of an async operation.
func (o *Ops) SaveResult(ctx context.Context, operationID string, result ExecutionResult) (*Operation, error) {
	return o.Engine.SaveResult(ctx, operationID, result)
}

// Events subscribes to engine events.
func (o *Ops) Events() <-chan Event { return o.Engine.Events() }

// Unsubscribe cancels an Events subscription.
func (o *Ops) Unsubscribe(ch <-chan Event) { o.Engine.Unsubscribe(ch) }

// Close waits for after-commit passes and in-flight operations, then stops
// the pool. Operations still running when ctx is done finish in the
// background.
func (o *Ops) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.Engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := o.Pool.Drain(ctx); err != nil {
		return err
	}
	o.Pool.Close()
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Setup options
// ──────────────────────────────────────────────────────────────────────────────

// SetupOption configures New.
type SetupOption interface {
	apply(*setup)
}

type setupFunc func(*setup)

func (f setupFunc) apply(s *setup) { f(s) }

type setup struct {
	logger              *slog.Logger
	metrics             *metrics.Collector
	policy              *timing.Policy
	tracerProvider      trace.TracerProvider
	poolOptions         []worker.Option
	eventBuffer         int
	executingEnabled    bool
	optimizationEnabled bool
	afterCommitEnabled  bool
}

func newSetup(opts []SetupOption) *setup {
	s := &setup{
		logger:             slog.Default(),
		policy:             timing.NewPolicy(timing.DefaultGraceWindow),
		eventBuffer:        events.DefaultBufferSize,
		executingEnabled:   true,
		afterCommitEnabled: true,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) SetupOption {
	return setupFunc(func(s *setup) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithMetrics records Prometheus metrics in c.
func WithMetrics(c *metrics.Collector) SetupOption {
	return setupFunc(func(s *setup) { s.metrics = c })
}

// WithPolicy sets the timing policy shared by the engine and the processor.
func WithPolicy(p *timing.Policy) SetupOption {
	return setupFunc(func(s *setup) {
		if p != nil {
			s.policy = p
		}
	})
}

// WithTracerProvider sets the tracer provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) SetupOption {
	return setupFunc(func(s *setup) { s.tracerProvider = tp })
}

// WithPoolOptions configures the worker pool.
func WithPoolOptions(opts ...worker.Option) SetupOption {
	return setupFunc(func(s *setup) { s.poolOptions = append(s.poolOptions, opts...) })
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) SetupOption {
	return setupFunc(func(s *setup) { s.eventBuffer = n })
}

// WithExecuting enables or disables operation execution.
func WithExecuting(enabled bool) SetupOption {
	return setupFunc(func(s *setup) { s.executingEnabled = enabled })
}

// WithOptimization enables deduplication of optimized operations.
func WithOptimization(enabled bool) SetupOption {
	return setupFunc(func(s *setup) { s.optimizationEnabled = enabled })
}

// WithAfterCommitExecution enables processing right after commit.
func WithAfterCommitExecution(enabled bool) SetupOption {
	return setupFunc(func(s *setup) { s.afterCommitEnabled = enabled })
}
