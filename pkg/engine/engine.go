// Package engine drives operation groups: it refreshes group statuses,
// resolves the next ready operation of each group and hands it to the worker
// pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/dag"
	"github.com/jdziat/simple-durable-ops/pkg/events"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
	"github.com/jdziat/simple-durable-ops/pkg/txn"
	"github.com/jdziat/simple-durable-ops/pkg/worker"
)

const tracerName = "github.com/jdziat/simple-durable-ops/pkg/engine"

// Unlimited disables the operation budget of a Window.
const Unlimited = -1

// Window bounds one engine pass.
type Window struct {
	// Deadline stops the pass between operations once passed. The zero
	// time means no deadline.
	Deadline time.Time

	// MaxOperations caps dispatched operations across all groups. Unlimited
	// means no cap; zero only refreshes group statuses.
	MaxOperations int
}

func (w Window) remaining(used int) int {
	if w.MaxOperations == Unlimited {
		return Unlimited
	}
	if left := w.MaxOperations - used; left > 0 {
		return left
	}
	return 0
}

func budgetSpent(budget, used int) bool {
	return budget != Unlimited && used >= budget
}

// Processor is the operation state machine the engine drives.
type Processor interface {
	worker.Processor
	SaveResult(ctx context.Context, operationID string, result core.ExecutionResult) (*core.Operation, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, op *core.Operation, done func()) bool
}

// Engine runs passes over processable groups.
type Engine struct {
	storage    core.Storage
	pool       *worker.Pool
	processor  Processor
	dispatcher dispatcher

	policy           *timing.Policy
	logger           *slog.Logger
	metrics          *metrics.Collector
	tracer           trace.Tracer
	broker           *events.Broker
	retry            worker.RetryConfig
	executingEnabled bool

	wg sync.WaitGroup
}

// New creates an Engine dispatching to pool. The engine refreshes a group's
// status after each of its operations was processed.
func New(s core.Storage, pool *worker.Pool, processor Processor, opts ...Option) *Engine {
	e := &Engine{
		storage:          s,
		pool:             pool,
		processor:        processor,
		policy:           timing.NewPolicy(0),
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		retry:            worker.DefaultRetryConfig(),
		executingEnabled: true,
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	if e.broker == nil {
		e.broker = events.NewBroker(0)
	}
	e.dispatcher = worker.NewDispatcher(pool, worker.NewClaimer(s), processor, e,
		worker.WithLogger(e.logger),
		worker.WithMetrics(e.metrics),
		worker.WithStorageRetry(e.retry),
	)
	return e
}

// ──────────────────────────────────────────────────────────────────────────────
// Passes
// ──────────────────────────────────────────────────────────────────────────────

// Run refreshes every processable group created before the grace window and
// dispatches ready operations until the window closes. It does not wait for
// dispatched operations. Errors for one group are logged and skipped.
func (e *Engine) Run(ctx context.Context, w Window) ([]string, error) {
	if !e.executingEnabled {
		e.logger.Warn("operation execution is disabled, pass skipped")
		return nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "ops.engine.run", trace.WithAttributes(
		attribute.Int("ops.max_operations", w.MaxOperations),
	))
	defer span.End()

	groups, err := e.storage.GetProcessableGroups(ctx, e.policy.EligibilityCutoff())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load processable groups: %w", err)
	}
	for _, g := range groups {
		if err := e.UpdateGroupStatus(ctx, g.ID); err != nil {
			e.logger.Error("failed to update group status", "group_id", g.ID, "error", err)
		}
	}

	var dispatched []string
	for _, g := range groups {
		if e.interrupted(ctx, w.Deadline) {
			e.logger.Warn("pass interrupted, group left for the next pass", "group_id", g.ID)
			break
		}
		budget := w.remaining(len(dispatched))
		if budget == 0 {
			break
		}
		ids, err := e.processGroup(ctx, g.ID, w.Deadline, nil, budget, nil)
		dispatched = append(dispatched, ids...)
		if err != nil {
			e.logger.Error("failed to process group", "group_id", g.ID, "error", err)
		}
	}
	if w.MaxOperations > 0 && budgetSpent(w.MaxOperations, len(dispatched)) {
		e.logger.Warn("operation budget reached", "dispatched", len(dispatched))
	}

	span.SetAttributes(attribute.Int("ops.dispatched", len(dispatched)))
	e.logger.Info("pass finished", "groups", len(groups), "dispatched", len(dispatched))
	return dispatched, nil
}

// RunSync repeats passes, waiting for the pool after each, until a pass
// dispatches nothing, the budget is spent or the deadline passes. A final
// refresh-only pass then settles group statuses.
func (e *Engine) RunSync(ctx context.Context, w Window) ([]string, error) {
	var all []string
	for {
		ids, err := e.Run(ctx, Window{Deadline: w.Deadline, MaxOperations: w.remaining(len(all))})
		all = append(all, ids...)
		if err != nil {
			return all, err
		}
		if err := e.pool.Drain(ctx); err != nil {
			return all, err
		}
		if len(ids) == 0 || budgetSpent(w.MaxOperations, len(all)) || e.interrupted(ctx, w.Deadline) {
			break
		}
	}

	if _, err := e.Run(ctx, Window{Deadline: w.Deadline, MaxOperations: 0}); err != nil {
		return all, err
	}
	return all, e.pool.Drain(ctx)
}

// ProcessGroup dispatches ready operations of one group that pass filter
// until none is left, budget operations were dispatched or deadline passes.
func (e *Engine) ProcessGroup(ctx context.Context, groupID string, deadline time.Time, filter Filter, budget int) ([]string, error) {
	return e.processGroup(ctx, groupID, deadline, filter, budget, nil)
}

// processGroup tracks every accepted operation in wg when wg is not nil.
func (e *Engine) processGroup(ctx context.Context, groupID string, deadline time.Time, filter Filter, budget int, wg *sync.WaitGroup) ([]string, error) {
	if !e.executingEnabled {
		e.logger.Warn("operation execution is disabled, group skipped", "group_id", groupID)
		return nil, nil
	}

	selected := make(map[string]bool)
	var dispatched []string
	for {
		if e.interrupted(ctx, deadline) {
			e.logger.Warn("group processing interrupted", "group_id", groupID)
			return dispatched, nil
		}
		if budgetSpent(budget, len(dispatched)) {
			return dispatched, nil
		}

		op, err := e.resolve(ctx, groupID, func(op *core.Operation) bool {
			return !selected[op.ID] && (filter == nil || filter(op))
		})
		if err != nil {
			return dispatched, err
		}
		if op == nil {
			e.logger.Debug("no ready operation in group", "group_id", groupID)
			return dispatched, nil
		}
		selected[op.ID] = true

		var done func()
		if wg != nil {
			wg.Add(1)
			done = wg.Done
		}
		if !e.dispatcher.Dispatch(ctx, op, done) {
			if wg != nil {
				wg.Done()
			}
			e.broker.Emit(&core.OperationRejected{OperationID: op.ID, GroupID: groupID, Timestamp: time.Now()})
			return dispatched, nil
		}
		e.broker.Emit(&core.OperationDispatched{OperationID: op.ID, GroupID: groupID, Timestamp: time.Now()})
		dispatched = append(dispatched, op.ID)
	}
}

// NextOperation returns the operation a pass would dispatch next from the
// group, or nil.
func (e *Engine) NextOperation(ctx context.Context, groupID string, filter Filter) (*core.Operation, error) {
	return e.resolve(ctx, groupID, filter)
}

func (e *Engine) resolve(ctx context.Context, groupID string, filter Filter) (*core.Operation, error) {
	group, err := e.storage.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.Status.IsAvailableForProcess() {
		e.logger.Debug("group not available for processing", "group_id", groupID, "status", group.Status)
		return nil, nil
	}
	ops, err := e.storage.GetGroupOperations(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return Resolve(group, ops, dag.Successors(ops), filter, e.policy), nil
}

func (e *Engine) interrupted(ctx context.Context, deadline time.Time) bool {
	return ctx.Err() != nil || e.policy.IsIterationLimitReached(deadline)
}

// ──────────────────────────────────────────────────────────────────────────────
// After-commit passes
// ──────────────────────────────────────────────────────────────────────────────

// TriggerAfterCommit starts ProcessAfterCommit in the background with a
// deadline one grace window away. Wait blocks until such passes finish.
func (e *Engine) TriggerAfterCommit(ctx context.Context, groupID string, operationIDs []string) {
	ctx = txn.Detach(context.WithoutCancel(ctx))
	ids := append([]string(nil), operationIDs...)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.ProcessAfterCommit(ctx, groupID, ids, e.policy.AfterCommitDeadline()); err != nil {
			e.logger.Error("after-commit pass failed", "group_id", groupID, "error", err)
		}
	}()
}

// ProcessAfterCommit runs the given operations of a freshly committed group
// without waiting for a periodic pass. Each round dispatches whatever is
// ready among them and waits for it, so dependent operations follow their
// predecessors within the same call.
func (e *Engine) ProcessAfterCommit(ctx context.Context, groupID string, operationIDs []string, deadline time.Time) ([]string, error) {
	wanted := make(map[string]bool, len(operationIDs))
	for _, id := range operationIDs {
		wanted[id] = true
	}
	filter := func(op *core.Operation) bool { return wanted[op.ID] }

	var all []string
	for !e.interrupted(ctx, deadline) {
		var wg sync.WaitGroup
		ids, err := e.processGroup(ctx, groupID, deadline, filter, Unlimited, &wg)
		wg.Wait()
		all = append(all, ids...)
		if err != nil {
			return all, err
		}
		if len(ids) == 0 {
			break
		}
	}
	return all, nil
}

// Wait blocks until background after-commit passes have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ──────────────────────────────────────────────────────────────────────────────
// Group status
// ──────────────────────────────────────────────────────────────────────────────

// UpdateGroupStatus recomputes a processable group's status from its
// operations. Concurrent updates are resolved by re-reading on version
// conflicts.
func (e *Engine) UpdateGroupStatus(ctx context.Context, groupID string) error {
	return worker.RetryWhen(ctx, e.retry, isVersionConflict, func() error {
		return e.refreshGroup(ctx, groupID)
	})
}

func isVersionConflict(err error) bool {
	return errors.Is(err, core.ErrVersionConflict)
}

func (e *Engine) refreshGroup(ctx context.Context, groupID string) error {
	s := e.storage
	if b := txn.FromContext(ctx); b != nil {
		s = b.Storage()
	}
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.Status.IsAvailableForProcess() {
		return nil
	}
	ops, err := s.GetGroupOperations(ctx, groupID)
	if err != nil {
		return err
	}

	status, comment, inconsistent := Aggregate(group, ops)
	if inconsistent {
		e.metrics.RecordGroupInconsistent()
		e.logger.Warn("group has an unexpected combination of operation statuses",
			"group_id", groupID, "statuses", statusesOf(ops))
	}
	if status == group.Status && comment == group.Comment {
		return nil
	}

	from := group.Status
	group.Status = status
	group.Comment = comment
	if err := s.UpdateGroup(ctx, group); err != nil {
		return err
	}

	e.metrics.RecordGroupStatus(status)
	if status == core.GroupFailed || status == core.GroupError {
		e.logger.Error("group status changed", "group_id", groupID, "from", from, "to", status, "comment", comment)
	} else {
		e.logger.Info("group status changed", "group_id", groupID, "from", from, "to", status)
	}
	e.broker.Emit(&core.GroupStatusChanged{GroupID: groupID, From: from, To: status, Comment: comment, Timestamp: time.Now()})
	return nil
}

func statusesOf(ops []*core.Operation) map[string]core.OperationStatus {
	out := make(map[string]core.OperationStatus, len(ops))
	for _, op := range ops {
		out[op.ID] = op.Status
	}
	return out
}

// UncompletedGroupIDs returns the ids of groups that are not COMPLETED.
func (e *Engine) UncompletedGroupIDs(ctx context.Context) ([]string, error) {
	groups, err := e.storage.GetUncompletedGroups(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// SaveResult records the outcome of an async operation and refreshes its group.
func (e *Engine) SaveResult(ctx context.Context, operationID string, result core.ExecutionResult) (*core.Operation, error) {
	op, err := e.processor.SaveResult(ctx, operationID, result)
	if err != nil {
		return nil, err
	}
	if err := e.UpdateGroupStatus(ctx, op.GroupID); err != nil {
		return op, fmt.Errorf("update group %s: %w", op.GroupID, err)
	}
	return op, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────────────────────────────────

// Events returns a channel receiving engine events. The caller must call
// Unsubscribe when done.
func (e *Engine) Events() <-chan core.Event {
	return e.broker.Subscribe()
}

// Unsubscribe removes a channel returned by Events.
func (e *Engine) Unsubscribe(ch <-chan core.Event) {
	e.broker.Unsubscribe(ch)
}

// Emit publishes an event to subscribers.
func (e *Engine) Emit(ev core.Event) {
	e.broker.Emit(ev)
}
