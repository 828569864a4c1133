package enqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/dag"
	"github.com/jdziat/simple-durable-ops/pkg/executor"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/opctx"
	"github.com/jdziat/simple-durable-ops/pkg/security"
	"github.com/jdziat/simple-durable-ops/pkg/txn"
)

// AfterCommitTrigger starts processing of freshly committed operations.
type AfterCommitTrigger interface {
	TriggerAfterCommit(ctx context.Context, groupID string, operationIDs []string)
}

// Manager enqueues operations into the group of the current transaction.
type Manager struct {
	storage  core.Storage
	registry *executor.Registry
	trigger  AfterCommitTrigger
	logger   *slog.Logger
	metrics  *metrics.Collector
	emit     func(core.Event)

	optimizationEnabled bool
	afterCommitEnabled  bool
}

// NewManager creates a Manager.
func NewManager(s core.Storage, registry *executor.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage:            s,
		registry:           registry,
		logger:             slog.Default(),
		afterCommitEnabled: true,
	}
	for _, opt := range opts {
		opt.applyManager(m)
	}
	return m
}

// Do runs fn in a transaction with the Unit of that transaction. Nested
// calls join the outer transaction and share its Unit. A Unit opened while
// an operation executes gets a new group linked to that operation.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	return txn.Run(ctx, m.storage, func(ctx context.Context, _ core.Storage) error {
		return fn(ctx, m.unit(ctx, txn.FromContext(ctx)))
	})
}

func (m *Manager) unit(ctx context.Context, b *txn.Boundary) *Unit {
	if u, ok := b.Attached(unitKey{}).(*Unit); ok {
		return u
	}
	u := newUnit(opctx.OperationIDFromContext(ctx))
	b.Attach(unitKey{}, u)
	return u
}

func (m *Manager) current(ctx context.Context) (*txn.Boundary, *Unit, error) {
	b := txn.FromContext(ctx)
	if b == nil {
		return nil, nil, core.ErrNoUnitOfWork
	}
	return b, m.unit(ctx, b), nil
}

// Enqueue validates and persists an operation in the current transaction.
// ctx must come from Do or another transaction boundary.
func (m *Manager) Enqueue(ctx context.Context, executorName string, params any, opts ...Option) (*core.Operation, error) {
	b, u, err := m.current(ctx)
	if err != nil {
		return nil, err
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	exec, err := m.validate(executorName, options)
	if err != nil {
		return nil, err
	}
	encoded, err := executor.EncodeParams(exec, params)
	if err != nil {
		return nil, err
	}

	optimize := options.Optimized && m.optimizationEnabled
	if optimize {
		if existing := u.cached(executorName, encoded); existing != nil {
			if !options.sameSettings(existing) {
				return nil, fmt.Errorf("%w: executor %s", core.ErrOptimizedConflict, executorName)
			}
			m.logger.Info("operation already enqueued, reusing it", "executor", executorName, "operation_id", existing.ID)
			m.armAfterCommit(b, u, existing.ID, options)
			return existing, nil
		}
	}

	tx := b.Storage()
	groupID, err := m.ensureGroup(ctx, tx, u)
	if err != nil {
		return nil, err
	}

	op := &core.Operation{
		ID:                  uuid.New().String(),
		GroupID:             groupID,
		RelatedEntityID:     options.RelatedEntityID,
		Description:         security.SanitizeDescription(options.Description),
		ExecutorName:        executorName,
		Kind:                exec.Kind(),
		Params:              encoded,
		Importance:          options.Importance,
		RollbackType:        core.RollbackUnsupported,
		Priority:            options.Priority,
		MaxAttemptCount:     options.MaxAttemptCount,
		RetryDelay:          options.RetryDelay,
		WaitResponseTimeout: options.WaitResponseTimeout,
		Deadline:            options.Deadline,
		Status:              core.StatusCreated,
		Previous:            dedupe(options.Previous),
	}
	if executor.SupportsRollback(exec) {
		op.RollbackType = core.RollbackSupported
	}

	if err := m.checkGraph(ctx, tx, op); err != nil {
		return nil, err
	}
	if err := tx.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}

	if optimize {
		u.cache(op)
	}
	m.armAfterCommit(b, u, op.ID, options)

	snapshot := *op
	b.AfterCommit(func(context.Context) {
		m.metrics.RecordEnqueued()
		if m.emit != nil {
			m.emit(&core.OperationEnqueued{Operation: &snapshot, Timestamp: time.Now()})
		}
	})
	m.logger.Info("operation enqueued", "operation_id", op.ID, "group_id", groupID, "executor", executorName)
	return op, nil
}

func (m *Manager) validate(executorName string, o *Options) (executor.Executor, error) {
	if err := security.ValidateExecutorName(executorName); err != nil {
		return nil, err
	}
	exec, err := m.registry.Lookup(executorName)
	if err != nil {
		return nil, err
	}
	if !o.Importance.Valid() {
		return nil, core.ErrMissingImportance
	}
	if err := security.ValidatePriority(o.Priority); err != nil {
		return nil, err
	}
	if err := security.ValidateMaxAttempts(o.MaxAttemptCount); err != nil {
		return nil, err
	}
	if err := security.ValidateRetryDelay(o.RetryDelay); err != nil {
		return nil, err
	}
	if err := security.ValidateWaitTimeout(o.WaitResponseTimeout); err != nil {
		return nil, err
	}
	return exec, nil
}

// checkGraph resolves op's predecessors and validates the group graph with
// op added.
func (m *Manager) checkGraph(ctx context.Context, tx core.Storage, op *core.Operation) error {
	if len(op.Previous) > 0 {
		previous, err := tx.GetOperations(ctx, op.Previous)
		if err != nil {
			return err
		}
		for _, prev := range previous {
			if prev.GroupID != op.GroupID {
				return fmt.Errorf("%w: %s", core.ErrForeignPredecessor, prev.ID)
			}
		}
	}

	ops, err := tx.GetGroupOperations(ctx, op.GroupID)
	if err != nil {
		return err
	}
	return dag.Validate(append(ops, op))
}

func (m *Manager) armAfterCommit(b *txn.Boundary, u *Unit, operationID string, o *Options) {
	if !o.ExecuteAfterCommit || !m.afterCommitEnabled || m.trigger == nil {
		return
	}
	if !u.addAfterCommit(operationID) {
		return
	}
	b.AfterCommit(func(ctx context.Context) {
		m.trigger.TriggerAfterCommit(ctx, u.GroupID(), u.AfterCommitIDs())
	})
}

func (m *Manager) ensureGroup(ctx context.Context, tx core.Storage, u *Unit) (string, error) {
	if id := u.GroupID(); id != "" {
		return id, nil
	}
	g := &core.OperationGroup{
		ID:                uuid.New().String(),
		Status:            core.GroupCreated,
		ParentOperationID: u.parentOperationID,
	}
	if err := tx.CreateGroup(ctx, g); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	u.mu.Lock()
	u.groupID = g.ID
	u.mu.Unlock()
	m.logger.Debug("operation group created", "group_id", g.ID, "parent_operation_id", u.ParentOperationID())
	return g.ID, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Group queries
// ──────────────────────────────────────────────────────────────────────────────

// CurrentGroupID returns the group of the current transaction, creating it
// when nothing was enqueued yet.
func (m *Manager) CurrentGroupID(ctx context.Context) (string, error) {
	b, u, err := m.current(ctx)
	if err != nil {
		return "", err
	}
	return m.ensureGroup(ctx, b.Storage(), u)
}

// AddDescription appends message to the description of the current group.
func (m *Manager) AddDescription(ctx context.Context, message string) error {
	b, u, err := m.current(ctx)
	if err != nil {
		return err
	}
	tx := b.Storage()
	groupID, err := m.ensureGroup(ctx, tx, u)
	if err != nil {
		return err
	}
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Description == "" {
		g.Description = message
	} else {
		g.Description += ";\n" + message
	}
	return tx.UpdateGroup(ctx, g)
}

// FindInCurrentGroup returns the operations of the current group routed to
// executorName, oldest first.
func (m *Manager) FindInCurrentGroup(ctx context.Context, executorName string) ([]*core.Operation, error) {
	b, u, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	groupID := u.GroupID()
	if groupID == "" {
		return nil, nil
	}
	return b.Storage().FindOperationsInGroup(ctx, groupID, executorName)
}

// FindInGroup returns the operations of a group routed to executorName,
// oldest first.
func (m *Manager) FindInGroup(ctx context.Context, groupID, executorName string) ([]*core.Operation, error) {
	return m.storageFor(ctx).FindOperationsInGroup(ctx, groupID, executorName)
}

// OperationIDsByExecutor lists every operation routed to executorName.
func (m *Manager) OperationIDsByExecutor(ctx context.Context, executorName string) ([]string, error) {
	return m.storageFor(ctx).GetOperationIDsByExecutor(ctx, executorName)
}

// ExecutorsWithPendingOperations lists executors that still have operations
// to finish.
func (m *Manager) ExecutorsWithPendingOperations(ctx context.Context) ([]string, error) {
	return m.storageFor(ctx).GetExecutorNamesWithUncompletedOperations(ctx)
}

func (m *Manager) storageFor(ctx context.Context) core.Storage {
	if b := txn.FromContext(ctx); b != nil {
		return b.Storage()
	}
	return m.storage
}
