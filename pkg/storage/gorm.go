// Package storage provides storage implementations for the ops package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/security"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

var _ core.Storage = (*GormStorage)(nil)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying GORM handle. Inside Transaction it is the
// transaction handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.OperationGroup{},
		&core.Operation{},
		&core.OperationEdge{},
		&core.SchedulerLock{},
	)
}

// Transaction runs fn against a storage bound to one database transaction.
// Calling it on a storage that is already transactional opens a savepoint.
func (s *GormStorage) Transaction(ctx context.Context, fn func(tx core.Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStorage{db: tx})
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────────────────────────────────

// CreateGroup inserts a group, assigning an id and CREATED status when unset.
func (s *GormStorage) CreateGroup(ctx context.Context, group *core.OperationGroup) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.Status == "" {
		group.Status = core.GroupCreated
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.Description = security.SanitizeDescription(group.Description)
	return s.db.WithContext(ctx).Create(group).Error
}

// GetGroup loads a group by id.
func (s *GormStorage) GetGroup(ctx context.Context, groupID string) (*core.OperationGroup, error) {
	var group core.OperationGroup
	err := s.db.WithContext(ctx).Where("id = ?", groupID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrGroupNotFound, groupID)
		}
		return nil, err
	}
	return &group, nil
}

// UpdateGroup persists the mutable group fields guarded by the version.
func (s *GormStorage) UpdateGroup(ctx context.Context, group *core.OperationGroup) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&core.OperationGroup{}).
		Where("id = ? AND version = ?", group.ID, group.Version).
		Updates(map[string]any{
			"description": security.SanitizeDescription(group.Description),
			"comment":     security.SanitizeComment(group.Comment),
			"status":      group.Status,
			"updated_at":  now,
			"version":     group.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: group %s", core.ErrVersionConflict, group.ID)
	}
	group.Version++
	group.UpdatedAt = now
	return nil
}

// GetProcessableGroups returns groups the engine may process that were
// created at or before createdBefore, oldest first.
func (s *GormStorage) GetProcessableGroups(ctx context.Context, createdBefore time.Time) ([]*core.OperationGroup, error) {
	var groups []*core.OperationGroup
	err := s.db.WithContext(ctx).
		Where("status IN ?", core.ProcessableGroupStatuses).
		Where("created_at <= ?", createdBefore.UTC()).
		Order("created_at ASC, id ASC").
		Find(&groups).Error
	return groups, err
}

// GetUncompletedGroups returns every group whose status is not COMPLETED.
func (s *GormStorage) GetUncompletedGroups(ctx context.Context) ([]*core.OperationGroup, error) {
	var groups []*core.OperationGroup
	err := s.db.WithContext(ctx).
		Where("status <> ?", core.GroupCompleted).
		Order("created_at ASC, id ASC").
		Find(&groups).Error
	return groups, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// CreateOperation inserts an operation together with its predecessor edges.
func (s *GormStorage) CreateOperation(ctx context.Context, op *core.Operation) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Status == "" {
		op.Status = core.StatusCreated
	}
	if op.RollbackType == "" {
		op.RollbackType = core.RollbackUnsupported
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.Comment = security.SanitizeComment(op.Comment)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(op).Error; err != nil {
			return err
		}
		if len(op.Previous) == 0 {
			return nil
		}
		edges := make([]core.OperationEdge, 0, len(op.Previous))
		for _, prev := range op.Previous {
			edges = append(edges, core.OperationEdge{OperationID: op.ID, PreviousID: prev})
		}
		return tx.Create(&edges).Error
	})
}

// UpdateOperation persists the runtime and retry fields of op if the stored
// version still equals op.Version. Zero rows affected is ErrVersionConflict.
func (s *GormStorage) UpdateOperation(ctx context.Context, op *core.Operation) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&core.Operation{}).
		Where("id = ? AND version = ?", op.ID, op.Version).
		Updates(map[string]any{
			"status":                op.Status,
			"execution_result":      op.ExecutionResult,
			"attempt_count":         op.AttemptCount,
			"last_execution_at":     op.LastExecutionAt,
			"comment":               security.SanitizeComment(op.Comment),
			"priority":              op.Priority,
			"max_attempt_count":     op.MaxAttemptCount,
			"retry_delay":           op.RetryDelay,
			"wait_response_timeout": op.WaitResponseTimeout,
			"deadline":              op.Deadline,
			"description":           op.Description,
			"updated_at":            now,
			"version":               op.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: operation %s", core.ErrVersionConflict, op.ID)
	}
	op.Version++
	op.UpdatedAt = now
	return nil
}

// GetOperation loads an operation with its predecessor ids.
func (s *GormStorage) GetOperation(ctx context.Context, operationID string) (*core.Operation, error) {
	var op core.Operation
	err := s.db.WithContext(ctx).Where("id = ?", operationID).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrOperationNotFound, operationID)
		}
		return nil, err
	}
	if err := s.loadPrevious(ctx, []*core.Operation{&op}); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperations loads every requested operation or fails with
// ErrOperationNotFound naming the first missing id.
func (s *GormStorage) GetOperations(ctx context.Context, operationIDs []string) ([]*core.Operation, error) {
	if len(operationIDs) == 0 {
		return nil, nil
	}
	var ops []*core.Operation
	if err := s.db.WithContext(ctx).Where("id IN ?", operationIDs).Order("id ASC").Find(&ops).Error; err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(ops))
	for _, op := range ops {
		found[op.ID] = true
	}
	for _, id := range operationIDs {
		if !found[id] {
			return nil, fmt.Errorf("%w: %s", core.ErrOperationNotFound, id)
		}
	}
	if err := s.loadPrevious(ctx, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetGroupOperations loads all operations of a group ordered by id.
func (s *GormStorage) GetGroupOperations(ctx context.Context, groupID string) ([]*core.Operation, error) {
	var ops []*core.Operation
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id ASC").Find(&ops).Error; err != nil {
		return nil, err
	}
	if err := s.loadPrevious(ctx, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetSuccessorIDs returns the ids of operations that depend on operationID.
func (s *GormStorage) GetSuccessorIDs(ctx context.Context, operationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&core.OperationEdge{}).
		Where("previous_id = ?", operationID).
		Order("operation_id ASC").
		Pluck("operation_id", &ids).Error
	return ids, err
}

func (s *GormStorage) loadPrevious(ctx context.Context, ops []*core.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	byID := make(map[string]*core.Operation, len(ops))
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		op.Previous = nil
		byID[op.ID] = op
		ids = append(ids, op.ID)
	}
	var edges []core.OperationEdge
	if err := s.db.WithContext(ctx).Where("operation_id IN ?", ids).Find(&edges).Error; err != nil {
		return err
	}
	for _, e := range edges {
		op := byID[e.OperationID]
		op.Previous = append(op.Previous, e.PreviousID)
	}
	for _, op := range ops {
		sort.Strings(op.Previous)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// GetOperationIDsByExecutor returns ids of all operations routed to an executor.
func (s *GormStorage) GetOperationIDsByExecutor(ctx context.Context, executorName string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&core.Operation{}).
		Where("executor_name = ?", executorName).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// FindOperationsInGroup returns the operations of the group routed to
// executorName, oldest first.
func (s *GormStorage) FindOperationsInGroup(ctx context.Context, groupID, executorName string) ([]*core.Operation, error) {
	var ops []*core.Operation
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND executor_name = ?", groupID, executorName).
		Order("created_at ASC, id ASC").
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	if err := s.loadPrevious(ctx, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetExecutorNamesWithUncompletedOperations lists executors that still have
// operations outside a terminal status.
func (s *GormStorage) GetExecutorNamesWithUncompletedOperations(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&core.Operation{}).
		Distinct("executor_name").
		Where("status NOT IN ?", terminalStatuses).
		Order("executor_name ASC").
		Pluck("executor_name", &names).Error
	return names, err
}

var terminalStatuses = []core.OperationStatus{
	core.StatusSuccess, core.StatusSkipped, core.StatusRejected,
	core.StatusFailed, core.StatusExpired,
	core.StatusRollbackSuccess, core.StatusRollbackFailed,
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler locks
// ──────────────────────────────────────────────────────────────────────────────

// AcquireLock takes the named lock for owner until the given time. It
// succeeds when the lock is free, expired or already held by owner.
func (s *GormStorage) AcquireLock(ctx context.Context, name, owner string, until time.Time) (bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&core.SchedulerLock{}).
		Where("name = ? AND (locked_until <= ? OR locked_by = ?)", name, now, owner).
		Updates(map[string]any{
			"locked_by":    owner,
			"locked_at":    now,
			"locked_until": until.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	lock := core.SchedulerLock{Name: name, LockedBy: owner, LockedAt: now, LockedUntil: until.UTC()}
	result = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lock)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseLock shortens a lock held by owner so it expires at keepUntil.
func (s *GormStorage) ReleaseLock(ctx context.Context, name, owner string, keepUntil time.Time) error {
	return s.db.WithContext(ctx).
		Model(&core.SchedulerLock{}).
		Where("name = ? AND locked_by = ?", name, owner).
		Update("locked_until", keepUntil.UTC()).Error
}
