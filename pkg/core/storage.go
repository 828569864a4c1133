package core

import (
	"context"
	"time"
)

// Storage defines the persistence layer for operations and groups.
//
// Update methods are compare-and-swap on Version: the stored row must carry
// the version held by the caller, the write bumps it by one and the caller's
// copy is updated. A mismatch returns ErrVersionConflict.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Transaction runs fn with a Storage bound to a single database
	// transaction. Returning an error rolls the transaction back.
	Transaction(ctx context.Context, fn func(tx Storage) error) error

	// Groups
	CreateGroup(ctx context.Context, group *OperationGroup) error
	GetGroup(ctx context.Context, groupID string) (*OperationGroup, error)
	UpdateGroup(ctx context.Context, group *OperationGroup) error
	GetProcessableGroups(ctx context.Context, createdBefore time.Time) ([]*OperationGroup, error)
	GetUncompletedGroups(ctx context.Context) ([]*OperationGroup, error)

	// Operations
	CreateOperation(ctx context.Context, op *Operation) error
	UpdateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, operationID string) (*Operation, error)
	GetOperations(ctx context.Context, operationIDs []string) ([]*Operation, error)
	GetGroupOperations(ctx context.Context, groupID string) ([]*Operation, error)
	GetSuccessorIDs(ctx context.Context, operationID string) ([]string, error)

	// Queries
	GetOperationIDsByExecutor(ctx context.Context, executorName string) ([]string, error)
	FindOperationsInGroup(ctx context.Context, groupID, executorName string) ([]*Operation, error)
	GetExecutorNamesWithUncompletedOperations(ctx context.Context) ([]string, error)

	// Scheduler locks
	AcquireLock(ctx context.Context, name, owner string, until time.Time) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string, keepUntil time.Time) error
}
