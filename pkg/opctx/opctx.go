// Package opctx provides public access to the running operation for executors.
package opctx

import (
	"context"

	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	intctx "github.com/jdziat/simple-durable-ops/pkg/internal/context"
	"github.com/jdziat/simple-durable-ops/pkg/txn"
)

// OperationFromContext returns the operation being processed, or nil when
// not called from an executor.
func OperationFromContext(ctx context.Context) *core.Operation {
	oc := intctx.GetOperationContext(ctx)
	if oc == nil {
		return nil
	}
	return oc.Operation
}

// OperationIDFromContext returns the current operation id, or an empty string.
func OperationIDFromContext(ctx context.Context) string {
	op := OperationFromContext(ctx)
	if op == nil {
		return ""
	}
	return op.ID
}

// GroupIDFromContext returns the group of the current operation, or an empty string.
func GroupIDFromContext(ctx context.Context) string {
	op := OperationFromContext(ctx)
	if op == nil {
		return ""
	}
	return op.GroupID
}

// AttemptFromContext returns the attempt number being executed, starting at 1.
// Zero means not in an executor.
func AttemptFromContext(ctx context.Context) int {
	op := OperationFromContext(ctx)
	if op == nil {
		return 0
	}
	return op.AttemptCount
}

// PhaseFromContext returns "execute", "verify" or "rollback", or an empty string.
func PhaseFromContext(ctx context.Context) string {
	oc := intctx.GetOperationContext(ctx)
	if oc == nil {
		return ""
	}
	return oc.Phase
}

// Storage returns the storage bound to the current transaction, or nil.
func Storage(ctx context.Context) core.Storage {
	b := txn.FromContext(ctx)
	if b == nil {
		return nil
	}
	return b.Storage()
}

// DB returns the *gorm.DB of the current transaction so executors can write
// their own tables atomically with the operation's state change. It returns
// nil outside a transaction or when storage is not GORM-backed.
func DB(ctx context.Context) *gorm.DB {
	s, ok := Storage(ctx).(interface{ DB() *gorm.DB })
	if !ok {
		return nil
	}
	return s.DB().WithContext(ctx)
}
