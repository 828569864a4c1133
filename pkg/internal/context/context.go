// Package context provides context helpers for operation execution.
package context

import (
	"context"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// OperationContextKey is the key for storing the operation context in context.Context.
type OperationContextKey struct{}

// OperationContext describes the operation a worker is processing.
type OperationContext struct {
	Operation *core.Operation
	// Phase is the step being run: execute, verify or rollback.
	Phase string
}

// GetOperationContext retrieves the operation context from a context.Context.
func GetOperationContext(ctx context.Context) *OperationContext {
	if oc, ok := ctx.Value(OperationContextKey{}).(*OperationContext); ok {
		return oc
	}
	return nil
}

// WithOperationContext adds the operation context to a context.Context.
func WithOperationContext(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, OperationContextKey{}, oc)
}
