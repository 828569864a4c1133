package context

import (
	"context"
	"testing"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

func TestWithOperationContextAndGetOperationContext(t *testing.T) {
	t.Run("stores and retrieves operation context", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		op := &core.Operation{
			ID:           "op-123",
			ExecutorName: "send-mail",
		}
		oc := &OperationContext{
			Operation: op,
			Phase:     "execute",
		}

		// Act
		ctx := WithOperationContext(baseCtx, oc)
		retrieved := GetOperationContext(ctx)

		// Assert
		if retrieved == nil || retrieved.Operation == nil {
			t.Fatal("operation context or operation is nil")
		}
		if retrieved.Operation.ID != op.ID {
			t.Errorf("expected operation ID %q, got %q", op.ID, retrieved.Operation.ID)
		}
		if retrieved.Phase != "execute" {
			t.Errorf("expected phase %q, got %q", "execute", retrieved.Phase)
		}
	})

	t.Run("returns nil when not set", func(t *testing.T) {
		if oc := GetOperationContext(context.Background()); oc != nil {
			t.Errorf("expected nil, got %+v", oc)
		}
	})

	t.Run("returns nil for wrong value type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), OperationContextKey{}, "not-an-operation-context")
		if oc := GetOperationContext(ctx); oc != nil {
			t.Errorf("expected nil, got %+v", oc)
		}
	})

	t.Run("inner context shadows outer", func(t *testing.T) {
		outer := WithOperationContext(context.Background(), &OperationContext{Operation: &core.Operation{ID: "parent"}})
		inner := WithOperationContext(outer, &OperationContext{Operation: &core.Operation{ID: "child"}})

		if got := GetOperationContext(inner).Operation.ID; got != "child" {
			t.Errorf("expected child, got %q", got)
		}
		if got := GetOperationContext(outer).Operation.ID; got != "parent" {
			t.Errorf("expected parent, got %q", got)
		}
	})
}
