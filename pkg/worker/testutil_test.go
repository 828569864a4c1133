package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
)

func newTestStorage(t *testing.T) core.Storage {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createOperation(t *testing.T, s core.Storage, mutate func(*core.Operation)) *core.Operation {
	t.Helper()
	ctx := context.Background()
	g := &core.OperationGroup{}
	require.NoError(t, s.CreateGroup(ctx, g))
	op := &core.Operation{
		GroupID:         g.ID,
		ExecutorName:    "exec",
		Kind:            core.KindSyncRequest,
		Importance:      core.ImportanceCritical,
		Priority:        5,
		MaxAttemptCount: 1,
	}
	if mutate != nil {
		mutate(op)
	}
	require.NoError(t, s.CreateOperation(ctx, op))
	return op
}

const (
	timeout = time.Second
	tick    = time.Millisecond
)
