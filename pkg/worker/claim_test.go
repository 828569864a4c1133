package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

func TestClaimStatus(t *testing.T) {
	tests := []struct {
		status   core.OperationStatus
		rollback core.RollbackType
		want     core.OperationStatus
		ok       bool
	}{
		{core.StatusCreated, core.RollbackUnsupported, core.StatusInWork, true},
		{core.StatusCanRetry, core.RollbackUnsupported, core.StatusInWork, true},
		{core.StatusVerification, core.RollbackUnsupported, core.StatusVerificationInWork, true},
		{core.StatusWaitResponse, core.RollbackUnsupported, core.StatusWaitResponse, true},
		{core.StatusSuccess, core.RollbackSupported, core.StatusRollbackInWork, true},
		{core.StatusFailed, core.RollbackSupported, core.StatusRollbackInWork, true},
		{core.StatusExpired, core.RollbackSupported, core.StatusRollbackInWork, true},
		{core.StatusSuccess, core.RollbackUnsupported, "", false},
		{core.StatusInWork, core.RollbackUnsupported, "", false},
		{core.StatusSkipped, core.RollbackSupported, "", false},
		{core.StatusRollbackFailed, core.RollbackSupported, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+string(tt.rollback), func(t *testing.T) {
			got, ok := ClaimStatus(&core.Operation{Status: tt.status, RollbackType: tt.rollback})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaimer_ClaimMovesToInWork(t *testing.T) {
	s := newTestStorage(t)
	op := createOperation(t, s, nil)
	c := NewClaimer(s)

	claim, err := c.Claim(context.Background(), op.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, core.StatusCreated, claim.From)
	assert.Equal(t, core.StatusInWork, claim.Operation.Status)
	assert.Equal(t, int64(1), claim.Version)

	again, err := c.Claim(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Nil(t, again, "in-work operations are not claimable")
}

func TestClaimer_WaitResponseBumpsVersionOnly(t *testing.T) {
	s := newTestStorage(t)
	op := createOperation(t, s, func(o *core.Operation) {
		o.Kind = core.KindAsyncRequest
		o.Status = core.StatusWaitResponse
	})

	claim, err := NewClaimer(s).Claim(context.Background(), op.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)

	loaded, err := s.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusWaitResponse, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestClaimer_MissingOperation(t *testing.T) {
	s := newTestStorage(t)

	_, err := NewClaimer(s).Claim(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestClaimer_StaleVersionLoses(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	op := createOperation(t, s, nil)

	stale, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)

	claim, err := NewClaimer(s).Claim(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)

	stale.Status = core.StatusInWork
	assert.ErrorIs(t, s.UpdateOperation(ctx, stale), core.ErrVersionConflict)
}

func TestClaimer_ConcurrentClaimsOneWinner(t *testing.T) {
	s := newTestStorage(t)
	op := createOperation(t, s, nil)
	c := NewClaimer(s)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := c.Claim(context.Background(), op.ID)
			assert.NoError(t, err)
			if claim != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestClaimer_ReleaseRestoresStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	op := createOperation(t, s, func(o *core.Operation) { o.Status = core.StatusCanRetry })
	c := NewClaimer(s)

	claim, err := c.Claim(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)

	require.NoError(t, c.Release(ctx, claim))

	loaded, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCanRetry, loaded.Status)
}

func TestClaimer_ReleaseIgnoresMovedOperation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	op := createOperation(t, s, nil)
	c := NewClaimer(s)

	claim, err := c.Claim(ctx, op.ID)
	require.NoError(t, err)

	moved, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	moved.Status = core.StatusSuccess
	moved.LastExecutionAt = &now
	require.NoError(t, s.UpdateOperation(ctx, moved))

	require.NoError(t, c.Release(ctx, claim))

	loaded, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, loaded.Status)
}
