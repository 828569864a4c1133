package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────────────────────────────────────────────────────────
// Status sets
// ──────────────────────────────────────────────────────────────────────────────

func TestOperationStatus_Sets(t *testing.T) {
	tests := []struct {
		status     OperationStatus
		completed  bool
		fatal      bool
		suspended  bool
		inProgress bool
		executable bool
	}{
		{StatusCreated, false, false, false, true, true},
		{StatusCanRetry, false, false, false, true, true},
		{StatusWaitResponse, false, false, false, true, false},
		{StatusVerification, false, false, false, true, false},
		{StatusSuccess, true, false, false, false, false},
		{StatusSkipped, true, false, false, false, false},
		{StatusRejected, true, false, false, false, false},
		{StatusFailed, false, true, false, false, false},
		{StatusExpired, false, true, false, false, false},
		{StatusReserved, false, false, true, false, false},
		{StatusInWork, false, false, false, false, false},
		{StatusRollbackSuccess, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.completed, tt.status.IsCompleted())
			assert.Equal(t, tt.fatal, tt.status.IsFatal())
			assert.Equal(t, tt.suspended, tt.status.IsSuspended())
			assert.Equal(t, tt.inProgress, tt.status.IsInProgress())
			assert.Equal(t, tt.executable, tt.status.IsExecutable())
		})
	}
}

func TestOperationStatus_IsClaimed(t *testing.T) {
	assert.True(t, StatusInWork.IsClaimed())
	assert.True(t, StatusVerificationInWork.IsClaimed())
	assert.True(t, StatusRollbackInWork.IsClaimed())
	assert.False(t, StatusCreated.IsClaimed())
}

func TestGroupStatus_IsAvailableForProcess(t *testing.T) {
	assert.True(t, GroupCreated.IsAvailableForProcess())
	assert.True(t, GroupInProgress.IsAvailableForProcess())
	assert.True(t, GroupRollbackInProgress.IsAvailableForProcess())
	assert.False(t, GroupCompleted.IsAvailableForProcess())
	assert.False(t, GroupFailed.IsAvailableForProcess())
	assert.False(t, GroupError.IsAvailableForProcess())
	assert.False(t, GroupConditionallyCompleted.IsAvailableForProcess())
}

func TestOperationKind_OnlyAsyncRequestIsAsync(t *testing.T) {
	for _, k := range []OperationKind{KindLocalUpdate, KindPublishActualState, KindPublishDiffLog, KindSendMessage, KindSyncRequest} {
		assert.False(t, k.IsAsync(), k)
		assert.True(t, k.Valid(), k)
	}
	assert.True(t, KindAsyncRequest.IsAsync())
	assert.False(t, OperationKind("BATCH").Valid())
}

func TestParseExecutionResult(t *testing.T) {
	r, err := ParseExecutionResult("ATTEMPT_FAILED")
	require.NoError(t, err)
	assert.Equal(t, ResultAttemptFailed, r)

	_, err = ParseExecutionResult("DONE")
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestFailReason_Description(t *testing.T) {
	assert.Equal(t, "deadline reached", ReasonDeadlineReached.Description())
	assert.Equal(t, "UNKNOWN", FailReason("UNKNOWN").Description())
}

// ──────────────────────────────────────────────────────────────────────────────
// Operation helpers
// ──────────────────────────────────────────────────────────────────────────────

func TestOperation_RetryConfigRoundTrip(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	op := &Operation{Priority: 3, RetryDelay: time.Second, MaxAttemptCount: 2}

	rc := op.RetryConfig()
	rc.MaxAttemptCount = 7
	rc.Deadline = &deadline
	op.ApplyRetryConfig(rc)

	assert.Equal(t, 3, op.Priority)
	assert.Equal(t, 7, op.MaxAttemptCount)
	assert.Equal(t, &deadline, op.Deadline)
}

// ──────────────────────────────────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────────────────────────────────

func TestCycleError_FormatsChain(t *testing.T) {
	err := &CycleError{Chain: []string{"a", "b", "a"}}
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestCriticalDependencyError_Unwraps(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", &CriticalDependencyError{OperationID: "a", PreviousID: "b", Chain: []string{"a", "b"}})

	var cde *CriticalDependencyError
	require.True(t, errors.As(err, &cde))
	assert.Equal(t, "b", cde.PreviousID)
	assert.ErrorIs(t, err, ErrCriticalDependsOnNonCritical)
}

func TestNoRetry_Unwraps(t *testing.T) {
	base := errors.New("boom")
	err := NoRetry(base)

	var nre *NoRetryError
	assert.True(t, errors.As(err, &nre))
	assert.ErrorIs(t, err, base)
}

func TestRetryAfter_CarriesDelay(t *testing.T) {
	err := RetryAfter(3*time.Second, errors.New("busy"))

	var rae *RetryAfterError
	require.True(t, errors.As(err, &rae))
	assert.Equal(t, 3*time.Second, rae.Delay)
	assert.Contains(t, err.Error(), "retry after 3s")
}
