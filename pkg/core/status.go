package core

// OperationStatus is a state of the operation lifecycle.
type OperationStatus string

const (
	StatusCreated            OperationStatus = "CREATED"
	StatusInWork             OperationStatus = "IN_WORK"
	StatusSuccess            OperationStatus = "SUCCESS"
	StatusCanRetry           OperationStatus = "CAN_RETRY"
	StatusReserved           OperationStatus = "RESERVED"
	StatusSkipped            OperationStatus = "SKIPPED"
	StatusRejected           OperationStatus = "REJECTED"
	StatusFailed             OperationStatus = "FAILED"
	StatusExpired            OperationStatus = "EXPIRED"
	StatusWaitResponse       OperationStatus = "WAIT_RESPONSE"
	StatusVerification       OperationStatus = "VERIFICATION"
	StatusVerificationInWork OperationStatus = "VERIFICATION_IN_WORK"
	StatusRollbackInWork     OperationStatus = "ROLLBACK_IN_WORK"
	StatusRollbackSuccess    OperationStatus = "ROLLBACK_SUCCESS"
	StatusRollbackFailed     OperationStatus = "ROLLBACK_FAILED"
)

// IsCompleted reports SUCCESS, SKIPPED and REJECTED.
func (s OperationStatus) IsCompleted() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusRejected:
		return true
	}
	return false
}

// IsFatal reports FAILED and EXPIRED.
func (s OperationStatus) IsFatal() bool {
	return s == StatusFailed || s == StatusExpired
}

// IsSuspended reports RESERVED.
func (s OperationStatus) IsSuspended() bool {
	return s == StatusReserved
}

// IsInProgress reports statuses the engine will still act on.
func (s OperationStatus) IsInProgress() bool {
	switch s {
	case StatusCreated, StatusCanRetry, StatusWaitResponse, StatusVerification:
		return true
	}
	return false
}

// IsExecutable reports statuses from which a new attempt may start.
func (s OperationStatus) IsExecutable() bool {
	return s == StatusCreated || s == StatusCanRetry
}

// IsClaimed reports statuses held by a worker.
func (s OperationStatus) IsClaimed() bool {
	switch s {
	case StatusInWork, StatusVerificationInWork, StatusRollbackInWork:
		return true
	}
	return false
}

// IsTerminal reports statuses the operation never leaves except through rollback.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusRejected, StatusFailed, StatusExpired,
		StatusRollbackSuccess, StatusRollbackFailed:
		return true
	}
	return false
}

// GroupStatus is the derived state of an operation group.
type GroupStatus string

const (
	GroupCreated                GroupStatus = "CREATED"
	GroupInProgress             GroupStatus = "IN_PROGRESS"
	GroupConditionallyCompleted GroupStatus = "CONDITIONALLY_COMPLETED"
	GroupCompleted              GroupStatus = "COMPLETED"
	GroupFailed                 GroupStatus = "FAILED"
	GroupRollbackInProgress     GroupStatus = "ROLLBACK_IN_PROGRESS"
	GroupRollbackCompleted      GroupStatus = "ROLLBACK_COMPLETED"
	GroupError                  GroupStatus = "ERROR"
)

// ProcessableGroupStatuses are the statuses the engine picks groups from.
var ProcessableGroupStatuses = []GroupStatus{GroupCreated, GroupInProgress, GroupRollbackInProgress}

// IsAvailableForProcess reports whether the engine may run operations of the group.
func (s GroupStatus) IsAvailableForProcess() bool {
	for _, st := range ProcessableGroupStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Importance decides how a terminal failure affects the group.
type Importance string

const (
	ImportanceCritical Importance = "CRITICAL"
	ImportanceRequired Importance = "REQUIRED"
	ImportanceOptional Importance = "OPTIONAL"
)

// Valid reports whether i is a known importance.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceCritical, ImportanceRequired, ImportanceOptional:
		return true
	}
	return false
}

// RollbackType declares whether an operation can be undone.
type RollbackType string

const (
	RollbackUnsupported RollbackType = "UNSUPPORTED"
	RollbackSupported   RollbackType = "ROLLBACK"
)

// OperationKind classifies what an executor does.
type OperationKind string

const (
	KindLocalUpdate        OperationKind = "LOCAL_UPDATE"
	KindPublishActualState OperationKind = "PUBLISH_ACTUAL_STATE"
	KindPublishDiffLog     OperationKind = "PUBLISH_DIFF_LOG"
	KindSendMessage        OperationKind = "SEND_MESSAGE"
	KindSyncRequest        OperationKind = "SYNC_REQUEST"
	KindAsyncRequest       OperationKind = "ASYNC_REQUEST"
)

// IsAsync reports whether the kind waits for an external result.
func (k OperationKind) IsAsync() bool {
	return k == KindAsyncRequest
}

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool {
	switch k {
	case KindLocalUpdate, KindPublishActualState, KindPublishDiffLog,
		KindSendMessage, KindSyncRequest, KindAsyncRequest:
		return true
	}
	return false
}

// ExecutionResult is what execute, verify and rollback hooks report.
type ExecutionResult string

const (
	ResultSuccess         ExecutionResult = "SUCCESS"
	ResultAttemptFailed   ExecutionResult = "ATTEMPT_FAILED"
	ResultFail            ExecutionResult = "FAIL"
	ResultRollbackSuccess ExecutionResult = "ROLLBACK_SUCCESS"
	ResultRollbackFail    ExecutionResult = "ROLLBACK_FAIL"
)

// ParseExecutionResult parses a result name as accepted from external callers.
func ParseExecutionResult(s string) (ExecutionResult, error) {
	switch r := ExecutionResult(s); r {
	case ResultSuccess, ResultAttemptFailed, ResultFail, ResultRollbackSuccess, ResultRollbackFail:
		return r, nil
	}
	return "", ErrInvalidResult
}

// FailReason explains why an attempt or an operation failed.
type FailReason string

const (
	ReasonAttemptsLimitReached       FailReason = "ATTEMPTS_LIMIT_REACHED"
	ReasonDeadlineReached            FailReason = "DEADLINE_REACHED"
	ReasonResponseWaitTimeoutReached FailReason = "RESPONSE_WAIT_TIMEOUT_REACHED"
	ReasonFailedExecution            FailReason = "FAILED_EXECUTION"
	ReasonPreviousReserved           FailReason = "PREVIOUS_RESERVED"
	ReasonExecutionError             FailReason = "EXECUTION_ERROR"
	ReasonExecutorNotFound           FailReason = "EXECUTOR_NOT_FOUND"
	ReasonVerificationUnsupported    FailReason = "EXECUTOR_NOT_SUPPORTS_VERIFICATION"
	ReasonVerificationFailed         FailReason = "VERIFICATION_FAILED"
	ReasonVerificationError          FailReason = "VERIFICATION_ERROR"
)

var failReasonDescriptions = map[FailReason]string{
	ReasonAttemptsLimitReached:       "attempts limit reached",
	ReasonDeadlineReached:            "deadline reached",
	ReasonResponseWaitTimeoutReached: "response wait timeout reached",
	ReasonFailedExecution:            "execution failed",
	ReasonPreviousReserved:           "a previous operation is reserved",
	ReasonExecutionError:             "execution error",
	ReasonExecutorNotFound:           "executor not found",
	ReasonVerificationUnsupported:    "executor does not support verification",
	ReasonVerificationFailed:         "verification failed",
	ReasonVerificationError:          "verification error",
}

// Description returns a human readable explanation of the reason.
func (r FailReason) Description() string {
	if d, ok := failReasonDescriptions[r]; ok {
		return d
	}
	return string(r)
}
