package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Configuration validation errors
var (
	ErrInvalidExecutorName = errors.New("ops: invalid executor name (must be alphanumeric, start with letter)")
	ErrExecutorNameTooLong = errors.New("ops: executor name too long")
	ErrExecutorNotFound    = errors.New("ops: executor not found")
	ErrMissingImportance   = errors.New("ops: importance is required")
	ErrInvalidKind         = errors.New("ops: unknown operation kind")
	ErrInvalidPriority     = errors.New("ops: priority must be between 0 and 10")
	ErrInvalidMaxAttempts  = errors.New("ops: max attempt count must be greater than 0")
	ErrInvalidRetryDelay   = errors.New("ops: retry delay must not be negative")
	ErrInvalidWaitTimeout  = errors.New("ops: wait response timeout must not be negative")
	ErrParamsTooLarge      = errors.New("ops: operation params exceed size limit")
	ErrOptimizedConflict   = errors.New("ops: optimized operation already enqueued with a different configuration")
	ErrDuplicateExecutor   = errors.New("ops: executor already registered")
)

// Graph validation errors
var (
	ErrCycleDetected                = errors.New("ops: dependency cycle detected")
	ErrCriticalDependsOnNonCritical = errors.New("ops: critical operation depends on a non-critical operation")
	ErrForeignPredecessor           = errors.New("ops: previous operation belongs to another group")
)

// Runtime errors
var (
	ErrOperationNotFound = errors.New("ops: operation not found")
	ErrGroupNotFound     = errors.New("ops: operation group not found")
	ErrVersionConflict   = errors.New("ops: version conflict")
	ErrInvalidTransition = errors.New("ops: operation state does not allow this transition")
	ErrInvalidResult     = errors.New("ops: unknown execution result")
	ErrNoUnitOfWork      = errors.New("ops: no unit of work in context")
	ErrPoolClosed        = errors.New("ops: worker pool closed")
)

// CycleError reports a dependency cycle. Chain starts and ends with the
// same operation id.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// CriticalDependencyError reports a critical operation with a non-critical
// transitive predecessor. Chain runs from OperationID to PreviousID.
type CriticalDependencyError struct {
	OperationID string
	PreviousID  string
	Chain       []string
}

func (e *CriticalDependencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCriticalDependsOnNonCritical, strings.Join(e.Chain, " -> "))
}

func (e *CriticalDependencyError) Unwrap() error {
	return ErrCriticalDependsOnNonCritical
}

// NoRetryError marks an executor error as terminal.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error so the processor fails the operation instead of
// scheduling another attempt.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError asks for the next attempt to wait at least Delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error so the next attempt is delayed by d.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
