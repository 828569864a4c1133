// Package executor defines the contract between the engine and the code that
// performs an operation, plus a registry keyed by executor name.
package executor

import (
	"context"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Executor performs one kind of operation.
//
// Execute receives the operation's serialized params. It reports SUCCESS,
// ATTEMPT_FAILED or FAIL; a returned error counts as a failed attempt unless
// the error is wrapped with core.NoRetry or CanRetry rejects it.
type Executor interface {
	Name() string
	Kind() core.OperationKind
	Execute(ctx context.Context, params string) (core.ExecutionResult, error)
}

// Rollbacker undoes a completed or failed operation while its group rolls back.
// Rollback reports ROLLBACK_SUCCESS or ROLLBACK_FAIL.
type Rollbacker interface {
	Rollback(ctx context.Context, params string) (core.ExecutionResult, error)
}

// PreconditionChecker runs before every attempt. SUCCESS and FAIL are taken as
// the attempt's result without calling Execute; ATTEMPT_FAILED proceeds.
type PreconditionChecker interface {
	CheckPrecondition(ctx context.Context, params string) (core.ExecutionResult, error)
}

// Verifier confirms a successful execution in a later pass. An executor that
// implements it moves to VERIFICATION instead of SUCCESS.
type Verifier interface {
	Verify(ctx context.Context, params string) (core.ExecutionResult, error)
}

// RetryConfigurer may adjust retry settings after a failed attempt. Returning
// false keeps the current settings.
type RetryConfigurer interface {
	NewRetryConfig(current core.RetryConfig, op *core.Operation) (core.RetryConfig, bool)
}

// RetryClassifier decides whether an execution error is worth another attempt.
type RetryClassifier interface {
	CanRetry(err error) bool
}

// ParamsCodec serializes enqueue params. Executors without it get JSON.
type ParamsCodec interface {
	EncodeParams(params any) (string, error)
}

// SupportsVerification reports whether e implements Verifier.
func SupportsVerification(e Executor) bool {
	_, ok := e.(Verifier)
	return ok
}

// SupportsRollback reports whether e implements Rollbacker.
func SupportsRollback(e Executor) bool {
	_, ok := e.(Rollbacker)
	return ok
}

// CanRetry applies e's RetryClassifier, defaulting to true. Errors wrapped
// with core.NoRetry are never retried.
func CanRetry(e Executor, err error) bool {
	if isNoRetry(err) {
		return false
	}
	if c, ok := e.(RetryClassifier); ok {
		return c.CanRetry(err)
	}
	return true
}
