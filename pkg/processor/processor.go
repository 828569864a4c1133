// Package processor implements the operation state machine: one call moves a
// claimed operation through execution, verification or rollback and stores
// the resulting state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/executor"
	intctx "github.com/jdziat/simple-durable-ops/pkg/internal/context"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/security"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
	"github.com/jdziat/simple-durable-ops/pkg/txn"
)

const tracerName = "github.com/jdziat/simple-durable-ops/pkg/processor"

// Phases reported to executors through opctx.PhaseFromContext.
const (
	PhaseExecute  = "execute"
	PhaseVerify   = "verify"
	PhaseRollback = "rollback"
)

// Processor runs one step of an operation's lifecycle.
type Processor struct {
	storage  core.Storage
	registry *executor.Registry
	policy   *timing.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.Collector
	emit     func(core.Event)
}

// New creates a Processor.
func New(s core.Storage, registry *executor.Registry, opts ...Option) *Processor {
	p := &Processor{
		storage:  s,
		registry: registry,
		policy:   timing.NewPolicy(0),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

// Process runs the step the claimed operation is in and stores the new
// state in the same transaction as the executor's own writes. Executor
// outcomes, errors and panics become operation states; only storage
// failures are returned.
func (p *Processor) Process(ctx context.Context, op *core.Operation) error {
	ctx, span := p.tracer.Start(ctx, "ops.process", trace.WithAttributes(
		attribute.String("ops.operation_id", op.ID),
		attribute.String("ops.group_id", op.GroupID),
		attribute.String("ops.executor", op.ExecutorName),
		attribute.String("ops.status", string(op.Status)),
	))
	defer span.End()

	start := time.Now()
	from := op.Status
	err := txn.Run(ctx, p.storage, func(ctx context.Context, tx core.Storage) error {
		if err := p.step(ctx, tx, op); err != nil {
			return err
		}
		return tx.UpdateOperation(ctx, op)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("process operation %s: %w", op.ID, err)
	}

	span.SetAttributes(attribute.String("ops.new_status", string(op.Status)))
	p.processed(op, from, time.Since(start))
	return nil
}

// SaveResult applies an externally reported result to an async operation
// waiting for it.
func (p *Processor) SaveResult(ctx context.Context, operationID string, result core.ExecutionResult) (*core.Operation, error) {
	var (
		op   *core.Operation
		from core.OperationStatus
	)
	start := time.Now()
	err := txn.Run(ctx, p.storage, func(ctx context.Context, tx core.Storage) error {
		var err error
		op, err = tx.GetOperation(ctx, operationID)
		if err != nil {
			return err
		}
		if !op.IsAsync() || op.Status != core.StatusWaitResponse {
			return fmt.Errorf("%w: operation %s is %s %s", core.ErrInvalidTransition, op.ID, op.Kind, op.Status)
		}
		from = op.Status
		exec, _ := p.registry.Lookup(op.ExecutorName)

		switch {
		case p.policy.IsResponseWaitExpired(op.LastExecutionAt, op.WaitResponseTimeout):
			p.failAttempt(op, exec, core.ReasonResponseWaitTimeoutReached, nil)
		case result == core.ResultSuccess:
			p.markExecuted(op)
		case result == core.ResultAttemptFailed:
			p.failAttempt(op, exec, core.ReasonFailedExecution, nil)
		case result == core.ResultFail:
			p.fail(op, core.ReasonFailedExecution, nil)
		default:
			return fmt.Errorf("%w: %q", core.ErrInvalidResult, result)
		}
		return tx.UpdateOperation(ctx, op)
	})
	if err != nil {
		return nil, err
	}
	p.processed(op, from, time.Since(start))
	return op, nil
}

func (p *Processor) processed(op *core.Operation, from core.OperationStatus, d time.Duration) {
	p.metrics.RecordProcessed(op.Status, d)
	p.logger.Info("operation processed",
		"operation_id", op.ID, "from", from, "to", op.Status, "attempt", op.AttemptCount)
	if p.emit != nil {
		snapshot := *op
		p.emit(&core.OperationProcessed{Operation: &snapshot, Previous: from, Duration: d, Timestamp: time.Now()})
	}
}

// step mutates op in memory. It returns only storage errors.
func (p *Processor) step(ctx context.Context, tx core.Storage, op *core.Operation) error {
	exec, lookupErr := p.registry.Lookup(op.ExecutorName)

	if op.Status == core.StatusRollbackInWork {
		p.rollback(ctx, op, exec, lookupErr)
		return nil
	}
	if lookupErr != nil {
		p.fail(op, core.ReasonExecutorNotFound, lookupErr)
		return nil
	}
	if p.policy.IsDeadlineReached(op.Deadline) {
		p.fail(op, core.ReasonDeadlineReached, nil)
		return nil
	}
	if op.Status == core.StatusWaitResponse {
		if p.policy.IsResponseWaitExpired(op.LastExecutionAt, timing.EffectiveWaitTimeout(op.WaitResponseTimeout)) {
			p.failAttempt(op, exec, core.ReasonResponseWaitTimeoutReached, nil)
		}
		return nil
	}
	if len(op.Previous) > 0 {
		previous, err := tx.GetOperations(ctx, op.Previous)
		if err != nil {
			return err
		}
		for _, prev := range previous {
			if prev.Status.IsSuspended() {
				p.fail(op, core.ReasonPreviousReserved, fmt.Errorf("previous operation %s is %s", prev.ID, prev.Status))
				return nil
			}
		}
	}
	if op.Status == core.StatusVerificationInWork {
		p.verify(ctx, op, exec)
		return nil
	}
	p.attempt(ctx, op, exec)
	return nil
}

func (p *Processor) attempt(ctx context.Context, op *core.Operation, exec executor.Executor) {
	if op.AttemptCount >= op.MaxAttemptCount {
		p.fail(op, core.ReasonAttemptsLimitReached, nil)
		return
	}

	now := p.policy.Clock()
	op.AttemptCount++
	op.LastExecutionAt = &now

	result, err := p.invoke(ctx, op, PhaseExecute, func(ctx context.Context, params string) (core.ExecutionResult, error) {
		if pc, ok := exec.(executor.PreconditionChecker); ok {
			r, err := pc.CheckPrecondition(ctx, params)
			if err != nil {
				return r, err
			}
			switch r {
			case core.ResultSuccess, core.ResultFail:
				p.logger.Warn("precondition decided the attempt", "operation_id", op.ID, "result", r)
				return r, nil
			case core.ResultAttemptFailed:
			default:
				return r, fmt.Errorf("%w: precondition returned %q", core.ErrInvalidResult, r)
			}
		}
		return exec.Execute(ctx, params)
	})
	if err != nil {
		p.handleError(op, exec, core.ReasonExecutionError, err)
		return
	}

	switch result {
	case core.ResultSuccess:
		switch {
		case op.IsAsync():
			op.Status = core.StatusWaitResponse
			op.ExecutionResult = core.ResultSuccess
		case executor.SupportsVerification(exec):
			op.Status = core.StatusVerification
			op.ExecutionResult = core.ResultSuccess
		default:
			p.markExecuted(op)
		}
	case core.ResultAttemptFailed:
		p.failAttempt(op, exec, core.ReasonFailedExecution, nil)
	case core.ResultFail:
		p.fail(op, core.ReasonFailedExecution, nil)
	default:
		p.handleError(op, exec, core.ReasonExecutionError, fmt.Errorf("%w: %q", core.ErrInvalidResult, result))
	}
}

func (p *Processor) verify(ctx context.Context, op *core.Operation, exec executor.Executor) {
	v, ok := exec.(executor.Verifier)
	if !ok {
		p.fail(op, core.ReasonVerificationUnsupported, nil)
		return
	}

	result, err := p.invoke(ctx, op, PhaseVerify, v.Verify)
	if err != nil {
		p.handleError(op, exec, core.ReasonVerificationError, err)
		return
	}

	switch result {
	case core.ResultSuccess:
		p.markExecuted(op)
	case core.ResultAttemptFailed:
		p.failAttempt(op, exec, core.ReasonVerificationFailed, nil)
	case core.ResultFail:
		p.fail(op, core.ReasonVerificationFailed, nil)
	default:
		p.handleError(op, exec, core.ReasonVerificationError, fmt.Errorf("%w: %q", core.ErrInvalidResult, result))
	}
}

// rollback ends in ROLLBACK_SUCCESS or ROLLBACK_FAILED. Neither is ever
// retried nor routed by importance.
func (p *Processor) rollback(ctx context.Context, op *core.Operation, exec executor.Executor, lookupErr error) {
	var (
		result core.ExecutionResult
		err    = lookupErr
	)
	if err == nil {
		if rb, ok := exec.(executor.Rollbacker); ok {
			result, err = p.invoke(ctx, op, PhaseRollback, rb.Rollback)
		} else {
			err = errors.New("executor does not support rollback")
		}
	}

	if err == nil && result == core.ResultRollbackSuccess {
		op.Status = core.StatusRollbackSuccess
		op.ExecutionResult = core.ResultRollbackSuccess
		return
	}
	if err == nil {
		err = fmt.Errorf("rollback returned %q", result)
	}
	p.logger.Error("rollback failed", "operation_id", op.ID, "error", err)
	op.Status = core.StatusRollbackFailed
	op.ExecutionResult = core.ResultRollbackFail
	op.Comment = failComment("rollback failed", core.ReasonFailedExecution, err)
}

// invoke calls an executor hook inside a savepoint. A returned error or a
// panic rolls back the hook's writes.
func (p *Processor) invoke(ctx context.Context, op *core.Operation, phase string,
	fn func(ctx context.Context, params string) (core.ExecutionResult, error),
) (core.ExecutionResult, error) {
	snapshot := *op
	ctx = intctx.WithOperationContext(ctx, &intctx.OperationContext{Operation: &snapshot, Phase: phase})
	ctx, span := p.tracer.Start(ctx, "ops."+phase, trace.WithAttributes(
		attribute.String("ops.operation_id", op.ID),
		attribute.Int("ops.attempt", op.AttemptCount),
	))
	defer span.End()

	var result core.ExecutionResult
	err := txn.FromContext(ctx).Nested(ctx, func(ctx context.Context) error {
		r, err := callSafely(ctx, fn, op.Params)
		result = r
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(attribute.String("ops.result", string(result)))
	return result, nil
}

func callSafely(ctx context.Context, fn func(context.Context, string) (core.ExecutionResult, error), params string) (result core.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, params)
}

func (p *Processor) handleError(op *core.Operation, exec executor.Executor, reason core.FailReason, err error) {
	p.logger.Warn("operation step returned an error", "operation_id", op.ID, "reason", reason, "error", err)

	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) && retryAfter.Delay > op.RetryDelay {
		op.RetryDelay = retryAfter.Delay
	}
	if executor.CanRetry(exec, err) {
		p.failAttempt(op, exec, reason, err)
		return
	}
	p.fail(op, reason, err)
}

// failAttempt lets the executor adjust its retry settings, then either
// schedules another attempt or fails the operation.
func (p *Processor) failAttempt(op *core.Operation, exec executor.Executor, reason core.FailReason, err error) {
	if rc, ok := exec.(executor.RetryConfigurer); ok {
		if next, changed := rc.NewRetryConfig(op.RetryConfig(), op); changed {
			p.logger.Info("retry settings changed", "operation_id", op.ID,
				"priority", next.Priority, "retry_delay", next.RetryDelay, "max_attempts", next.MaxAttemptCount)
			op.ApplyRetryConfig(next)
		}
	}

	if op.AttemptCount >= op.MaxAttemptCount {
		cause := errors.New(reason.Description())
		if err != nil {
			cause = fmt.Errorf("%s: %w", reason.Description(), err)
		}
		p.fail(op, core.ReasonAttemptsLimitReached, cause)
		return
	}

	op.Status = core.StatusCanRetry
	op.ExecutionResult = core.ResultAttemptFailed
	op.Comment = failComment("attempt failed", reason, err)
}

// fail routes a terminal failure by importance.
func (p *Processor) fail(op *core.Operation, reason core.FailReason, err error) {
	p.logger.Error("operation failed", "operation_id", op.ID, "reason", reason, "error", err)
	op.Comment = failComment("operation failed", reason, err)
	op.ExecutionResult = core.ResultFail

	switch op.Importance {
	case core.ImportanceRequired:
		op.Status = core.StatusReserved
	case core.ImportanceOptional:
		op.Status = core.StatusSkipped
	default:
		if reason == core.ReasonDeadlineReached {
			op.Status = core.StatusExpired
		} else {
			op.Status = core.StatusFailed
		}
	}
}

func (p *Processor) markExecuted(op *core.Operation) {
	op.Status = core.StatusSuccess
	op.ExecutionResult = core.ResultSuccess
}

func failComment(message string, reason core.FailReason, err error) string {
	msg := message + ": " + reason.Description()
	if err != nil {
		msg += ": " + err.Error()
	}
	return security.SanitizeComment(msg)
}
