package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/txn"
)

// Processor runs one step of a claimed operation and stores its new state.
type Processor interface {
	Process(ctx context.Context, op *core.Operation) error
}

// GroupRefresher recomputes a group's status after one of its operations changed.
type GroupRefresher interface {
	UpdateGroupStatus(ctx context.Context, groupID string) error
}

// Dispatcher turns a ready operation into a pool task that claims it,
// processes it and refreshes its group.
type Dispatcher struct {
	pool      *Pool
	claimer   *Claimer
	processor Processor
	refresher GroupRefresher
	retry     RetryConfig
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// NewDispatcher creates a Dispatcher. refresher may be nil.
func NewDispatcher(pool *Pool, claimer *Claimer, processor Processor, refresher GroupRefresher, opts ...Option) *Dispatcher {
	cfg := newConfig(opts)
	return &Dispatcher{
		pool:      pool,
		claimer:   claimer,
		processor: processor,
		refresher: refresher,
		retry:     cfg.StorageRetry,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Dispatch submits op for processing and reports whether the pool accepted
// it. done, when not nil, runs after the task finished; it is not called
// for rejected submissions. The task keeps ctx's values but neither its
// cancellation nor its transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, op *core.Operation, done func()) bool {
	taskCtx := txn.Detach(context.WithoutCancel(ctx))
	id, groupID := op.ID, op.GroupID

	accepted := d.pool.Submit(func() {
		if done != nil {
			defer done()
		}
		d.run(taskCtx, id, groupID)
	})
	if !accepted {
		d.metrics.RecordRejected()
		d.logger.Warn("worker pool saturated, operation rejected", "operation_id", id, "group_id", groupID)
		return false
	}
	d.metrics.RecordDispatched()
	return true
}

func (d *Dispatcher) run(ctx context.Context, operationID, groupID string) {
	claim, err := d.claimer.Claim(ctx, operationID)
	if err != nil {
		d.logger.Error("failed to claim operation", "operation_id", operationID, "error", err)
		return
	}
	if claim == nil {
		d.metrics.RecordClaimLost()
		d.logger.Debug("operation not claimed", "operation_id", operationID)
		return
	}

	if err := d.process(ctx, claim); err != nil {
		d.logger.Error("failed to process operation", "operation_id", operationID, "error", err)
		d.release(ctx, claim)
	}

	if d.refresher != nil {
		if err := d.refresher.UpdateGroupStatus(ctx, groupID); err != nil {
			d.logger.Error("failed to update group status", "group_id", groupID, "error", err)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, claim *Claim) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.processor.Process(ctx, claim.Operation)
}

func (d *Dispatcher) release(ctx context.Context, claim *Claim) {
	err := RetryWithBackoff(ctx, d.retry, func() error {
		return d.claimer.Release(ctx, claim)
	})
	if err != nil {
		d.logger.Error("failed to release claim after retries", "operation_id", claim.Operation.ID, "error", err)
	}
}
