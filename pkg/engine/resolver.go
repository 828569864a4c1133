package engine

import (
	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/timing"
)

// Filter narrows the operations a resolver may pick.
type Filter func(op *core.Operation) bool

// Resolve picks the next operation of a group to dispatch, or nil.
//
// ops is a snapshot of the group's operations with Previous loaded and
// successors the adjacency built from the same snapshot. While the group
// runs forward only uncompleted CRITICAL operations are considered as long as
// any exists. While it rolls back, completed and failed operations whose
// successors were all undone or never ran are candidates. The lowest
// Priority wins; ties go to the smallest id.
func Resolve(group *core.OperationGroup, ops []*core.Operation, successors map[string][]string, filter Filter, policy *timing.Policy) *core.Operation {
	if !group.Status.IsAvailableForProcess() {
		return nil
	}

	byID := make(map[string]*core.Operation, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
	}

	rolling := group.Status == core.GroupRollbackInProgress
	// Rollback looks at every operation; isRollbackReady orders the undo.
	candidates := ops
	if !rolling {
		if pending := pendingCritical(ops); len(pending) > 0 {
			candidates = pending
		}
	}

	var best *core.Operation
	for _, op := range candidates {
		if filter != nil && !filter(op) {
			continue
		}
		var ready bool
		if rolling {
			ready = isRollbackReady(op, successors[op.ID], byID)
		} else {
			ready = isForwardReady(op, byID, policy)
		}
		if !ready {
			continue
		}
		if best == nil || op.Priority < best.Priority || (op.Priority == best.Priority && op.ID < best.ID) {
			best = op
		}
	}
	return best
}

func pendingCritical(ops []*core.Operation) []*core.Operation {
	var pending []*core.Operation
	for _, op := range ops {
		if op.Importance == core.ImportanceCritical && !op.Status.IsCompleted() {
			pending = append(pending, op)
		}
	}
	return pending
}

func isForwardReady(op *core.Operation, byID map[string]*core.Operation, policy *timing.Policy) bool {
	firstRun := op.Status == core.StatusCreated && op.AttemptCount == 0
	retry := op.Status.IsExecutable() && policy.IsRetryPeriodPassed(op.LastExecutionAt, op.RetryDelay)
	verify := op.Status == core.StatusVerification && policy.IsVerificationWaitPassed(op.LastExecutionAt, op.RetryDelay)
	asyncRetry := op.Status == core.StatusWaitResponse &&
		policy.IsResponseWaitExpired(op.LastExecutionAt, timing.EffectiveWaitTimeout(op.WaitResponseTimeout)) &&
		policy.IsRetryPeriodPassed(op.LastExecutionAt, op.RetryDelay)

	if !firstRun && !retry && !verify && !asyncRetry {
		return false
	}
	for _, id := range op.Previous {
		prev, ok := byID[id]
		if !ok || !(prev.Status.IsCompleted() || prev.Status.IsSuspended()) {
			return false
		}
	}
	return true
}

func isRollbackReady(op *core.Operation, successors []string, byID map[string]*core.Operation) bool {
	if !(op.Status == core.StatusSuccess || op.Status.IsFatal()) || !op.CanRollback() {
		return false
	}
	for _, id := range successors {
		next, ok := byID[id]
		if !ok {
			return false
		}
		if next.Status != core.StatusRollbackSuccess && next.Status != core.StatusCreated {
			return false
		}
	}
	return true
}
