package engine

import (
	"strings"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Aggregate derives a group's status from its operations. It returns the new
// status, the group comment and whether the operation statuses form a
// combination no rule covers. The first matching rule wins.
func Aggregate(group *core.OperationGroup, ops []*core.Operation) (core.GroupStatus, string, bool) {
	rolling := group.Status == core.GroupRollbackInProgress

	var criticalFailures []string
	for _, op := range ops {
		if op.Importance == core.ImportanceCritical && op.Status.IsFatal() {
			criticalFailures = append(criticalFailures, op.ID)
		}
	}
	if len(criticalFailures) > 0 && !rolling {
		comment := "critical operations failed: " + strings.Join(criticalFailures, ", ")
		if canRollBack(ops) {
			return core.GroupRollbackInProgress, comment, false
		}
		return core.GroupFailed, comment, false
	}

	if rolling {
		if anyStatus(ops, func(s core.OperationStatus) bool { return s == core.StatusRollbackFailed }) {
			return core.GroupError, group.Comment, false
		}
		if !anyStatus(ops, rollbackPending) {
			return core.GroupRollbackCompleted, group.Comment, false
		}
		return group.Status, group.Comment, false
	}

	if allStatus(ops, core.OperationStatus.IsCompleted) {
		return core.GroupCompleted, group.Comment, false
	}
	if allCritical(ops, core.OperationStatus.IsCompleted) &&
		allStatus(ops, func(s core.OperationStatus) bool { return s.IsCompleted() || s.IsSuspended() }) {
		return core.GroupConditionallyCompleted, group.Comment, false
	}
	if group.Status != core.GroupInProgress && anyStatus(ops, core.OperationStatus.IsInProgress) {
		return core.GroupInProgress, group.Comment, false
	}
	if anyStatus(ops, func(s core.OperationStatus) bool { return s.IsInProgress() || s.IsClaimed() }) {
		return group.Status, group.Comment, false
	}
	return group.Status, group.Comment, true
}

// canRollBack reports whether every operation that completed or failed
// supports rollback.
func canRollBack(ops []*core.Operation) bool {
	for _, op := range ops {
		if (op.Status.IsCompleted() || op.Status.IsFatal()) && !op.CanRollback() {
			return false
		}
	}
	return true
}

func rollbackPending(s core.OperationStatus) bool {
	return s == core.StatusSuccess || s.IsFatal() || s == core.StatusRollbackInWork
}

func anyStatus(ops []*core.Operation, pred func(core.OperationStatus) bool) bool {
	for _, op := range ops {
		if pred(op.Status) {
			return true
		}
	}
	return false
}

func allStatus(ops []*core.Operation, pred func(core.OperationStatus) bool) bool {
	for _, op := range ops {
		if !pred(op.Status) {
			return false
		}
	}
	return true
}

func allCritical(ops []*core.Operation, pred func(core.OperationStatus) bool) bool {
	for _, op := range ops {
		if op.Importance == core.ImportanceCritical && !pred(op.Status) {
			return false
		}
	}
	return true
}
