package enqueue

import (
	"sync"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

type unitKey struct{}

type cacheKey struct {
	executor string
	params   string
}

// Unit is the enqueue state of one transaction. It is created on first use
// and dropped with the transaction.
type Unit struct {
	mu                sync.Mutex
	groupID           string
	parentOperationID *string
	afterCommitArmed  bool
	afterCommitIDs    []string
	optimized         map[cacheKey]*core.Operation
}

func newUnit(parentOperationID string) *Unit {
	u := &Unit{optimized: make(map[cacheKey]*core.Operation)}
	if parentOperationID != "" {
		u.parentOperationID = &parentOperationID
	}
	return u
}

// GroupID returns the id of the unit's group, or "" before anything was
// enqueued.
func (u *Unit) GroupID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.groupID
}

// ParentOperationID returns the operation whose execution opened the unit, or "".
func (u *Unit) ParentOperationID() string {
	if u.parentOperationID == nil {
		return ""
	}
	return *u.parentOperationID
}

// AfterCommitIDs returns the operations to run once the transaction commits.
func (u *Unit) AfterCommitIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.afterCommitIDs...)
}

// addAfterCommit records id and reports whether this is the unit's first
// after-commit operation.
func (u *Unit) addAfterCommit(id string) (first bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.afterCommitIDs {
		if existing == id {
			return false
		}
	}
	u.afterCommitIDs = append(u.afterCommitIDs, id)
	first = !u.afterCommitArmed
	u.afterCommitArmed = true
	return first
}

func (u *Unit) cached(executor, params string) *core.Operation {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.optimized[cacheKey{executor, params}]
}

func (u *Unit) cache(op *core.Operation) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.optimized[cacheKey{op.ExecutorName, op.Params}] = op
}
