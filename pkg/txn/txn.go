// Package txn provides the transactional boundary that enqueue calls and the
// processor share. A boundary wraps one storage transaction, carries
// per-transaction attachments and runs callbacks once the outermost
// transaction has committed.
package txn

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

type boundaryKey struct{}

// Boundary is one open storage transaction.
type Boundary struct {
	storage core.Storage

	mu          sync.Mutex
	afterCommit []func(context.Context)
	attachments map[any]any
}

// FromContext returns the boundary carried by ctx, or nil.
func FromContext(ctx context.Context) *Boundary {
	if b, ok := ctx.Value(boundaryKey{}).(*Boundary); ok {
		return b
	}
	return nil
}

// Detach returns a context that keeps ctx's values but carries no boundary,
// so work started from it opens its own transaction.
func Detach(ctx context.Context) context.Context {
	if FromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, boundaryKey{}, (*Boundary)(nil))
}

func withBoundary(ctx context.Context, b *Boundary) context.Context {
	return context.WithValue(ctx, boundaryKey{}, b)
}

// Run calls fn inside a transaction. When ctx already carries a boundary fn
// joins it; otherwise a new storage transaction is opened and, after it
// commits, the callbacks registered with AfterCommit run in order.
func Run(ctx context.Context, s core.Storage, fn func(ctx context.Context, tx core.Storage) error) error {
	if b := FromContext(ctx); b != nil {
		return fn(ctx, b.storage)
	}

	var b *Boundary
	err := s.Transaction(ctx, func(tx core.Storage) error {
		b = &Boundary{storage: tx}
		return fn(withBoundary(ctx, b), tx)
	})
	if err != nil {
		return err
	}
	b.runAfterCommit(context.WithoutCancel(ctx))
	return nil
}

// Storage returns the transaction-bound storage.
func (b *Boundary) Storage() core.Storage {
	return b.storage
}

// AfterCommit registers fn to run after the outermost transaction commits.
// Callbacks run outside the transaction with a context that is not cancelled
// with the caller's. They are dropped when the transaction rolls back.
func (b *Boundary) AfterCommit(fn func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterCommit = append(b.afterCommit, fn)
}

// Attach stores a value for the lifetime of the boundary.
func (b *Boundary) Attach(key, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attachments == nil {
		b.attachments = make(map[any]any)
	}
	b.attachments[key] = value
}

// Attached returns a value stored with Attach.
func (b *Boundary) Attached(key any) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attachments[key]
}

// Nested runs fn in a savepoint of b's transaction with its own boundary.
// When fn fails its writes are rolled back, its after-commit callbacks are
// dropped and b stays usable. On success the callbacks move to b.
func (b *Boundary) Nested(ctx context.Context, fn func(ctx context.Context) error) error {
	var child *Boundary
	err := b.storage.Transaction(ctx, func(tx core.Storage) error {
		child = &Boundary{storage: tx}
		return fn(withBoundary(ctx, child))
	})
	if err != nil {
		return err
	}

	child.mu.Lock()
	callbacks := child.afterCommit
	child.mu.Unlock()

	b.mu.Lock()
	b.afterCommit = append(b.afterCommit, callbacks...)
	b.mu.Unlock()
	return nil
}

func (b *Boundary) runAfterCommit(ctx context.Context) {
	b.mu.Lock()
	callbacks := b.afterCommit
	b.afterCommit = nil
	b.mu.Unlock()

	for _, fn := range callbacks {
		runCallback(ctx, fn)
	}
}

func runCallback(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("after-commit callback panicked", "panic", r)
		}
	}()
	fn(ctx)
}
