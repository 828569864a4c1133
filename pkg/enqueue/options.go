package enqueue

import (
	"time"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Default values applied by NewOptions.
var (
	DefaultImportance      = core.ImportanceCritical
	DefaultPriority        = 5
	DefaultMaxAttemptCount = 1
	DefaultRetryDelay      = 5 * time.Second
)

// Options holds the settings of one enqueued operation.
type Options struct {
	Importance          core.Importance
	Priority            int
	MaxAttemptCount     int
	RetryDelay          time.Duration
	WaitResponseTimeout *time.Duration
	Deadline            *time.Time
	Previous            []string
	ExecuteAfterCommit  bool
	Optimized           bool
	Description         string
	RelatedEntityID     string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Importance:      DefaultImportance,
		Priority:        DefaultPriority,
		MaxAttemptCount: DefaultMaxAttemptCount,
		RetryDelay:      DefaultRetryDelay,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Importance sets how a terminal failure affects the group.
func Importance(i core.Importance) Option {
	return optionFunc(func(o *Options) {
		o.Importance = i
	})
}

// Priority sets the priority (0 runs first, 10 last).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// MaxAttempts sets how many attempts the operation gets.
func MaxAttempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttemptCount = n
	})
}

// RetryDelay sets the minimum time between attempts.
func RetryDelay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.RetryDelay = d
	})
}

// WaitTimeout bounds how long an async operation waits for its result.
func WaitTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.WaitResponseTimeout = &d
	})
}

// Deadline fails the operation when it has not finished by t.
func Deadline(t time.Time) Option {
	return optionFunc(func(o *Options) {
		t = t.UTC()
		o.Deadline = &t
	})
}

// After makes the operation wait for the given operations of the same group.
func After(ids ...string) Option {
	return optionFunc(func(o *Options) {
		o.Previous = append(o.Previous, ids...)
	})
}

// ExecuteAfterCommit runs the operation right after the enclosing
// transaction commits instead of waiting for a periodic pass.
func ExecuteAfterCommit() Option {
	return optionFunc(func(o *Options) {
		o.ExecuteAfterCommit = true
	})
}

// Optimized reuses an operation enqueued earlier in the same unit of work
// with the same executor and params.
func Optimized() Option {
	return optionFunc(func(o *Options) {
		o.Optimized = true
	})
}

// Description sets a free-form description.
func Description(s string) Option {
	return optionFunc(func(o *Options) {
		o.Description = s
	})
}

// RelatedEntity records the id of the business entity the operation acts on.
func RelatedEntity(id string) Option {
	return optionFunc(func(o *Options) {
		o.RelatedEntityID = id
	})
}

// sameSettings reports whether op was enqueued with the settings in o.
func (o *Options) sameSettings(op *core.Operation) bool {
	return op.Importance == o.Importance &&
		op.Priority == o.Priority &&
		op.MaxAttemptCount == o.MaxAttemptCount &&
		op.RetryDelay == o.RetryDelay &&
		equalDuration(op.WaitResponseTimeout, o.WaitResponseTimeout)
}

func equalDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
