// Package timing holds the time rules shared by the engine and the processor.
package timing

import (
	"time"
)

// DefaultWaitResponseTimeout applies to async operations without an explicit
// wait timeout when deciding whether to offer them again.
const DefaultWaitResponseTimeout = 60 * time.Second

// DefaultGraceWindow is the grace window of a configured engine.
const DefaultGraceWindow = time.Minute

// Policy answers "has this period passed" questions against a clock.
type Policy struct {
	// GraceWindow keeps freshly created groups away from the periodic pass
	// while their after-commit pass owns them.
	GraceWindow time.Duration

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
}

// NewPolicy creates a Policy using the wall clock.
func NewPolicy(grace time.Duration) *Policy {
	return &Policy{GraceWindow: grace}
}

// Clock returns the current time.
func (p *Policy) Clock() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// IsRetryPeriodPassed is true when the operation never ran or delay has
// elapsed since the last execution.
func (p *Policy) IsRetryPeriodPassed(lastExecution *time.Time, delay time.Duration) bool {
	return lastExecution == nil || p.Clock().After(lastExecution.Add(delay))
}

// IsVerificationWaitPassed mirrors IsRetryPeriodPassed for the wait before
// a verification attempt.
func (p *Policy) IsVerificationWaitPassed(lastExecution *time.Time, wait time.Duration) bool {
	return p.IsRetryPeriodPassed(lastExecution, wait)
}

// IsResponseWaitExpired reports whether an async operation has waited longer
// than timeout. A nil timeout never expires.
func (p *Policy) IsResponseWaitExpired(lastExecution *time.Time, timeout *time.Duration) bool {
	if timeout == nil || lastExecution == nil {
		return false
	}
	return p.Clock().After(lastExecution.Add(*timeout))
}

// EffectiveWaitTimeout returns the timeout or DefaultWaitResponseTimeout when unset.
func EffectiveWaitTimeout(timeout *time.Duration) *time.Duration {
	if timeout != nil {
		return timeout
	}
	d := DefaultWaitResponseTimeout
	return &d
}

// IsIterationLimitReached reports whether a processing window is over. A
// zero deadline is never reached.
func (p *Policy) IsIterationLimitReached(deadline time.Time) bool {
	return !deadline.IsZero() && p.Clock().After(deadline)
}

// IsDeadlineReached reports whether an operation deadline has passed.
func (p *Policy) IsDeadlineReached(deadline *time.Time) bool {
	return deadline != nil && p.Clock().After(*deadline)
}

// AfterCommitDeadline is the end of the window given to an after-commit pass.
// Without a grace window the pass is unbounded and the zero time is returned.
func (p *Policy) AfterCommitDeadline() time.Time {
	if p.GraceWindow <= 0 {
		return time.Time{}
	}
	return p.Clock().Add(p.GraceWindow)
}

// EligibilityCutoff is the newest creation time the periodic pass accepts.
func (p *Policy) EligibilityCutoff() time.Time {
	return p.Clock().Add(-p.GraceWindow)
}
