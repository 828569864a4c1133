package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// RetryConfig bounds retries of storage calls made outside an executor:
// claiming, releasing a claim and refreshing a group.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default: 5
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps every wait. Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each failure. Default: 2.0
	BackoffMultiplier float64

	// JitterFraction randomizes each wait by up to this fraction. Default: 0.1
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialBackoff,
		RandomizationFactor: c.JitterFraction,
		Multiplier:          c.BackoffMultiplier,
		MaxInterval:         c.MaxBackoff,
	}
	b.Reset()
	return b
}

// RetryWithBackoff calls operation until it succeeds, fails with an error
// IsRetryableError rejects, or MaxAttempts is spent. It returns the last
// error, or the context's error once ctx is done.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	return RetryWhen(ctx, config, IsRetryableError, operation)
}

// RetryWhen is RetryWithBackoff with a custom predicate: errors for which
// retryable returns false are returned immediately.
func RetryWhen(ctx context.Context, config RetryConfig, retryable func(error) bool, operation func() error) error {
	tries := config.MaxAttempts
	if tries < 1 {
		tries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := operation()
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(config.backOff()),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// IsRetryableError reports whether a storage error may go away on its own.
// Unknown errors are assumed transient: connection drops, lock waits and
// deadlocks all surface as plain driver errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// A lost optimistic lock means another worker moved the row on.
	return !errors.Is(err, core.ErrVersionConflict)
}
