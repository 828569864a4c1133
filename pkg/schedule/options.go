package schedule

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithOwner sets the lock owner id. Defaults to a random UUID.
func WithOwner(owner string) Option {
	return optionFunc(func(s *Scheduler) {
		if owner != "" {
			s.owner = owner
		}
	})
}

// WithClock overrides the clock used for lock times.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	})
}
