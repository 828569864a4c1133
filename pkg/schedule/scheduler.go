package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jdziat/simple-durable-ops/pkg/engine"
)

// LockName is the scheduler lock shared by every engine instance.
const LockName = "ops-engine"

// Trigger runs one synchronous engine pass.
type Trigger interface {
	RunSync(ctx context.Context, w engine.Window) ([]string, error)
}

// Locker coordinates ticks across processes.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, until time.Time) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string, keepUntil time.Time) error
}

// Config holds the scheduler timings.
type Config struct {
	Enabled bool

	// Spec is a five-field cron expression or a descriptor such as
	// "@every 30s".
	Spec string

	FirstStartDelay        time.Duration
	MaxLockTime            time.Duration
	MinLockTime            time.Duration
	ForcedStopWhenTimeLeft time.Duration

	// MaxOperations caps the operations dispatched per tick.
	MaxOperations int
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Spec:                   "@every 30s",
		FirstStartDelay:        10 * time.Second,
		MaxLockTime:            5 * time.Minute,
		MinLockTime:            5 * time.Second,
		ForcedStopWhenTimeLeft: 10 * time.Second,
		MaxOperations:          engine.Unlimited,
	}
}

// Validate checks that the lock times leave room for a pass.
func (c Config) Validate() error {
	if c.MaxLockTime <= 0 {
		return errors.New("schedule: max lock time must be positive")
	}
	if c.MinLockTime < 0 || c.MinLockTime > c.MaxLockTime {
		return errors.New("schedule: min lock time must be between 0 and max lock time")
	}
	if c.ForcedStopWhenTimeLeft < 0 || c.ForcedStopWhenTimeLeft >= c.MaxLockTime {
		return errors.New("schedule: forced stop time must be shorter than max lock time")
	}
	if c.FirstStartDelay < 0 {
		return errors.New("schedule: first start delay must not be negative")
	}
	return nil
}

// Scheduler runs engine passes on a cron schedule under a database lock.
type Scheduler struct {
	trigger  Trigger
	locker   Locker
	config   Config
	schedule cron.Schedule

	owner  string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// New parses the cron spec and creates a Scheduler.
func New(trigger Trigger, locker Locker, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron spec %q: %w", cfg.Spec, err)
	}

	s := &Scheduler{
		trigger:  trigger,
		locker:   locker,
		config:   cfg,
		schedule: sched,
		owner:    uuid.New().String(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s, nil
}

// Owner returns the id this scheduler takes the lock with.
func (s *Scheduler) Owner() string {
	return s.owner
}

// Next returns the tick following t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start blocks, ticking until ctx is cancelled. It returns nil right away
// when scheduling is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("scheduling disabled")
		return nil
	}

	s.logger.Info("scheduler starting", "spec", s.config.Spec, "owner", s.owner, "first_start_delay", s.config.FirstStartDelay)
	timer := time.NewTimer(s.config.FirstStartDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduled pass failed", "error", err)
			}
			now := time.Now()
			timer.Reset(s.schedule.Next(now).Sub(now))
		}
	}
}

// Tick runs one pass if the lock can be taken. It reports whether the pass
// ran. A tick that overlaps a running one is skipped.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("previous tick still running, skipped")
		return false, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := s.now()
	until := started.Add(s.config.MaxLockTime)
	acquired, err := s.locker.AcquireLock(ctx, LockName, s.owner, until)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		s.logger.Debug("scheduler lock held elsewhere", "lock", LockName)
		return false, nil
	}
	defer s.release(ctx, started)

	w := engine.Window{
		Deadline:      until.Add(-s.config.ForcedStopWhenTimeLeft),
		MaxOperations: s.config.MaxOperations,
	}
	processed, err := s.trigger.RunSync(ctx, w)
	if err != nil {
		return true, fmt.Errorf("run pass: %w", err)
	}
	s.logger.Info("scheduled pass finished", "groups", len(processed), "duration", s.now().Sub(started))
	return true, nil
}

func (s *Scheduler) release(ctx context.Context, started time.Time) {
	keepUntil := started.Add(s.config.MinLockTime)
	if now := s.now(); keepUntil.Before(now) {
		keepUntil = now
	}
	if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), LockName, s.owner, keepUntil); err != nil {
		s.logger.Error("failed to release scheduler lock", "lock", LockName, "error", err)
	}
}
