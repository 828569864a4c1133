package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-ops/pkg/engine"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
)

// ──────────────────────────────────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────────────────────────────────

type recordingTrigger struct {
	mu      sync.Mutex
	windows []engine.Window
	err     error
	entered chan struct{}
	release chan struct{}
}

func (r *recordingTrigger) RunSync(_ context.Context, w engine.Window) ([]string, error) {
	r.mu.Lock()
	r.windows = append(r.windows, w)
	r.mu.Unlock()
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return []string{"group-1"}, r.err
}

func (r *recordingTrigger) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

func newLocker(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FirstStartDelay = 0
	cfg.MinLockTime = time.Minute
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Config
// ──────────────────────────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "@every 30s", cfg.Spec)
	assert.Equal(t, 10*time.Second, cfg.FirstStartDelay)
	assert.Equal(t, 5*time.Minute, cfg.MaxLockTime)
	assert.Equal(t, 5*time.Second, cfg.MinLockTime)
	assert.Equal(t, 10*time.Second, cfg.ForcedStopWhenTimeLeft)
	assert.Equal(t, engine.Unlimited, cfg.MaxOperations)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max lock", func(c *Config) { c.MaxLockTime = 0 }},
		{"min above max", func(c *Config) { c.MinLockTime = 10 * time.Minute }},
		{"negative min", func(c *Config) { c.MinLockTime = -time.Second }},
		{"forced stop too long", func(c *Config) { c.ForcedStopWhenTimeLeft = 5 * time.Minute }},
		{"negative first delay", func(c *Config) { c.FirstStartDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spec = "invalid cron"

	_, err := New(&recordingTrigger{}, newLocker(t), cfg)
	assert.ErrorContains(t, err, "invalid cron spec")
}

func TestScheduler_Next(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spec = "30 14 * * 1-5"
	s, err := New(&recordingTrigger{}, newLocker(t), cfg)
	require.NoError(t, err)

	from := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) // Saturday
	assert.Equal(t, time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC), s.Next(from))

	cfg.Spec = "@every 30s"
	s, err = New(&recordingTrigger{}, newLocker(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Second), s.Next(from))
}

// ──────────────────────────────────────────────────────────────────────────────
// Tick
// ──────────────────────────────────────────────────────────────────────────────

func TestTick_RunsPassWithinLockTime(t *testing.T) {
	now := time.Now()
	trigger := &recordingTrigger{}
	cfg := testConfig()
	cfg.MaxOperations = 7
	s, err := New(trigger, newLocker(t), cfg, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.True(t, ran)
	require.Len(t, trigger.windows, 1)
	assert.Equal(t, now.Add(5*time.Minute-10*time.Second), trigger.windows[0].Deadline)
	assert.Equal(t, 7, trigger.windows[0].MaxOperations)
}

func TestTick_LockHeldElsewhere(t *testing.T) {
	locker := newLocker(t)
	first := &recordingTrigger{}
	second := &recordingTrigger{}
	a, err := New(first, locker, testConfig(), WithOwner("a"))
	require.NoError(t, err)
	b, err := New(second, locker, testConfig(), WithOwner("b"))
	require.NoError(t, err)

	ran, err := a.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	ran, err = b.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "min lock time keeps the lock after the pass")
	assert.Zero(t, second.calls())

	ran, err = a.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran, "the owner may take its own lock again")
}

func TestTick_ReleasesLockWithoutMinimum(t *testing.T) {
	locker := newLocker(t)
	cfg := testConfig()
	cfg.MinLockTime = 0
	a, err := New(&recordingTrigger{}, locker, cfg, WithOwner("a"))
	require.NoError(t, err)
	b, err := New(&recordingTrigger{}, locker, cfg, WithOwner("b"))
	require.NoError(t, err)

	_, err = a.Tick(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ran, err := b.Tick(context.Background())
		return err == nil && ran
	}, time.Second, 10*time.Millisecond)
}

func TestTick_PassErrorKeepsRunning(t *testing.T) {
	trigger := &recordingTrigger{err: errors.New("storage down")}
	s, err := New(trigger, newLocker(t), testConfig())
	require.NoError(t, err)

	ran, err := s.Tick(context.Background())

	assert.True(t, ran)
	assert.ErrorContains(t, err, "storage down")
}

func TestTick_SkipsOverlappingTick(t *testing.T) {
	trigger := &recordingTrigger{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := New(trigger, newLocker(t), testConfig())
	require.NoError(t, err)

	done := make(chan bool)
	go func() {
		ran, _ := s.Tick(context.Background())
		done <- ran
	}()
	<-trigger.entered

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(trigger.release)
	assert.True(t, <-done)
	assert.Equal(t, 1, trigger.calls())
}

// ──────────────────────────────────────────────────────────────────────────────
// Start
// ──────────────────────────────────────────────────────────────────────────────

func TestStart_TicksUntilCancelled(t *testing.T) {
	trigger := &recordingTrigger{}
	cfg := testConfig()
	cfg.Spec = "@every 1s"
	cfg.MinLockTime = 0
	s, err := New(trigger, newLocker(t), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return trigger.calls() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestStart_Disabled(t *testing.T) {
	trigger := &recordingTrigger{}
	cfg := testConfig()
	cfg.Enabled = false
	s, err := New(trigger, newLocker(t), cfg)
	require.NoError(t, err)

	assert.NoError(t, s.Start(context.Background()))
	assert.Zero(t, trigger.calls())
}
