package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ops "github.com/jdziat/simple-durable-ops"
	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/schedule"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
)

// ────────────────────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────────────────────

// writeConfig writes a config pointing at a fresh SQLite file and returns
// the config path and the database path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ops.db")
	cfg := fmt.Sprintf(`engine:
  grace_window: 0s
database:
  driver: sqlite
  dsn: %s
  max_open_conns: 1
http:
  enabled: false
scheduling:
  cron: "@every 1s"
  first_start_delay: 0s
log:
  level: error
`, dbPath)
	cfgPath := filepath.Join(dir, "opsd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath, dbPath
}

func openStore(t *testing.T, dbPath string) *storage.GormStorage {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, dbPath, storage.MaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seed enqueues one operation routed to executor and returns it.
func seed(t *testing.T, dbPath string, exec ops.Executor) *ops.Operation {
	t.Helper()
	o := ops.New(openStore(t, dbPath), ops.WithAfterCommitExecution(false))
	o.MustRegister(exec)

	var op *ops.Operation
	require.NoError(t, o.Do(context.Background(), func(ctx context.Context, _ *ops.Unit) error {
		var err error
		op, err = o.Enqueue(ctx, exec.Name(), map[string]string{"to": "ops@example.com"})
		return err
	}))
	require.NoError(t, o.Close(context.Background()))
	return op
}

func execute(t *testing.T, args []string, opts ...Option) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(append([]Option{WithOutput(&out)}, opts...)...)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type counting struct {
	name  string
	kind  core.OperationKind
	calls atomic.Int32
}

func (c *counting) Name() string             { return c.name }
func (c *counting) Kind() core.OperationKind { return c.kind }
func (c *counting) Execute(context.Context, string) (core.ExecutionResult, error) {
	c.calls.Add(1)
	return core.ResultSuccess, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Commands
// ────────────────────────────────────────────────────────────────────────────

func TestMigrate_CreatesSchema(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, []string{"migrate", "--config", cfgPath})
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	db, err := storage.Open(storage.DriverSQLite, dbPath, storage.MaxOpenConns(1))
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&core.Operation{}))
	assert.True(t, db.Migrator().HasTable(&core.SchedulerLock{}))
}

func TestRun_ExecutesPendingOperations(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	exec := &counting{name: "send", kind: core.KindSyncRequest}
	op := seed(t, dbPath, exec)

	out, err := execute(t, []string{"run", "--config", cfgPath, "--timeout", "10s"}, WithExecutors(exec))
	require.NoError(t, err)
	assert.Contains(t, out, "dispatched 1 operation(s)")
	assert.Equal(t, int32(1), exec.calls.Load())

	stored, err := openStore(t, dbPath).GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, stored.Status)
}

func TestRun_WithoutExecutorsLeavesOperationsAlone(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	op := seed(t, dbPath, &counting{name: "send", kind: core.KindSyncRequest})

	out, err := execute(t, []string{"run", "--config", cfgPath})
	require.NoError(t, err)
	assert.Contains(t, out, "dispatched 0 operation(s)")

	stored, err := openStore(t, dbPath).GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCreated, stored.Status)
}

func TestGroups_ListsUncompletedGroups(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	op := seed(t, dbPath, &counting{name: "send", kind: core.KindSyncRequest})

	out, err := execute(t, []string{"groups", "--config", cfgPath})
	require.NoError(t, err)
	assert.Equal(t, []string{op.GroupID}, strings.Fields(out))
}

func TestResult_CompletesAsyncOperation(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	exec := &counting{name: "remote", kind: core.KindAsyncRequest}
	op := seed(t, dbPath, exec)

	_, err := execute(t, []string{"run", "--config", cfgPath}, WithExecutors(exec))
	require.NoError(t, err)

	out, err := execute(t, []string{"result", op.ID, "success", "--config", cfgPath}, WithExecutors(exec))
	require.NoError(t, err)
	assert.Equal(t, op.ID+" SUCCESS\n", out)
}

func TestResult_UnknownOperation(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, []string{"result", "missing", "SUCCESS", "--config", cfgPath})
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestRoot_RejectsInvalidLogLevel(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, []string{"groups", "--config", cfgPath, "--log-level", "loud"})
	assert.ErrorContains(t, err, "log.level")
}

func TestRoot_MissingConfigFile(t *testing.T) {
	_, err := execute(t, []string{"groups", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.ErrorContains(t, err, "config: read")
}

// ────────────────────────────────────────────────────────────────────────────
// serve
// ────────────────────────────────────────────────────────────────────────────

func TestServe_RunsSchedulerUntilCancelled(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	exec := &counting{name: "send", kind: core.KindSyncRequest}
	seed(t, dbPath, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewRootCommand(WithOutput(&bytes.Buffer{}), WithExecutors(exec))
	cmd.SetArgs([]string{"serve", "--config", cfgPath})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool { return exec.calls.Load() == 1 }, 10*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}

	var lock core.SchedulerLock
	require.NoError(t, openStore(t, dbPath).DB().Where("name = ?", schedule.LockName).First(&lock).Error)
	assert.NotEmpty(t, lock.LockedBy)
}
