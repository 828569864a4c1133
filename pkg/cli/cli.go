// Package cli builds the opsd command tree.
//
// Commands:
//
//	opsd serve                     # engine, scheduler, HTTP API and metrics
//	opsd migrate                   # create or update the schema
//	opsd run [--max-operations N]  # one synchronous engine pass
//	opsd groups                    # ids of groups that are not completed
//	opsd result <id> <RESULT>      # record the result of an async operation
//
// Every command reads --config (YAML) and --log-level. Applications that
// want the binary to execute their operations build their own main with
// NewRootCommand(WithExecutors(...)); without executors serve keeps
// execution disabled and only hosts the API.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ops "github.com/jdziat/simple-durable-ops"
	"github.com/jdziat/simple-durable-ops/pkg/config"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/storage"
)

// Option configures the command tree.
type Option func(*app)

// WithExecutors registers executors in every command that builds an engine.
func WithExecutors(execs ...ops.Executor) Option {
	return func(a *app) { a.executors = append(a.executors, execs...) }
}

// WithOutput redirects command output. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *app) { a.out = w }
}

type app struct {
	configFile string
	logLevel   string
	executors  []ops.Executor
	out        io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand returns the opsd command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "opsd",
		Short:         "Durable transactional operation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	root.AddCommand(
		a.serveCommand(),
		a.migrateCommand(),
		a.runCommand(),
		a.groupsCommand(),
		a.resultCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = setupLogging(cfg.Log.Level)
	return nil
}

func setupLogging(levelName string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func (a *app) openStorage() (*storage.GormStorage, error) {
	db, err := storage.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, a.cfg.StoragePoolOptions()...)
	if err != nil {
		return nil, err
	}
	return storage.NewGormStorage(db), nil
}

// openOps builds the wired engine over a migrated store.
func (a *app) openOps(ctx context.Context, collector *metrics.Collector) (*ops.Ops, error) {
	store, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	executing := a.cfg.Engine.ExecutingEnabled
	if executing && len(a.executors) == 0 {
		a.logger.Warn("no executors registered, operation execution disabled")
		executing = false
	}

	o := ops.New(store,
		ops.WithLogger(a.logger),
		ops.WithMetrics(collector),
		ops.WithPolicy(a.cfg.Policy()),
		ops.WithPoolOptions(a.cfg.PoolOptions()...),
		ops.WithExecuting(executing),
		ops.WithOptimization(a.cfg.Engine.OptimizationEnabled),
		ops.WithAfterCommitExecution(a.cfg.Engine.AfterCommitExecutionEnabled),
	)
	for _, e := range a.executors {
		if err := o.Register(e); err != nil {
			return nil, err
		}
	}
	return o, nil
}
