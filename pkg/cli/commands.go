package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ops "github.com/jdziat/simple-durable-ops"
	"github.com/jdziat/simple-durable-ops/pkg/httpapi"
	"github.com/jdziat/simple-durable-ops/pkg/metrics"
	"github.com/jdziat/simple-durable-ops/pkg/observability"
	"github.com/jdziat/simple-durable-ops/pkg/schedule"
)

// ──────────────────────────────────────────────────────────────────────────────
// serve
// ──────────────────────────────────────────────────────────────────────────────

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, the scheduler and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		Exporter:    a.cfg.Tracing.Exporter,
		Endpoint:    a.cfg.Tracing.Endpoint,
		Insecure:    a.cfg.Tracing.Insecure,
		ServiceName: a.cfg.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			a.logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	var collector *metrics.Collector
	if a.cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}
	o, err := a.openOps(ctx, collector)
	if err != nil {
		return err
	}

	scheduler, err := schedule.New(o.Engine, o.Storage, a.cfg.SchedulerConfig(), schedule.WithLogger(a.logger))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if a.cfg.HTTP.Enabled {
		apiOpts := []httpapi.Option{httpapi.WithLogger(a.logger)}
		if collector != nil {
			apiOpts = append(apiOpts, httpapi.WithMetricsHandler(collector.Handler()))
		}
		srv := &http.Server{
			Addr:              a.cfg.HTTP.Addr,
			Handler:           httpapi.New(o.Engine, o.Storage, apiOpts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http shutdown error, forcing close", "error", err)
				return srv.Close()
			}
			return nil
		})
	}

	a.logger.Info("opsd ready", "executors", len(a.executors))
	err = g.Wait()

	a.logger.Info("stopping engine")
	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if closeErr := o.Close(closeCtx); closeErr != nil {
		a.logger.Error("engine did not stop cleanly", "error", closeErr)
	}
	a.logger.Info("opsd stopped")
	return err
}

// ──────────────────────────────────────────────────────────────────────────────
// migrate
// ──────────────────────────────────────────────────────────────────────────────

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStorage()
			if err != nil {
				return err
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// run
// ──────────────────────────────────────────────────────────────────────────────

func (a *app) runCommand() *cobra.Command {
	var (
		maxOperations int
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one synchronous engine pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.openOps(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer o.Close(context.Background())

			w := a.cfg.Window(time.Now().Add(timeout))
			if cmd.Flags().Changed("max-operations") {
				w.MaxOperations = maxOperations
			}
			groups, err := o.RunSync(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d operation(s)\n", len(groups))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxOperations, "max-operations", ops.Unlimited, "Operations to dispatch at most (-1 for no limit)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Stop dispatching after this long")
	return cmd
}

// ──────────────────────────────────────────────────────────────────────────────
// groups
// ──────────────────────────────────────────────────────────────────────────────

func (a *app) groupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups that are not completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.openOps(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer o.Close(context.Background())

			ids, err := o.Engine.UncompletedGroupIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// result
// ──────────────────────────────────────────────────────────────────────────────

func (a *app) resultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "result <operation-id> <SUCCESS|ATTEMPT_FAILED|FAIL>",
		Short: "Record the external result of an async operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.openOps(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer o.Close(context.Background())

			result := ops.ExecutionResult(strings.ToUpper(args[1]))
			op, err := o.SaveResult(cmd.Context(), args[0], result)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", op.ID, op.Status)
			return nil
		},
	}
}
