package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/config"
	"github.com/rickgao/instrument-refresh/internal/job"
	"github.com/rickgao/instrument-refresh/internal/version"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the refresh daily at schedule.at and serve health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg, os.Stdout)
			if err != nil {
				return err
			}
			return runDaemon(cfg, runNow, logger)
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "Start one run immediately in addition to the schedule")
	return cmd
}

func runDaemon(cfg *config.RefresherConfig, runNow bool, logger *slog.Logger) error {
	logger.Info("starting refresher daemon",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := job.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load schedule timezone: %w", err)
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(j, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "err", err)
		}
	}()

	var inflight inflightRuns
	runOnce := func() {
		if !inflight.begin() {
			return
		}
		defer inflight.done()

		release, err := acquireRunLock(cfg.Run.LockPath)
		if err != nil {
			logger.Warn("scheduled run skipped", "err", err)
			return
		}
		defer release()

		report, err := j.Run(ctx, nil)
		if err != nil {
			logger.Error("scheduled run failed", "err", err)
			return
		}
		t := report.Totals()
		logger.Info("scheduled run finished",
			"run_id", report.RunID,
			"partial", report.Partial(),
			"attempted", t.Attempted,
			"removed", t.Removed,
			"failed", t.Failed,
		)
	}

	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()
	if _, err := cron.Every(1).Day().At(cfg.Schedule.At).Do(runOnce); err != nil {
		return fmt.Errorf("schedule daily run: %w", err)
	}
	cron.StartAsync()

	if _, next := cron.NextRun(); !next.IsZero() {
		logger.Info("daily run scheduled", "at", cfg.Schedule.At, "timezone", cfg.Schedule.Timezone, "next", next)
	}
	if runNow {
		go runOnce()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	// An in-flight run sees the cancelled context and stops at the next entity.
	cron.Stop()
	inflight.closeAndWait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", "err", err)
	}

	logger.Info("refresher daemon stopped")
	return nil
}
