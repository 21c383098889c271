package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/job"
	"github.com/rickgao/instrument-refresh/internal/version"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stageNames []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the refresh stages once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			logger, err := ctx.stderrLogger(cfg)
			if err != nil {
				return err
			}

			release, err := acquireRunLock(cfg.Run.LockPath)
			if err != nil {
				return err
			}
			defer release()

			runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting refresher run",
				"version", version.Version,
				"commit", version.Commit,
				"config", ctx.configPath,
				"instance_id", cfg.Instance.ID,
			)

			j, err := job.New(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			report, err := j.Run(runCtx, stageNames)
			if err != nil {
				return err
			}

			// Partial runs are a normal outcome; the report says what was cut.
			out := cmd.OutOrStdout()
			if jsonOutput || !isTerminal(out) {
				return writeJSON(cmd, report)
			}
			_, err = fmt.Fprintln(out, renderReport(report))
			return err
		},
	}

	cmd.Flags().StringSliceVar(&stageNames, "stage", nil, "Run only the named stage (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}
