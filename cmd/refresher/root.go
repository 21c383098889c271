package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/config"
)

const defaultConfigPath = "configs/refresher.yaml"

// commandContext carries persistent flags and the lazily loaded config.
type commandContext struct {
	configPath string
	logJSON    bool

	cfg *config.RefresherConfig
}

func (c *commandContext) config() (*config.RefresherConfig, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.LoadAndValidate(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// logger builds the process logger and installs it as the slog default.
func (c *commandContext) logger(cfg *config.RefresherConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.logJSON || cfg.Logging.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "refresher",
		Short:         "Refresh tracked instruments from market data providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", defaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&ctx.logJSON, "log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newDaemonCommand(ctx))
	rootCmd.AddCommand(newTrackCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// stderrLogger is used by commands whose stdout carries the result.
func (c *commandContext) stderrLogger(cfg *config.RefresherConfig) (*slog.Logger, error) {
	return c.logger(cfg, os.Stderr)
}
