package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/store"
)

func newTrackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "track SYMBOL...",
		Short: "Add symbols to the tracked set, or re-track removed ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return errors.New("track needs a persistent store; the memory store is seeded from universe")
			}
			logger, err := ctx.stderrLogger(cfg)
			if err != nil {
				return err
			}

			st, err := store.Open(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			added, err := st.Track(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("track symbols: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "tracking %d new symbol(s) of %d given\n", added, len(args))
			return err
		},
	}
}
