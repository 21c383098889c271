package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "refresher", version.String())
			return err
		},
	}
}
