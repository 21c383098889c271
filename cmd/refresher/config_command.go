package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderPlan(cfg))
			return err
		},
	}

	configCmd.AddCommand(checkCmd)
	return configCmd
}

// renderPlan prints the provider chain and stage plan after defaults.
func renderPlan(cfg *config.RefresherConfig) string {
	var b strings.Builder

	providerRows := make([][]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		caps := "all"
		if len(p.Capabilities) > 0 {
			caps = strings.Join(p.Capabilities, ",")
		}
		quota := "unlimited"
		if p.Quota.Limit > 0 {
			quota = fmt.Sprintf("%d/%s", p.Quota.Limit, p.Quota.Period)
		}
		providerRows = append(providerRows, []string{
			p.Name, p.Kind, strconv.Itoa(countKeys(p.Keys)), caps, quota,
		})
	}
	b.WriteString(renderTable(
		[]string{"Provider", "Kind", "Keys", "Capabilities", "Quota"},
		providerRows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
	))
	b.WriteString("\n")

	stageRows := make([][]string, 0, len(cfg.Stages))
	for _, s := range cfg.Stages {
		capability := s.Capability
		if capability == "" {
			capability = "-"
		}
		limit := "-"
		if s.MaxEntities > 0 {
			limit = strconv.Itoa(s.MaxEntities)
		}
		critical := ""
		if s.Critical {
			critical = "yes"
		}
		stageRows = append(stageRows, []string{
			s.Name, s.Kind, capability, formatDuration(s.Budget), limit,
			formatDuration(s.StaleAfter), strconv.Itoa(s.BatchSize), critical,
		})
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Kind", "Capability", "Budget", "Max", "Stale After", "Batch", "Critical"},
		stageRows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Existence quorum %d, run budget %s, daily at %s %s, store %s",
		cfg.Consensus.Quorum, formatDuration(cfg.Run.TotalBudget),
		cfg.Schedule.At, cfg.Schedule.Timezone, cfg.Store.Driver)
	return b.String()
}

func countKeys(keys []string) int {
	n := 0
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			n++
		}
	}
	return n
}
