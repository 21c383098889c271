package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rickgao/instrument-refresh/internal/scheduler"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderReport formats a run report as a stage table plus a summary line.
func renderReport(r scheduler.RunReport) string {
	headers := []string{"Stage", "State", "Attempted", "Succeeded", "Removed", "Failed", "Elapsed", "Budget", "Note"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		name := s.Name
		if s.Critical {
			name += " *"
		}
		note := s.Reason
		if s.Error != "" {
			note = s.Error
		}
		rows = append(rows, []string{
			name,
			s.State.String(),
			strconv.Itoa(s.Attempted),
			strconv.Itoa(s.Succeeded),
			strconv.Itoa(s.Removed),
			strconv.Itoa(s.Failed),
			formatDuration(s.Elapsed),
			formatDuration(s.Budget),
			note,
		})
	}

	t := r.Totals()
	status := "complete"
	if r.Partial() {
		status = "partial"
	}
	summary := fmt.Sprintf("Run %s %s in %s: %d attempted, %d succeeded, %d removed, %d failed",
		r.RunID, status, formatDuration(r.Elapsed), t.Attempted, t.Succeeded, t.Removed, t.Failed)

	return renderTable(headers, rows, aligns) + "\n" + summary
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
