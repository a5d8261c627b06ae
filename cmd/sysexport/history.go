package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyVerbose bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded export runs",
		Example: `  sysexport history
  sysexport history --limit 5 --verbose`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&historyVerbose, "verbose", false, "show per-phase results")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	runs, err := globalStore.ListExportRuns(historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No exports recorded.")
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(out, "%s  %-8s  %6d entries  %9s  %s  (%s)\n",
			run.StartTime.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.Entries,
			humanize.Bytes(uint64(run.Size)),
			run.Path,
			humanize.Time(run.StartTime),
		)
		if !historyVerbose {
			continue
		}
		for _, p := range run.Phases {
			line := fmt.Sprintf("    %-12s %-8s %d records", p.Phase, p.Status, p.Records)
			if p.Failures > 0 {
				line += fmt.Sprintf(", %d failed", p.Failures)
			}
			if p.Error != "" {
				line += ": " + p.Error
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
