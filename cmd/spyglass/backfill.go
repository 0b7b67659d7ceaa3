package main

import (
	"github.com/spf13/cobra"
)

var backfillDays int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill incomplete trading days in the trailing window",
	Long: `Processes every trading day in the trailing window that has no complete
snapshot. Completed days are skipped, so the command is safe to run
repeatedly.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().IntVar(&backfillDays, "days", 0, "Trading days to look back (default: weekly backfill window)")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	days := backfillDays
	if days <= 0 {
		days = a.cfg.Analytics.WeeklyBackfillDays
	}

	out, err := a.orchestrator.RunBackfill(cmd.Context(), "cli", days)
	if err != nil {
		return err
	}
	printSummary(out)
	return nil
}
