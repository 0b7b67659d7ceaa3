package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/spyglass/internal/batch"
)

var (
	batchPortfolioID string
	batchForce       bool
	batchForceRerun  bool
	batchStartDate   string
	batchEndDate     string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one batch and exit",
	Long: `Processes the most recent trading day, backfilling any per-portfolio
gaps. With --force-rerun and a date range, existing calculation results in
the range are wiped and recomputed.

Examples:
  spyglass batch
  spyglass batch --force-rerun --start 2026-01-05 --end 2026-01-09
  spyglass batch --force-rerun --start 2026-01-05 --end 2026-01-09 --portfolio pf-123`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchPortfolioID, "portfolio", "", "Limit to one portfolio ID")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "Displace a run already in progress")
	batchCmd.Flags().BoolVar(&batchForceRerun, "force-rerun", false, "Wipe and recompute the date range")
	batchCmd.Flags().StringVar(&batchStartDate, "start", "", "Range start, YYYY-MM-DD")
	batchCmd.Flags().StringVar(&batchEndDate, "end", "", "Range end, YYYY-MM-DD")
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchForceRerun && (batchStartDate == "" || batchEndDate == "") {
		return fmt.Errorf("--force-rerun requires --start and --end")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if batchForceRerun {
		out, err := a.orchestrator.RunRange(ctx, "cli", batchPortfolioID, batchStartDate, batchEndDate, batchForce)
		if err != nil {
			return err
		}
		printSummary(out)
		return nil
	}

	out, err := a.orchestrator.RunDaily(ctx, "cli", batchForce)
	if err != nil {
		return err
	}
	printSummary(out)
	return nil
}

func printSummary(s *batch.RunSummary) {
	fmt.Printf("run %s date=%s portfolios=%d jobs=%d completed=%d skipped=%d failed=%d duration=%s\n",
		s.RunID, s.Date, s.Portfolios, s.Jobs, s.Completed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}
