package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cleanupAgeHours  int
	cleanupPortfolio string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale placeholder snapshots",
	Long: `Deletes incomplete snapshot rows older than the age threshold, the
leftovers of runs that died mid-pipeline. Complete snapshots are never
touched. The next batch reprocesses the freed dates.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupAgeHours, "age-hours", 0, "Minimum placeholder age (default: grace window)")
	cleanupCmd.Flags().StringVar(&cleanupPortfolio, "portfolio", "", "Limit to one portfolio ID")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	age := cleanupAgeHours
	if age <= 0 {
		age = a.cfg.Analytics.PlaceholderGraceHours
	}

	deleted, err := a.snapRepo.DeleteStalePlaceholders(age, cleanupPortfolio)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d stale placeholder(s)\n", deleted)
	return nil
}
