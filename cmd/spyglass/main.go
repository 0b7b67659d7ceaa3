// Package main is the entry point for the Spyglass portfolio analytics
// engine: a nightly batch that turns inbound positions and market data into
// risk snapshots, factor exposures, correlations and stress results.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
