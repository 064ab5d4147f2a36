package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Multi-strategy futures trading core",
	Long: `Trader runs the single-writer strategy core against a paper gateway.

Commands:
  - paper: replay a JSON-lines quote file through every enabled strategy
  - gen: write a synthetic quote file
  - snapshot: print or compare ledger snapshots`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logs.Errorf("%+v", err)
		os.Exit(1)
	}
}
