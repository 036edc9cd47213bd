// Package commands implements the dispatch CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.2.0"
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Work-item assignment engine for accounting teams",
	Long: `Dispatch tracks client obligations as tasks, scores the active worker
pool against each one, and assigns work automatically.

Generate recurring obligations in bulk, run assignment batches by hand
or on a schedule, and watch the queue live in the terminal.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ~/.config/dispatch/dispatch.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides config)")
}
