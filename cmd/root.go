// Package cmd wires the CLI: building the knowledge base, asking
// questions, validating generated SQL, and inspecting index state.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - text-to-SQL knowledge base",
	Long: `Quarry builds a searchable knowledge base from notebook SQL history
and catalog metadata, then answers natural-language questions with
generated, validated SQL.

Run "quarry build" once to populate the index, then "quarry query".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to quarry.yaml (default: ./quarry.yaml or ~/.quarry/)")
	// Subcommands register themselves in their own files.
}
