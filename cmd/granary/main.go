package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/granary/cmd/granary/commands"
	"github.com/corvid-labs/granary/logger"
)

var (
	verbosity  int
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "granary",
	Short: "Granary - document ingestion pipeline with vector search",
	Long: `Granary ingests documents from external sources (GitHub issues,
forum posts), summarizes and chunks them, embeds the chunks and stores
them in a searchable SQLite vector index.

Available commands:
  serve    - Start the worker daemon (async job processing)
  collect  - Run a collection pass over configured sources
  search   - Search the vector index
  db       - Database operations (migrate, stats, cleanup)

Examples:
  granary collect                      # Collect all sources synchronously
  granary collect --async              # Enqueue collection for the daemon
  granary serve                        # Start the worker daemon
  granary search "timeout on retry"    # Search stored documents
  granary db stats                     # Show queue and index statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable JSON log output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.CollectCmd)
	rootCmd.AddCommand(commands.SearchCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
