package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/cmd/errwatch/commands"
	"github.com/errwatch/errwatch/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "errwatch",
	Short: "errwatch - poll-and-diff error monitoring",
	Long: `errwatch - poll-and-diff error monitoring.

errwatch periodically executes configured queries against SQL databases and
HTTP endpoints, treats every returned row as an active error, tracks error
identity across cycles, auto-resolves errors that disappear, routes new
errors through conditional rules, and reminds about long-lived ones.

Available commands:
  serve   - Run the monitoring daemon
  query   - Manage monitored queries (ls, add, run, errors, resolve, logs)
  channel - Manage notification channels
  db      - Database operations (migrate, stats)
  config  - Manage configuration

Examples:
  errwatch config init             # Write a default errwatch.toml
  errwatch query add -f query.json # Register a monitored query
  errwatch query run failed-orders --force
  errwatch serve                   # Start the daemon`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log output instead of console format")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.ChannelCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
