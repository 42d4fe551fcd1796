package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/errors"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database operations",
	Long: `Manage the errwatch state database.

Examples:
  errwatch db migrate   # Apply pending schema migrations
  errwatch db stats     # Show database statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Printf("Database %s is up to date\n", cfg.Database.Path)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		var queries, activeQueries, openErrors, resolvedErrors, runLogs, channels int
		row := database.QueryRow(`
			SELECT
				(SELECT COUNT(*) FROM monitored_queries),
				(SELECT COUNT(*) FROM monitored_queries WHERE active = 1),
				(SELECT COUNT(*) FROM error_records WHERE resolved_at IS NULL),
				(SELECT COUNT(*) FROM error_records WHERE resolved_at IS NOT NULL),
				(SELECT COUNT(*) FROM run_logs),
				(SELECT COUNT(*) FROM notification_channels)`)
		if err := row.Scan(&queries, &activeQueries, &openErrors, &resolvedErrors, &runLogs, &channels); err != nil {
			return errors.Wrap(err, "query statistics")
		}

		fmt.Println("Database Statistics")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Printf("Database Path:     %s\n", cfg.Database.Path)
		fmt.Printf("Queries:           %d (%d active)\n", queries, activeQueries)
		fmt.Printf("Open Errors:       %d\n", openErrors)
		fmt.Printf("Resolved Errors:   %d\n", resolvedErrors)
		fmt.Printf("Run Logs:          %d\n", runLogs)
		fmt.Printf("Channels:          %d\n", channels)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
