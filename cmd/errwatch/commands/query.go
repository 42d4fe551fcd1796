package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/logger"
	"github.com/errwatch/errwatch/monitor"
	"github.com/errwatch/errwatch/notify"
	"github.com/errwatch/errwatch/routing"
	"github.com/errwatch/errwatch/source"
)

// QueryCmd groups monitored query operations.
var QueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Manage monitored queries",
	Long: `Manage monitored queries.

Examples:
  errwatch query ls                      # List all queries
  errwatch query add -f failed.json      # Register a query from a JSON file
  errwatch query run failed-orders       # Run a check cycle now
  errwatch query run failed-orders --force
  errwatch query errors failed-orders    # List unresolved errors
  errwatch query resolve <error-id>      # Resolve one error manually
  errwatch query logs failed-orders      # Show recent run logs
  errwatch query test failed-orders      # Test the query's data source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var (
	queryAddFile  string
	queryRunForce bool
	queryLogLimit int
)

var queryLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List monitored queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		queries, err := monitor.NewQueryStore(database).List(false)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			fmt.Println("No monitored queries configured")
			return nil
		}

		fmt.Printf("%-36s %-24s %-8s %-9s %s\n", "ID", "NAME", "ACTIVE", "INTERVAL", "LAST CHECK")
		for _, q := range queries {
			lastCheck := "never"
			if q.LastCheckAt != nil {
				lastCheck = q.LastCheckAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s %-24s %-8v %4dm     %s\n",
				q.ID, q.Name, q.Active, q.IntervalMinutes, lastCheck)
		}
		return nil
	},
}

// queryDefinition is the JSON shape accepted by `query add`.
type queryDefinition struct {
	Name                     string          `json:"name"`
	Description              string          `json:"description"`
	SourceType               string          `json:"source_type"`
	SourceConfig             json.RawMessage `json:"source_config"`
	SQLQuery                 string          `json:"sql_query"`
	KeyFields                []string        `json:"key_fields"`
	IntervalMinutes          int             `json:"interval_minutes"`
	ScheduleDays             []int           `json:"schedule_days"`
	WindowStart              string          `json:"window_start"`
	WindowEnd                string          `json:"window_end"`
	FetchTimeoutSeconds      int             `json:"fetch_timeout_seconds"`
	Recipients               []string        `json:"recipients"`
	RoutingEnabled           bool            `json:"routing_enabled"`
	RoutingDefaultRecipients []string        `json:"routing_default_recipients"`
	RoutingNoMatchAction     string          `json:"routing_no_match_action"`
	ReminderIntervalMinutes  int             `json:"reminder_interval_minutes"`
	ReminderMaxCount         int             `json:"reminder_max_count"`
}

var queryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a monitored query from a JSON definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryAddFile == "" {
			return errors.New("--file is required")
		}

		content, err := os.ReadFile(queryAddFile)
		if err != nil {
			return errors.Wrap(err, "read query definition")
		}
		var def queryDefinition
		if err := json.Unmarshal(content, &def); err != nil {
			return errors.Wrap(err, "parse query definition")
		}

		q := &monitor.MonitoredQuery{
			Name:                     def.Name,
			Description:              def.Description,
			SourceType:               def.SourceType,
			SourceConfig:             string(def.SourceConfig),
			SQLQuery:                 def.SQLQuery,
			KeyFields:                def.KeyFields,
			IntervalMinutes:          def.IntervalMinutes,
			Active:                   true,
			ScheduleDays:             def.ScheduleDays,
			WindowStart:              def.WindowStart,
			WindowEnd:                def.WindowEnd,
			FetchTimeoutSeconds:      def.FetchTimeoutSeconds,
			Recipients:               def.Recipients,
			RoutingEnabled:           def.RoutingEnabled,
			RoutingDefaultRecipients: def.RoutingDefaultRecipients,
			RoutingNoMatchAction:     def.RoutingNoMatchAction,
			ReminderIntervalMinutes:  def.ReminderIntervalMinutes,
			ReminderMaxCount:         def.ReminderMaxCount,
		}
		if q.IntervalMinutes == 0 {
			q.IntervalMinutes = 15
		}

		if err := monitor.ValidateQuery(q); err != nil {
			return err
		}

		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := monitor.NewQueryStore(database).Create(q); err != nil {
			return err
		}
		fmt.Printf("Created query %q (%s)\n", q.Name, q.ID)
		return nil
	},
}

var queryRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a check cycle now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		queries := monitor.NewQueryStore(database)
		q, err := queries.GetByName(args[0])
		if err != nil {
			return errors.Wrapf(err, "query %q", args[0])
		}

		channels := notify.NewChannelStore(database)
		checker := monitor.NewChecker(
			queries,
			monitor.NewErrorStore(database),
			monitor.NewRunLogStore(database),
			routing.NewRuleStore(database),
			channels,
			notify.NewEmailDispatcher(logger.Logger),
			notify.NewChannelDispatcher(channels, notify.DispatcherOptions{
				Timeout:           time.Duration(cfg.Notify.HTTPTimeoutSeconds) * time.Second,
				RequestsPerMinute: cfg.Notify.RequestsPerMinute,
				AllowPrivateURLs:  cfg.Notify.AllowPrivateURLs,
			}, logger.Logger),
			monitor.CheckerOptions{
				LockTTL: time.Duration(cfg.Monitor.LockTTLMinutes) * time.Minute,
			},
			logger.Logger)

		result, err := checker.RunNow(cmd.Context(), q.ID, queryRunForce)
		if err != nil {
			return err
		}

		fmt.Printf("Status:         %s\n", result.Status)
		if result.SkipReason != "" {
			fmt.Printf("Skip reason:    %s\n", result.SkipReason)
		}
		if result.ErrorMessage != "" {
			fmt.Printf("Error:          %s\n", result.ErrorMessage)
		}
		fmt.Printf("Rows returned:  %d\n", result.RowsReturned)
		fmt.Printf("New errors:     %d\n", result.NewErrors)
		fmt.Printf("Resolved:       %d\n", result.ResolvedErrors)
		fmt.Printf("Reminders:      %d\n", result.RemindersSent)
		fmt.Printf("Notifications:  %d\n", result.NotificationsSent)
		fmt.Printf("Duration:       %dms\n", result.DurationMs)
		return nil
	},
}

var queryErrorsCmd = &cobra.Command{
	Use:   "errors <name>",
	Short: "List a query's unresolved errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		q, err := monitor.NewQueryStore(database).GetByName(args[0])
		if err != nil {
			return errors.Wrapf(err, "query %q", args[0])
		}

		records, err := monitor.NewErrorStore(database).ListUnresolved(q.ID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No unresolved errors")
			return nil
		}

		for _, rec := range records {
			rowJSON, _ := json.Marshal(rec.RowData)
			fmt.Printf("%s  first=%s  seen=%dx  notified=%v\n  %s\n",
				rec.ID,
				rec.FirstSeenAt.Local().Format("2006-01-02 15:04"),
				rec.OccurrenceCount,
				rec.Notified,
				rowJSON)
		}
		return nil
	},
}

var queryResolveCmd = &cobra.Command{
	Use:   "resolve <error-id>",
	Short: "Resolve one error manually",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		store := monitor.NewErrorStore(database)
		if err := store.ResolveManually(args[0], time.Now().UTC()); err != nil {
			return err
		}
		fmt.Printf("Resolved error %s\n", args[0])
		return nil
	},
}

var queryLogsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show a query's recent run logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		q, err := monitor.NewQueryStore(database).GetByName(args[0])
		if err != nil {
			return errors.Wrapf(err, "query %q", args[0])
		}

		logs, err := monitor.NewRunLogStore(database).ListForQuery(q.ID, queryLogLimit)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("No run logs")
			return nil
		}

		fmt.Printf("%-17s %-8s %5s %4s %4s %4s %6s  %s\n",
			"EXECUTED", "STATUS", "ROWS", "NEW", "RES", "REM", "MS", "MESSAGE")
		for _, l := range logs {
			fmt.Printf("%-17s %-8s %5d %4d %4d %4d %6d  %s\n",
				l.ExecutedAt.Local().Format("2006-01-02 15:04"),
				l.Status, l.RowsReturned, l.NewErrors, l.ResolvedErrors,
				l.RemindersSent, l.DurationMs, l.ErrorMessage)
		}
		return nil
	},
}

var queryTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test a query's data source and show sample rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		q, err := monitor.NewQueryStore(database).GetByName(args[0])
		if err != nil {
			return errors.Wrapf(err, "query %q", args[0])
		}

		src, err := source.New(q.SourceType, q.SourceConfig, q.SQLQuery)
		if err != nil {
			return err
		}
		defer src.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		report := src.Test(ctx)
		if !report.Success {
			return errors.Newf("test failed: %s", report.Message)
		}

		fmt.Println(report.Message)
		fmt.Printf("Columns: %v\n", report.Columns)
		for _, row := range report.SampleRows {
			rowJSON, _ := json.Marshal(row)
			fmt.Printf("  %s\n", rowJSON)
		}
		return nil
	},
}

func init() {
	queryAddCmd.Flags().StringVarP(&queryAddFile, "file", "f", "", "JSON query definition file")
	queryRunCmd.Flags().BoolVar(&queryRunForce, "force", false, "Ignore the schedule (days, window, interval)")
	queryLogsCmd.Flags().IntVar(&queryLogLimit, "limit", 20, "Number of recent runs to show")

	QueryCmd.AddCommand(queryLsCmd)
	QueryCmd.AddCommand(queryAddCmd)
	QueryCmd.AddCommand(queryRunCmd)
	QueryCmd.AddCommand(queryErrorsCmd)
	QueryCmd.AddCommand(queryResolveCmd)
	QueryCmd.AddCommand(queryLogsCmd)
	QueryCmd.AddCommand(queryTestCmd)
}
