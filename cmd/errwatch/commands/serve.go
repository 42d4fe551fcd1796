package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/logger"
	"github.com/errwatch/errwatch/monitor"
	"github.com/errwatch/errwatch/notify"
	"github.com/errwatch/errwatch/routing"
)

// ServeCmd runs the monitoring daemon.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring daemon",
	Long: `Run the monitoring daemon in foreground mode.

The daemon will:
- Tick once a minute and check every due monitored query
- Track error lifecycles and auto-resolve disappeared errors
- Route new errors and dispatch aggregated notifications
- Run until interrupted (Ctrl+C), draining in-flight checks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		queries := monitor.NewQueryStore(database)
		errStore := monitor.NewErrorStore(database)
		runLogs := monitor.NewRunLogStore(database)
		rules := routing.NewRuleStore(database)
		channels := notify.NewChannelStore(database)

		email := notify.NewEmailDispatcher(logger.Logger)
		channelDispatcher := notify.NewChannelDispatcher(channels, notify.DispatcherOptions{
			Timeout:           time.Duration(cfg.Notify.HTTPTimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.Notify.RequestsPerMinute,
			AllowPrivateURLs:  cfg.Notify.AllowPrivateURLs,
		}, logger.Logger)

		checker := monitor.NewChecker(queries, errStore, runLogs, rules, channels,
			email, channelDispatcher,
			monitor.CheckerOptions{
				LockTTL: time.Duration(cfg.Monitor.LockTTLMinutes) * time.Minute,
			}, logger.Logger)

		tickerCfg := monitor.DefaultTickerConfig()
		tickerCfg.Interval = time.Duration(cfg.Monitor.TickerIntervalSeconds) * time.Second
		tickerCfg.MaxConcurrentChecks = cfg.Monitor.MaxConcurrentChecks
		tickerCfg.RunLogRetentionDays = cfg.Monitor.RunLogRetentionDays
		tickerCfg.ResolvedRetentionDays = cfg.Monitor.ResolvedRetentionDays

		cleaner := monitor.NewCleaner(runLogs, errStore)
		ticker := monitor.NewTicker(queries, checker, cleaner, tickerCfg, logger.Logger)
		ticker.Start()

		fmt.Println("errwatch daemon started")
		fmt.Printf("  Database:       %s\n", cfg.Database.Path)
		fmt.Printf("  Tick interval:  %v\n", tickerCfg.Interval)
		fmt.Printf("  Max concurrent: %d\n", tickerCfg.MaxConcurrentChecks)
		fmt.Println("Press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down, draining in-flight checks...")
		ticker.Stop()
		fmt.Println("errwatch daemon stopped")
		return nil
	},
}
