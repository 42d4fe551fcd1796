package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TickerConfig configures the monitor ticker.
type TickerConfig struct {
	// Interval is how often due queries are checked (default: 1 minute).
	Interval time.Duration
	// MaxConcurrentChecks bounds the per-tick fan-out (default: 4).
	MaxConcurrentChecks int
	// CleanupInterval is how often retention cleanup runs (default: 24h).
	CleanupInterval time.Duration
	// RunLogRetentionDays / ResolvedRetentionDays bound the cleanup.
	RunLogRetentionDays   int
	ResolvedRetentionDays int
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:              time.Minute,
		MaxConcurrentChecks:   4,
		CleanupInterval:       24 * time.Hour,
		RunLogRetentionDays:   30,
		ResolvedRetentionDays: 90,
	}
}

// Ticker drives the monitoring loop: each tick it lists active queries,
// filters the due ones, and fans their check pipelines out to a bounded
// set of goroutines.
type Ticker struct {
	queries *QueryStore
	checker *Checker
	cleaner *Cleaner
	cfg     TickerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastCleanupAt   time.Time
	lastDueCount    int
}

// NewTicker creates a ticker.
func NewTicker(queries *QueryStore, checker *Checker, cleaner *Cleaner, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), queries, checker, cleaner, cfg, logger)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, queries *QueryStore, checker *Checker, cleaner *Cleaner, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = 4
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		queries: queries,
		checker: checker,
		cleaner: cleaner,
		cfg:     cfg,
		ctx:     tickerCtx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start begins the ticker loop. Any lock left behind by a previous process
// is cleared first.
func (t *Ticker) Start() {
	if cleared, err := t.queries.ClearStaleLocks(); err != nil {
		t.logger.Warnw("Failed to clear stale locks", "error", err)
	} else if cleared > 0 {
		t.logger.Infow("Cleared stale query locks", "count", cleared)
	}

	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Monitor ticker started",
		"interval", t.cfg.Interval,
		"max_concurrent_checks", t.cfg.MaxConcurrentChecks)
}

// Stop cancels the loop and waits for in-flight checks to drain.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Monitor ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			if err := t.checkDueQueries(tickTime); err != nil {
				t.logger.Warnw("Monitor tick error", "error", err, "tick", tick)
			}

			t.maybeCleanup(tickTime)
		}
	}
}

// checkDueQueries fans out the due queries' check pipelines.
func (t *Ticker) checkDueQueries(now time.Time) error {
	queries, err := t.queries.List(true)
	if err != nil {
		return err
	}

	var due []MonitoredQuery
	for _, q := range queries {
		if ok, _ := q.ShouldRun(now); ok {
			due = append(due, q)
		}
	}

	t.logStatus(now, len(queries), len(due))
	if len(due) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(t.ctx)
	g.SetLimit(t.cfg.MaxConcurrentChecks)
	for _, q := range due {
		q := q
		g.Go(func() error {
			if _, err := t.checker.CheckQuery(ctx, q.ID); err != nil {
				t.logger.Errorw("Query check failed",
					"query", q.Name,
					"query_id", q.ID,
					"error", err)
			}
			// One failing query never stops the others.
			return nil
		})
	}
	return g.Wait()
}

// logStatus emits the periodic status line when activity changes.
func (t *Ticker) logStatus(now time.Time, active, due int) {
	t.mu.Lock()
	changed := due != t.lastDueCount
	t.lastDueCount = due
	t.mu.Unlock()

	if !changed && due == 0 {
		return
	}

	msg := fmt.Sprintf("Monitor - %d active queries, %d due", active, due)
	if vm, err := mem.VirtualMemory(); err == nil {
		msg += fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)",
			float64(vm.Used)/(1<<30), float64(vm.Total)/(1<<30), vm.UsedPercent)
	}
	t.logger.Infow(msg)
}

// maybeCleanup runs retention cleanup once per cleanup interval.
func (t *Ticker) maybeCleanup(now time.Time) {
	if t.cleaner == nil {
		return
	}

	t.mu.Lock()
	due := t.lastCleanupAt.IsZero() || now.Sub(t.lastCleanupAt) >= t.cfg.CleanupInterval
	if due {
		t.lastCleanupAt = now
	}
	t.mu.Unlock()

	if !due {
		return
	}

	logsDeleted, errorsDeleted, err := t.cleaner.Run(now, t.cfg.RunLogRetentionDays, t.cfg.ResolvedRetentionDays)
	if err != nil {
		t.logger.Warnw("Retention cleanup failed", "error", err)
		return
	}
	if logsDeleted > 0 || errorsDeleted > 0 {
		t.logger.Infow("Retention cleanup complete",
			"run_logs_deleted", logsDeleted,
			"resolved_errors_deleted", errorsDeleted)
	}
}

// GetStats returns ticker statistics.
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.cfg.Interval,
		"last_cleanup_at":   t.lastCleanupAt,
	}
}
