package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/notify"
	"github.com/errwatch/errwatch/routing"
	"github.com/errwatch/errwatch/source"
)

// CheckerOptions configures the check pipeline.
type CheckerOptions struct {
	LockTTL time.Duration
	// Open builds sources from stored query configuration; defaults to
	// source.New.
	Open source.Opener
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Checker runs the per-query check pipeline: eligibility, lock, fetch,
// diff, route, aggregate, dispatch, record.
type Checker struct {
	queries  *QueryStore
	errStore *ErrorStore
	runLogs  *RunLogStore
	rules    *routing.RuleStore
	channels *notify.ChannelStore
	engine   *routing.Engine

	emailDispatcher   notify.Dispatcher
	channelDispatcher notify.Dispatcher

	open    source.Opener
	lockTTL time.Duration
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// NewChecker wires the pipeline over one database handle.
func NewChecker(
	queries *QueryStore,
	errStore *ErrorStore,
	runLogs *RunLogStore,
	rules *routing.RuleStore,
	channels *notify.ChannelStore,
	email notify.Dispatcher,
	channel notify.Dispatcher,
	opts CheckerOptions,
	logger *zap.SugaredLogger,
) *Checker {
	if opts.LockTTL == 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Open == nil {
		opts.Open = source.New
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		queries:           queries,
		errStore:          errStore,
		runLogs:           runLogs,
		rules:             rules,
		channels:          channels,
		engine:            routing.NewEngine(logger),
		emailDispatcher:   email,
		channelDispatcher: channel,
		open:              opts.Open,
		lockTTL:           opts.LockTTL,
		now:               opts.Now,
		logger:            logger,
	}
}

// CheckQuery runs one scheduled cycle for the query, honoring its schedule.
func (c *Checker) CheckQuery(ctx context.Context, queryID string) (*CheckResult, error) {
	return c.run(ctx, queryID, false)
}

// RunNow runs a cycle immediately. With force, the schedule (days, window,
// interval) is ignored; the execution lock still applies.
func (c *Checker) RunNow(ctx context.Context, queryID string, force bool) (*CheckResult, error) {
	return c.run(ctx, queryID, force)
}

func (c *Checker) run(ctx context.Context, queryID string, force bool) (*CheckResult, error) {
	q, err := c.queries.Get(queryID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if !force {
		if ok, reason := q.ShouldRun(now); !ok {
			return &CheckResult{Status: StatusSkipped, SkipReason: reason}, nil
		}
	}

	acquired, err := c.queries.AcquireLock(q.ID, now, c.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		result := &CheckResult{Status: StatusSkipped, SkipReason: SkipLocked}
		if err := c.runLogs.Record(q.ID, now, result); err != nil {
			c.warnw("Failed to record skipped run", "query", q.Name, "error", err)
		}
		return result, nil
	}
	defer func() {
		if err := c.queries.ReleaseLock(q.ID); err != nil {
			c.warnw("Failed to release query lock", "query", q.Name, "error", err)
		}
	}()

	started := time.Now()
	result := c.executeCycle(ctx, q, now)
	result.DurationMs = int(time.Since(started).Milliseconds())

	if err := c.runLogs.Record(q.ID, now, result); err != nil {
		c.warnw("Failed to record run log", "query", q.Name, "error", err)
	}

	hadErrors := result.Status == StatusSuccess && result.RowsReturned > 0
	if err := c.queries.UpdateAfterCheck(q.ID, now, result.NewErrors, result.NotificationsSent, hadErrors); err != nil {
		c.warnw("Failed to update query statistics", "query", q.Name, "error", err)
	}

	if result.Status == StatusError {
		c.errorw("Check cycle failed",
			"query", q.Name,
			"error", result.ErrorMessage,
			"duration_ms", result.DurationMs)
	} else {
		c.infow("Check cycle complete",
			"query", q.Name,
			"rows", result.RowsReturned,
			"new", result.NewErrors,
			"resolved", result.ResolvedErrors,
			"reminders", result.RemindersSent,
			"notifications", result.NotificationsSent,
			"duration_ms", result.DurationMs)
	}

	return result, nil
}

// executeCycle runs fetch → diff → route → aggregate → dispatch under the
// held lock. A fetch or signature failure aborts the cycle without touching
// lifecycle state; dispatch failures never roll lifecycle state back.
func (c *Checker) executeCycle(ctx context.Context, q *MonitoredQuery, now time.Time) *CheckResult {
	result := &CheckResult{Status: StatusSuccess}

	src, err := c.open(q.SourceType, q.SourceConfig, q.SQLQuery)
	if err != nil {
		result.Status = StatusError
		result.ErrorMessage = err.Error()
		return result
	}
	defer src.Close()

	timeout := time.Duration(q.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetched, err := src.Fetch(fetchCtx)
	if err != nil {
		result.Status = StatusError
		result.ErrorMessage = err.Error()
		return result
	}
	result.RowsReturned = len(fetched.Rows)

	snapshot, err := BuildSnapshot(fetched.Rows, q.KeyFields)
	if err != nil {
		result.Status = StatusError
		result.ErrorMessage = err.Error()
		return result
	}

	existing, err := c.errStore.ListUnresolved(q.ID)
	if err != nil {
		result.Status = StatusError
		result.ErrorMessage = err.Error()
		return result
	}

	diff := Diff(existing, snapshot)
	result.NewErrors = len(diff.New)

	// Apply lifecycle transitions before planning notifications so a
	// dispatch failure cannot lose state.
	newRecords := make([]ErrorRecord, 0, len(diff.New))
	for _, snap := range diff.New {
		rec, err := c.errStore.Insert(q.ID, snap.Hash, snap.Row, now)
		if err != nil {
			result.Status = StatusError
			result.ErrorMessage = err.Error()
			return result
		}
		newRecords = append(newRecords, *rec)
	}
	for _, cont := range diff.Continuing {
		if err := c.errStore.Touch(cont.Record.ID, cont.Row, now); err != nil {
			c.warnw("Failed to touch continuing error", "query", q.Name, "error", err)
		}
	}
	resolvedIDs := make([]string, 0, len(diff.Resolved))
	for _, rec := range diff.Resolved {
		resolvedIDs = append(resolvedIDs, rec.ID)
	}
	resolved, err := c.errStore.Resolve(resolvedIDs, now)
	if err != nil {
		c.warnw("Failed to resolve errors", "query", q.Name, "error", err)
	}
	result.ResolvedErrors = resolved

	plan := notify.NewPlan(q.ID, q.Name)
	notifiedNew := c.planNewErrors(q, newRecords, plan)
	remindedIDs := c.planReminders(q, diff.Continuing, now, plan)

	sentEntries, sentErrorIDs := c.dispatch(ctx, q, plan)
	result.NotificationsSent = sentEntries

	// Only errors that actually went out get their notified/reminded
	// state advanced; the rest retry next cycle.
	var markNotified, markReminded []string
	for _, id := range notifiedNew {
		if sentErrorIDs[id] {
			markNotified = append(markNotified, id)
		}
	}
	for _, id := range remindedIDs {
		if sentErrorIDs[id] {
			markReminded = append(markReminded, id)
		}
	}
	result.RemindersSent = len(markReminded)

	if err := c.errStore.MarkNotified(markNotified, now); err != nil {
		c.warnw("Failed to mark errors notified", "query", q.Name, "error", err)
	}
	if err := c.errStore.MarkReminded(markReminded, now); err != nil {
		c.warnw("Failed to mark errors reminded", "query", q.Name, "error", err)
	}

	return result
}

// planNewErrors routes each new error and adds it to the plan. Returns the
// IDs of errors with at least one destination.
func (c *Checker) planNewErrors(q *MonitoredQuery, newRecords []ErrorRecord, plan *notify.Plan) []string {
	var rules []routing.Rule
	if q.RoutingEnabled {
		loaded, err := c.rules.ListForQuery(q.ID)
		if err != nil {
			c.warnw("Failed to load routing rules, using defaults", "query", q.Name, "error", err)
		} else {
			rules = loaded
		}
	}

	channels, err := c.channels.ListForQuery(q.ID)
	if err != nil {
		c.warnw("Failed to load channels", "query", q.Name, "error", err)
	}

	var planned []string
	for _, rec := range newRecords {
		errCtx := notify.ErrorContext{
			ErrorID:         rec.ID,
			Row:             rec.RowData,
			FirstSeenAt:     rec.FirstSeenAt,
			OccurrenceCount: rec.OccurrenceCount,
		}

		recipients := q.Recipients
		if q.RoutingEnabled {
			defaults := q.RoutingDefaultRecipients
			if len(defaults) == 0 {
				defaults = q.Recipients
			}
			decision := c.engine.Route(rec.RowData, rules, defaults, q.RoutingNoMatchAction)
			if decision.Skip {
				continue
			}
			recipients = decision.Recipients
		}

		hasDestination := false
		for _, addr := range recipients {
			plan.Add(notify.Destination{Type: notify.DestEmail, Address: addr}, notify.KindNew, errCtx)
			hasDestination = true
		}
		for _, ch := range channels {
			plan.Add(notify.Destination{Type: notify.DestChannel, Address: ch.ID, Name: ch.Name}, notify.KindNew, errCtx)
			hasDestination = true
		}
		if hasDestination {
			planned = append(planned, rec.ID)
		}
	}
	return planned
}

// planReminders adds due reminders for continuing errors to the plan.
// Reminders go to the query's default recipients and channels; routing
// applies to initial notifications only.
func (c *Checker) planReminders(q *MonitoredQuery, continuing []ContinuingError, now time.Time, plan *notify.Plan) []string {
	if q.ReminderIntervalMinutes <= 0 {
		return nil
	}

	channels, err := c.channels.ListForQuery(q.ID)
	if err != nil {
		c.warnw("Failed to load channels for reminders", "query", q.Name, "error", err)
	}

	var due []string
	for _, cont := range continuing {
		rec := cont.Record
		if !rec.ReminderDue(now, q.ReminderIntervalMinutes, q.ReminderMaxCount) {
			continue
		}

		errCtx := notify.ErrorContext{
			ErrorID:         rec.ID,
			Row:             cont.Row,
			FirstSeenAt:     rec.FirstSeenAt,
			OccurrenceCount: rec.OccurrenceCount + 1,
		}
		hasDestination := false
		for _, addr := range q.Recipients {
			plan.Add(notify.Destination{Type: notify.DestEmail, Address: addr}, notify.KindReminder, errCtx)
			hasDestination = true
		}
		for _, ch := range channels {
			plan.Add(notify.Destination{Type: notify.DestChannel, Address: ch.ID, Name: ch.Name}, notify.KindReminder, errCtx)
			hasDestination = true
		}
		if hasDestination {
			due = append(due, rec.ID)
		}
	}
	return due
}

// dispatch sends every plan entry and returns the count of successful
// deliveries plus the set of error IDs included in at least one of them.
func (c *Checker) dispatch(ctx context.Context, q *MonitoredQuery, plan *notify.Plan) (int, map[string]bool) {
	sentErrorIDs := map[string]bool{}
	sent := 0

	for _, entry := range plan.Entries() {
		var d notify.Dispatcher
		switch entry.Destination.Type {
		case notify.DestEmail:
			d = c.emailDispatcher
		case notify.DestChannel:
			d = c.channelDispatcher
		}
		if d == nil {
			continue
		}

		if err := d.Send(ctx, entry); err != nil {
			c.warnw("Notification delivery failed",
				"query", q.Name,
				"destination", entry.Destination.Address,
				"kind", entry.Kind,
				"error", err)
			continue
		}

		sent++
		for _, ec := range entry.Errors {
			sentErrorIDs[ec.ErrorID] = true
		}
	}
	return sent, sentErrorIDs
}

// ResolveManually resolves one error outside the diff cycle.
func (c *Checker) ResolveManually(errorID string) error {
	return c.errStore.ResolveManually(errorID, c.now())
}

// ListActiveErrors returns a query's unresolved errors.
func (c *Checker) ListActiveErrors(queryID string) ([]ErrorRecord, error) {
	return c.errStore.ListUnresolved(queryID)
}

// NextScheduledRun returns when the query's next interval slot falls.
func (c *Checker) NextScheduledRun(queryID string) (time.Time, error) {
	q, err := c.queries.Get(queryID)
	if err != nil {
		return time.Time{}, err
	}
	if !q.Active {
		return time.Time{}, errors.Newf("query %s is inactive", q.Name)
	}
	return q.NextRunAt(c.now()), nil
}

func (c *Checker) infow(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Infow(msg, kv...)
	}
}

func (c *Checker) warnw(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Warnw(msg, kv...)
	}
}

func (c *Checker) errorw(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Errorw(msg, kv...)
	}
}
