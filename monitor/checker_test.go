package monitor

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errwatch/errwatch/errors"
	testdb "github.com/errwatch/errwatch/internal/testing"
	"github.com/errwatch/errwatch/notify"
	"github.com/errwatch/errwatch/routing"
	"github.com/errwatch/errwatch/source"
)

// stubSource returns a fixed result or error.
type stubSource struct {
	result *source.Result
	err    error
	block  chan struct{} // when set, Fetch waits until closed
}

func (s *stubSource) Fetch(ctx context.Context) (*source.Result, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, source.NewError(source.KindTimeout, ctx.Err(), "fetch timed out")
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubSource) Test(ctx context.Context) *source.TestReport { return nil }

func (s *stubSource) Fields(ctx context.Context) ([]source.Field, error) { return nil, nil }

func (s *stubSource) Close() error { return nil }

// captureDispatcher records sent entries.
type captureDispatcher struct {
	mu      sync.Mutex
	entries []notify.Entry
	fail    bool
}

func (d *captureDispatcher) Send(ctx context.Context, entry *notify.Entry) error {
	if d.fail {
		return errors.New("dispatch failed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, *entry)
	return nil
}

func (d *captureDispatcher) sent() []notify.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Entry(nil), d.entries...)
}

type checkerFixture struct {
	db      *sql.DB
	queries *QueryStore
	errs    *ErrorStore
	runLogs *RunLogStore
	rules   *routing.RuleStore
	email   *captureDispatcher
	channel *captureDispatcher
	src     *stubSource
	checker *Checker
	query   *MonitoredQuery
	now     time.Time
}

func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()

	db := testdb.CreateTestDB(t)
	f := &checkerFixture{
		db:      db,
		queries: NewQueryStore(db),
		errs:    NewErrorStore(db),
		runLogs: NewRunLogStore(db),
		rules:   routing.NewRuleStore(db),
		email:   &captureDispatcher{},
		channel: &captureDispatcher{},
		src:     &stubSource{result: &source.Result{}},
		now:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	q := sampleQuery()
	q.WindowStart = ""
	q.WindowEnd = ""
	q.ScheduleDays = nil
	require.NoError(t, f.queries.Create(q))
	f.query = q

	f.checker = NewChecker(
		f.queries, f.errs, f.runLogs, f.rules,
		notify.NewChannelStore(db),
		f.email, f.channel,
		CheckerOptions{
			Open: func(sourceType, configJSON, sqlQuery string) (source.Source, error) {
				return f.src, nil
			},
			Now: func() time.Time { return f.now },
		},
		nil,
	)
	return f
}

func (f *checkerFixture) setRows(rows ...source.Row) {
	f.src.result = &source.Result{Rows: rows}
	f.src.err = nil
}

func TestCheckerNewErrorsNotified(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"id": 1, "status": "failed"}, source.Row{"id": 2, "status": "failed"})

	result, err := f.checker.CheckQuery(context.Background(), f.query.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, result.RowsReturned)
	assert.Equal(t, 2, result.NewErrors)
	assert.Zero(t, result.ResolvedErrors)
	assert.Equal(t, 1, result.NotificationsSent) // one aggregate email to oncall@x.com

	sent := f.email.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindNew, sent[0].Kind)
	assert.Len(t, sent[0].Errors, 2)

	// Lifecycle state advanced.
	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 2)
	assert.True(t, unresolved[0].Notified)

	// Run log recorded, stats updated, lock released.
	logs, err := f.runLogs.ListForQuery(f.query.ID, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, StatusSuccess, logs[0].Status)

	q, err := f.queries.Get(f.query.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, q.TotalErrorsFound)
	assert.Nil(t, q.LockedAt)
	require.NotNil(t, q.LastCheckAt)
}

func TestCheckerContinuingIncrementsOccurrence(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"id": 1})

	_, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	f.now = f.now.Add(15 * time.Minute)
	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	assert.Zero(t, result.NewErrors)
	assert.Zero(t, result.ResolvedErrors)

	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, 2, unresolved[0].OccurrenceCount)

	// Continuing errors are not re-notified.
	assert.Len(t, f.email.sent(), 1)
}

func TestCheckerResolvesDisappeared(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"id": 1}, source.Row{"id": 2}, source.Row{"id": 3})

	_, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	f.now = f.now.Add(15 * time.Minute)
	f.setRows(source.Row{"id": 2}, source.Row{"id": 3}, source.Row{"id": 4})
	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.NewErrors)
	assert.Equal(t, 1, result.ResolvedErrors)

	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	assert.Len(t, unresolved, 3)
}

func TestCheckerSourceFailureAbortsCycle(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"id": 1})
	_, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	// Source fails next cycle: no lifecycle mutation, no false resolution.
	f.now = f.now.Add(15 * time.Minute)
	f.src.err = source.NewError(source.KindConnection, nil, "connection refused")
	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "connection refused")

	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Nil(t, unresolved[0].ResolvedAt)

	// Lock released even on failure.
	q, err := f.queries.Get(f.query.ID)
	require.NoError(t, err)
	assert.Nil(t, q.LockedAt)

	logs, err := f.runLogs.ListForQuery(f.query.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusError, logs[0].Status)
}

func TestCheckerMissingKeyFieldFailsCycle(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"other": 1})

	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "key field")
}

func TestCheckerScheduleSkip(t *testing.T) {
	f := newCheckerFixture(t)
	f.query.WindowStart = "08:00"
	f.query.WindowEnd = "09:00"
	require.NoError(t, f.queries.Update(f.query))
	f.now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)

	result, err := f.checker.CheckQuery(context.Background(), f.query.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, SkipTimeWindow, result.SkipReason)

	// Force run ignores the window.
	f.setRows(source.Row{"id": 1})
	result, err = f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestCheckerLockContention(t *testing.T) {
	f := newCheckerFixture(t)

	// Simulate another in-flight check holding the lock.
	ok, err := f.queries.AcquireLock(f.query.ID, f.now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, SkipLocked, result.SkipReason)

	// The contention is visible in the run log.
	logs, err := f.runLogs.ListForQuery(f.query.ID, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, StatusSkipped, logs[0].Status)
}

func TestCheckerRoutingDecidesRecipients(t *testing.T) {
	f := newCheckerFixture(t)
	f.query.RoutingEnabled = true
	f.query.RoutingNoMatchAction = NoMatchSkip
	require.NoError(t, f.queries.Update(f.query))

	require.NoError(t, f.rules.Create(&routing.Rule{
		QueryID: f.query.ID, Priority: 1, Active: true,
		Recipients: []string{"billing-team@x.com"},
		Conditions: []routing.Condition{
			{FieldName: "service", Operator: routing.OpEquals, Value: "billing"},
		},
	}))

	f.setRows(
		source.Row{"id": 1, "service": "billing"},
		source.Row{"id": 2, "service": "other"}, // no match, skipped
	)

	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewErrors)

	sent := f.email.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "billing-team@x.com", sent[0].Destination.Address)
	require.Len(t, sent[0].Errors, 1)

	// Both errors are tracked; only the matched one was notified.
	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 2)
	notifiedCount := 0
	for _, rec := range unresolved {
		if rec.Notified {
			notifiedCount++
		}
	}
	assert.Equal(t, 1, notifiedCount)
}

func TestCheckerRemindersSent(t *testing.T) {
	f := newCheckerFixture(t)
	f.query.ReminderIntervalMinutes = 60
	f.query.ReminderMaxCount = 2
	require.NoError(t, f.queries.Update(f.query))

	f.setRows(source.Row{"id": 1})
	_, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	// Half the interval: continuing, no reminder.
	f.now = f.now.Add(30 * time.Minute)
	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Zero(t, result.RemindersSent)

	// Past the interval: reminder goes out.
	f.now = f.now.Add(31 * time.Minute)
	result, err = f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)

	var reminderEntries int
	for _, e := range f.email.sent() {
		if e.Kind == notify.KindReminder {
			reminderEntries++
		}
	}
	assert.Equal(t, 1, reminderEntries)

	// Cap enforcement: after two reminders no more go out.
	f.now = f.now.Add(61 * time.Minute)
	result, err = f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)

	f.now = f.now.Add(61 * time.Minute)
	result, err = f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Zero(t, result.RemindersSent)
}

func TestCheckerDispatchFailureKeepsLifecycle(t *testing.T) {
	f := newCheckerFixture(t)
	f.email.fail = true
	f.setRows(source.Row{"id": 1})

	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	// Cycle succeeds, error is tracked, nothing was delivered.
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, result.NewErrors)
	assert.Zero(t, result.NotificationsSent)

	unresolved, err := f.errs.ListUnresolved(f.query.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	// Not marked notified, so the next cycle retries delivery.
	assert.False(t, unresolved[0].Notified)
}

func TestCheckerFetchTimeout(t *testing.T) {
	f := newCheckerFixture(t)
	f.query.FetchTimeoutSeconds = 1
	require.NoError(t, f.queries.Update(f.query))
	f.src.block = make(chan struct{})

	result, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "timeout")

	q, err := f.queries.Get(f.query.ID)
	require.NoError(t, err)
	assert.Nil(t, q.LockedAt)
}

func TestCheckerResolveManuallyAndList(t *testing.T) {
	f := newCheckerFixture(t)
	f.setRows(source.Row{"id": 1})
	_, err := f.checker.RunNow(context.Background(), f.query.ID, true)
	require.NoError(t, err)

	active, err := f.checker.ListActiveErrors(f.query.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, f.checker.ResolveManually(active[0].ID))

	active, err = f.checker.ListActiveErrors(f.query.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCheckerNextScheduledRun(t *testing.T) {
	f := newCheckerFixture(t)

	next, err := f.checker.NextScheduledRun(f.query.ID)
	require.NoError(t, err)
	assert.True(t, next.After(f.now))

	f.query.Active = false
	require.NoError(t, f.queries.Update(f.query))
	_, err = f.checker.NextScheduledRun(f.query.ID)
	assert.Error(t, err)
}
