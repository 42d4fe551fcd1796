// Package monitor owns the poll-and-diff engine: monitored query records,
// schedule evaluation, error lifecycle tracking, and the per-cycle check
// pipeline that ties sources, routing, and notification together.
package monitor

import (
	"strconv"
	"strings"
	"time"
)

// Skip reasons returned by ShouldRun and surfaced in run results.
const (
	SkipInactive       = "query inactive"
	SkipScheduleDay    = "outside scheduled days"
	SkipTimeWindow     = "outside time window"
	SkipIntervalNotDue = "interval not elapsed"
	SkipLocked         = "check already running"
)

// No-match actions for routing-enabled queries.
const (
	NoMatchSendDefault = "send_default"
	NoMatchSkip        = "skip"
)

// MonitoredQuery is one configured poll-and-diff check.
type MonitoredQuery struct {
	ID          string
	Name        string
	Description string

	SourceType   string // source.TypeDatabase, source.TypeHTTP
	SourceConfig string // JSON
	SQLQuery     string

	// KeyFields are the ordered columns whose values identify an error
	// across cycles.
	KeyFields []string

	IntervalMinutes int
	Active          bool
	// ScheduleDays are ISO weekdays (1=Mon..7=Sun); empty means every day.
	ScheduleDays []int
	// WindowStart/WindowEnd bound the daily run window as "HH:MM",
	// inclusive start, exclusive end. Both empty means always.
	WindowStart         string
	WindowEnd           string
	FetchTimeoutSeconds int

	Recipients               []string
	RoutingEnabled           bool
	RoutingDefaultRecipients []string
	RoutingNoMatchAction     string

	ReminderIntervalMinutes int // 0 disables reminders
	ReminderMaxCount        int

	LastCheckAt *time.Time
	LockedAt    *time.Time
	LastErrorAt *time.Time

	TotalErrorsFound       int
	TotalNotificationsSent int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShouldRun evaluates eligibility at now and returns the first failing
// reason. Order: active, weekday, time window, interval.
func (q *MonitoredQuery) ShouldRun(now time.Time) (bool, string) {
	if !q.Active {
		return false, SkipInactive
	}
	if !q.inScheduleDays(now) {
		return false, SkipScheduleDay
	}
	if !q.inTimeWindow(now) {
		return false, SkipTimeWindow
	}
	if !q.intervalElapsed(now) {
		return false, SkipIntervalNotDue
	}
	return true, ""
}

func (q *MonitoredQuery) inScheduleDays(now time.Time) bool {
	if len(q.ScheduleDays) == 0 {
		return true
	}
	iso := int(now.Weekday())
	if iso == 0 {
		iso = 7
	}
	for _, d := range q.ScheduleDays {
		if d == iso {
			return true
		}
	}
	return false
}

func (q *MonitoredQuery) inTimeWindow(now time.Time) bool {
	if q.WindowStart == "" || q.WindowEnd == "" {
		return true
	}
	start, err1 := parseClock(q.WindowStart)
	end, err2 := parseClock(q.WindowEnd)
	if err1 != nil || err2 != nil {
		// Unparseable windows are caught at validation; run anyway.
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end
}

func (q *MonitoredQuery) intervalElapsed(now time.Time) bool {
	if q.LastCheckAt == nil {
		return true
	}
	interval := time.Duration(q.IntervalMinutes) * time.Minute
	return now.Sub(*q.LastCheckAt) >= interval
}

// NextRunAt returns the next slot on the query's interval grid, anchored
// at its creation time.
func (q *MonitoredQuery) NextRunAt(now time.Time) time.Time {
	interval := time.Duration(q.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	ref := q.CreatedAt
	if !now.After(ref) {
		return ref
	}
	slots := now.Sub(ref)/interval + 1
	return ref.Add(slots * interval)
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// splitList parses a comma-separated stored list.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

// splitDays parses stored ISO weekday lists like "1,2,3,4,5".
func splitDays(s string) []int {
	var out []int
	for _, part := range splitList(s) {
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
