package monitor

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/errors"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// CheckResult is the outcome of one check cycle, persisted to the run log
// and returned to manual runs.
type CheckResult struct {
	Status            string
	SkipReason        string
	RowsReturned      int
	NewErrors         int
	ResolvedErrors    int
	RemindersSent     int
	NotificationsSent int
	ErrorMessage      string
	DurationMs        int
}

// RunLog is one persisted check cycle.
type RunLog struct {
	ID                string
	QueryID           string
	ExecutedAt        time.Time
	Status            string
	RowsReturned      int
	NewErrors         int
	ResolvedErrors    int
	RemindersSent     int
	NotificationsSent int
	DurationMs        int
	ErrorMessage      string
}

// RunLogStore persists check cycle outcomes.
type RunLogStore struct {
	db *sql.DB
}

// NewRunLogStore creates a run log store backed by db.
func NewRunLogStore(db *sql.DB) *RunLogStore {
	return &RunLogStore{db: db}
}

// Record persists one cycle's result for a query.
func (s *RunLogStore) Record(queryID string, executedAt time.Time, result *CheckResult) error {
	errorMessage := result.ErrorMessage
	if errorMessage == "" && result.SkipReason != "" {
		errorMessage = result.SkipReason
	}

	_, err := s.db.Exec(`
		INSERT INTO run_logs (id, query_id, executed_at, status, rows_returned,
			new_errors, resolved_errors, reminders_sent, notifications_sent,
			duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), queryID, formatTime(executedAt), result.Status,
		result.RowsReturned, result.NewErrors, result.ResolvedErrors,
		result.RemindersSent, result.NotificationsSent, result.DurationMs,
		nullIfEmpty(errorMessage))
	if err != nil {
		return errors.Wrap(err, "insert run log")
	}
	return nil
}

// ListForQuery returns a query's most recent runs, newest first.
func (s *RunLogStore) ListForQuery(queryID string, limit int) ([]RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, query_id, executed_at, status, rows_returned, new_errors,
			resolved_errors, reminders_sent, notifications_sent, duration_ms,
			error_message
		FROM run_logs
		WHERE query_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, queryID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query run logs")
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		var l RunLog
		var executedAt string
		var durationMs sql.NullInt64
		var errorMessage sql.NullString
		if err := rows.Scan(&l.ID, &l.QueryID, &executedAt, &l.Status,
			&l.RowsReturned, &l.NewErrors, &l.ResolvedErrors, &l.RemindersSent,
			&l.NotificationsSent, &durationMs, &errorMessage); err != nil {
			return nil, errors.Wrap(err, "scan run log")
		}
		l.ExecutedAt = parseTime(executedAt)
		l.DurationMs = int(durationMs.Int64)
		l.ErrorMessage = errorMessage.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteBefore removes run logs older than cutoff.
func (s *RunLogStore) DeleteBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM run_logs WHERE executed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "delete run logs")
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
