package monitor

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/errors"
)

// QueryStore persists monitored queries. Timestamps are stored as RFC3339
// TEXT; the locked_at column doubles as the per-query execution lock.
type QueryStore struct {
	db *sql.DB
}

// NewQueryStore creates a query store backed by db.
func NewQueryStore(db *sql.DB) *QueryStore {
	return &QueryStore{db: db}
}

const queryColumns = `id, name, description, source_type, source_config, sql_query,
	key_fields, interval_minutes, active, schedule_days, window_start, window_end,
	fetch_timeout_seconds, recipients, routing_enabled, routing_default_recipients,
	routing_no_match_action, reminder_interval_minutes, reminder_max_count,
	last_check_at, locked_at, last_error_at, total_errors_found,
	total_notifications_sent, created_at, updated_at`

// Create inserts a new monitored query.
func (s *QueryStore) Create(q *MonitoredQuery) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	if q.RoutingNoMatchAction == "" {
		q.RoutingNoMatchAction = NoMatchSendDefault
	}
	if q.FetchTimeoutSeconds == 0 {
		q.FetchTimeoutSeconds = 30
	}
	if q.ReminderMaxCount == 0 {
		q.ReminderMaxCount = 5
	}

	_, err := s.db.Exec(`
		INSERT INTO monitored_queries (id, name, description, source_type,
			source_config, sql_query, key_fields, interval_minutes, active,
			schedule_days, window_start, window_end, fetch_timeout_seconds,
			recipients, routing_enabled, routing_default_recipients,
			routing_no_match_action, reminder_interval_minutes,
			reminder_max_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Name, q.Description, q.SourceType, q.SourceConfig, q.SQLQuery,
		joinList(q.KeyFields), q.IntervalMinutes, boolToInt(q.Active),
		joinDays(q.ScheduleDays), q.WindowStart, q.WindowEnd,
		q.FetchTimeoutSeconds, joinList(q.Recipients),
		boolToInt(q.RoutingEnabled), joinList(q.RoutingDefaultRecipients),
		q.RoutingNoMatchAction, q.ReminderIntervalMinutes, q.ReminderMaxCount,
		formatTime(q.CreatedAt), formatTime(q.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "insert monitored query")
	}
	return nil
}

// Get fetches a query by ID.
func (s *QueryStore) Get(id string) (*MonitoredQuery, error) {
	row := s.db.QueryRow(`SELECT `+queryColumns+` FROM monitored_queries WHERE id = ?`, id)
	return scanQuery(row)
}

// GetByName fetches a query by its unique name.
func (s *QueryStore) GetByName(name string) (*MonitoredQuery, error) {
	row := s.db.QueryRow(`SELECT `+queryColumns+` FROM monitored_queries WHERE name = ?`, name)
	return scanQuery(row)
}

// List returns all queries, optionally only active ones, ordered by name.
func (s *QueryStore) List(activeOnly bool) ([]MonitoredQuery, error) {
	stmt := `SELECT ` + queryColumns + ` FROM monitored_queries`
	if activeOnly {
		stmt += ` WHERE active = 1`
	}
	stmt += ` ORDER BY name`

	rows, err := s.db.Query(stmt)
	if err != nil {
		return nil, errors.Wrap(err, "query monitored queries")
	}
	defer rows.Close()

	var queries []MonitoredQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		queries = append(queries, *q)
	}
	return queries, rows.Err()
}

// Update rewrites the editable fields of a query.
func (s *QueryStore) Update(q *MonitoredQuery) error {
	q.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE monitored_queries SET
			name = ?, description = ?, source_type = ?, source_config = ?,
			sql_query = ?, key_fields = ?, interval_minutes = ?, active = ?,
			schedule_days = ?, window_start = ?, window_end = ?,
			fetch_timeout_seconds = ?, recipients = ?, routing_enabled = ?,
			routing_default_recipients = ?, routing_no_match_action = ?,
			reminder_interval_minutes = ?, reminder_max_count = ?, updated_at = ?
		WHERE id = ?`,
		q.Name, q.Description, q.SourceType, q.SourceConfig, q.SQLQuery,
		joinList(q.KeyFields), q.IntervalMinutes, boolToInt(q.Active),
		joinDays(q.ScheduleDays), q.WindowStart, q.WindowEnd,
		q.FetchTimeoutSeconds, joinList(q.Recipients),
		boolToInt(q.RoutingEnabled), joinList(q.RoutingDefaultRecipients),
		q.RoutingNoMatchAction, q.ReminderIntervalMinutes, q.ReminderMaxCount,
		formatTime(q.UpdatedAt), q.ID)
	if err != nil {
		return errors.Wrap(err, "update monitored query")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "monitored query %s", q.ID)
	}
	return nil
}

// Delete removes a query; its errors, rules, and run logs cascade.
func (s *QueryStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM monitored_queries WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete monitored query")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "monitored query %s", id)
	}
	return nil
}

// AcquireLock claims the query's execution lock with one compare-and-set
// UPDATE. A lock older than ttl counts as stale and is stolen. Returns
// false when another check holds a fresh lock.
func (s *QueryStore) AcquireLock(id string, now time.Time, ttl time.Duration) (bool, error) {
	cutoff := now.Add(-ttl)
	result, err := s.db.Exec(`
		UPDATE monitored_queries SET locked_at = ?
		WHERE id = ? AND (locked_at IS NULL OR locked_at < ?)`,
		formatTime(now), id, formatTime(cutoff))
	if err != nil {
		return false, errors.Wrap(err, "acquire query lock")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "acquire query lock")
	}
	return n == 1, nil
}

// ReleaseLock clears the query's execution lock.
func (s *QueryStore) ReleaseLock(id string) error {
	_, err := s.db.Exec(`UPDATE monitored_queries SET locked_at = NULL WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "release query lock")
	}
	return nil
}

// ClearStaleLocks releases every held lock. Called once at startup so a
// crashed process never wedges its queries for more than one restart.
func (s *QueryStore) ClearStaleLocks() (int, error) {
	result, err := s.db.Exec(`UPDATE monitored_queries SET locked_at = NULL WHERE locked_at IS NOT NULL`)
	if err != nil {
		return 0, errors.Wrap(err, "clear stale locks")
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// UpdateAfterCheck records a completed cycle on the query: last check time,
// accumulated statistics, and the last time any errors were present.
func (s *QueryStore) UpdateAfterCheck(id string, now time.Time, newErrors, notificationsSent int, hadErrors bool) error {
	var lastErrorAt any
	if hadErrors {
		lastErrorAt = formatTime(now)
	}
	_, err := s.db.Exec(`
		UPDATE monitored_queries SET
			last_check_at = ?,
			last_error_at = COALESCE(?, last_error_at),
			total_errors_found = total_errors_found + ?,
			total_notifications_sent = total_notifications_sent + ?,
			updated_at = ?
		WHERE id = ?`,
		formatTime(now), lastErrorAt, newErrors, notificationsSent,
		formatTime(now), id)
	if err != nil {
		return errors.Wrap(err, "update query after check")
	}
	return nil
}

func scanQuery(row rowScanner) (*MonitoredQuery, error) {
	var q MonitoredQuery
	var description, sourceConfig, sqlQuery sql.NullString
	var keyFields, scheduleDays, windowStart, windowEnd sql.NullString
	var recipients, defaultRecipients sql.NullString
	var lastCheckAt, lockedAt, lastErrorAt sql.NullString
	var active, routingEnabled int
	var createdAt, updatedAt string

	err := row.Scan(&q.ID, &q.Name, &description, &q.SourceType, &sourceConfig,
		&sqlQuery, &keyFields, &q.IntervalMinutes, &active, &scheduleDays,
		&windowStart, &windowEnd, &q.FetchTimeoutSeconds, &recipients,
		&routingEnabled, &defaultRecipients, &q.RoutingNoMatchAction,
		&q.ReminderIntervalMinutes, &q.ReminderMaxCount,
		&lastCheckAt, &lockedAt, &lastErrorAt,
		&q.TotalErrorsFound, &q.TotalNotificationsSent, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan monitored query")
	}

	q.Description = description.String
	q.SourceConfig = sourceConfig.String
	q.SQLQuery = sqlQuery.String
	q.KeyFields = splitList(keyFields.String)
	q.Active = active != 0
	q.ScheduleDays = splitDays(scheduleDays.String)
	q.WindowStart = windowStart.String
	q.WindowEnd = windowEnd.String
	q.Recipients = splitList(recipients.String)
	q.RoutingEnabled = routingEnabled != 0
	q.RoutingDefaultRecipients = splitList(defaultRecipients.String)

	q.LastCheckAt = parseTimePtr(lastCheckAt)
	q.LockedAt = parseTimePtr(lockedAt)
	q.LastErrorAt = parseTimePtr(lastErrorAt)
	q.CreatedAt = parseTime(createdAt)
	q.UpdatedAt = parseTime(updatedAt)

	return &q, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
