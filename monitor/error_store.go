package monitor

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/source"
)

// ErrorStore persists error records.
type ErrorStore struct {
	db *sql.DB
}

// NewErrorStore creates an error store backed by db.
func NewErrorStore(db *sql.DB) *ErrorStore {
	return &ErrorStore{db: db}
}

const errorColumns = `id, query_id, key_hash, row_data, first_seen_at,
	last_seen_at, resolved_at, occurrence_count, notified, notified_at,
	last_reminder_at, reminder_count`

// Insert creates a new error record first seen at now.
func (s *ErrorStore) Insert(queryID, keyHash string, row source.Row, now time.Time) (*ErrorRecord, error) {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "marshal row data")
	}

	rec := &ErrorRecord{
		ID:              uuid.NewString(),
		QueryID:         queryID,
		KeyHash:         keyHash,
		RowData:         row,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		OccurrenceCount: 1,
	}

	_, err = s.db.Exec(`
		INSERT INTO error_records (id, query_id, key_hash, row_data,
			first_seen_at, last_seen_at, occurrence_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, queryID, keyHash, string(rowJSON),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "insert error record")
	}
	return rec, nil
}

// Get fetches an error record by ID.
func (s *ErrorStore) Get(id string) (*ErrorRecord, error) {
	row := s.db.QueryRow(`SELECT `+errorColumns+` FROM error_records WHERE id = ?`, id)
	return scanError(row)
}

// ListUnresolved returns a query's unresolved records ordered by first seen.
func (s *ErrorStore) ListUnresolved(queryID string) ([]ErrorRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+errorColumns+` FROM error_records
		WHERE query_id = ? AND resolved_at IS NULL
		ORDER BY first_seen_at, id`, queryID)
	if err != nil {
		return nil, errors.Wrap(err, "query unresolved errors")
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		rec, err := scanError(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Touch records another sighting of an existing error: occurrence count up,
// last seen and row snapshot refreshed.
func (s *ErrorStore) Touch(id string, row source.Row, now time.Time) error {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "marshal row data")
	}

	result, err := s.db.Exec(`
		UPDATE error_records
		SET occurrence_count = occurrence_count + 1, last_seen_at = ?, row_data = ?
		WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now), string(rowJSON), id)
	if err != nil {
		return errors.Wrap(err, "touch error record")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "unresolved error record %s", id)
	}
	return nil
}

// Resolve marks records resolved at now. Already-resolved records are
// untouched, keeping resolution idempotent and the original timestamp.
func (s *ErrorStore) Resolve(ids []string, now time.Time) (int, error) {
	resolved := 0
	for _, id := range ids {
		result, err := s.db.Exec(`
			UPDATE error_records SET resolved_at = ?
			WHERE id = ? AND resolved_at IS NULL`,
			formatTime(now), id)
		if err != nil {
			return resolved, errors.Wrap(err, "resolve error record")
		}
		if n, _ := result.RowsAffected(); n == 1 {
			resolved++
		}
	}
	return resolved, nil
}

// ResolveManually resolves one record outside the normal diff cycle.
// Returns ErrNotFound when the record is missing or already resolved.
func (s *ErrorStore) ResolveManually(id string, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE error_records SET resolved_at = ?
		WHERE id = ? AND resolved_at IS NULL`,
		formatTime(now), id)
	if err != nil {
		return errors.Wrap(err, "resolve error record")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "unresolved error record %s", id)
	}
	return nil
}

// MarkNotified records that the initial notification for these errors went
// out at now.
func (s *ErrorStore) MarkNotified(ids []string, now time.Time) error {
	for _, id := range ids {
		_, err := s.db.Exec(`
			UPDATE error_records SET notified = 1, notified_at = ?
			WHERE id = ? AND notified = 0`,
			formatTime(now), id)
		if err != nil {
			return errors.Wrap(err, "mark error notified")
		}
	}
	return nil
}

// MarkReminded records a reminder sent at now for these errors.
func (s *ErrorStore) MarkReminded(ids []string, now time.Time) error {
	for _, id := range ids {
		_, err := s.db.Exec(`
			UPDATE error_records
			SET reminder_count = reminder_count + 1, last_reminder_at = ?
			WHERE id = ?`,
			formatTime(now), id)
		if err != nil {
			return errors.Wrap(err, "mark error reminded")
		}
	}
	return nil
}

// DeleteResolvedBefore removes resolved records older than cutoff.
func (s *ErrorStore) DeleteResolvedBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM error_records
		WHERE resolved_at IS NOT NULL AND resolved_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "delete resolved errors")
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanError(row rowScanner) (*ErrorRecord, error) {
	var rec ErrorRecord
	var rowJSON string
	var firstSeen, lastSeen string
	var resolvedAt, notifiedAt, lastReminderAt sql.NullString
	var notified int

	err := row.Scan(&rec.ID, &rec.QueryID, &rec.KeyHash, &rowJSON,
		&firstSeen, &lastSeen, &resolvedAt, &rec.OccurrenceCount,
		&notified, &notifiedAt, &lastReminderAt, &rec.ReminderCount)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan error record")
	}

	if err := json.Unmarshal([]byte(rowJSON), &rec.RowData); err != nil {
		return nil, errors.Wrap(err, "unmarshal row data")
	}
	rec.FirstSeenAt = parseTime(firstSeen)
	rec.LastSeenAt = parseTime(lastSeen)
	rec.ResolvedAt = parseTimePtr(resolvedAt)
	rec.Notified = notified != 0
	rec.NotifiedAt = parseTimePtr(notifiedAt)
	rec.LastReminderAt = parseTimePtr(lastReminderAt)

	return &rec, nil
}
