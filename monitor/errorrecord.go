package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/source"
)

// ErrorRecord tracks one error's lifecycle across cycles. Identity is the
// key signature hash; an unresolved record per (query, hash) is unique.
type ErrorRecord struct {
	ID      string
	QueryID string
	KeyHash string
	RowData source.Row

	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	ResolvedAt      *time.Time
	OccurrenceCount int

	Notified       bool
	NotifiedAt     *time.Time
	LastReminderAt *time.Time
	ReminderCount  int
}

// Resolved reports whether the error has been resolved.
func (e *ErrorRecord) Resolved() bool {
	return e.ResolvedAt != nil
}

// ReminderDue reports whether the error needs a reminder at now. Reminders
// require a prior initial notification, an unresolved state, headroom under
// the cap, and an elapsed interval since the last notification of any kind.
func (e *ErrorRecord) ReminderDue(now time.Time, intervalMinutes, maxCount int) bool {
	if intervalMinutes <= 0 {
		return false
	}
	if !e.Notified || e.Resolved() {
		return false
	}
	if e.ReminderCount >= maxCount {
		return false
	}

	last := e.NotifiedAt
	if e.LastReminderAt != nil {
		last = e.LastReminderAt
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) >= time.Duration(intervalMinutes)*time.Minute
}

// KeySignature computes the identity hash for a row: the ordered key-field
// values, trimmed but case-preserved, joined with '|' and SHA-256-hashed.
// Field lookup is case-insensitive; a missing column fails the cycle.
func KeySignature(row source.Row, keyFields []string) (string, error) {
	parts := make([]string, 0, len(keyFields))
	for _, field := range keyFields {
		v, ok := row.Lookup(field)
		if !ok {
			return "", errors.Newf("key field %q not present in result row", field)
		}
		parts = append(parts, strings.TrimSpace(source.FormatValue(v)))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
