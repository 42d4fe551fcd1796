package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errwatch/errwatch/source"
)

func TestPlanAggregatesPerDestination(t *testing.T) {
	plan := NewPlan("q1", "failed orders")

	oncall := Destination{Type: DestEmail, Address: "oncall@x.com"}
	sre := Destination{Type: DestEmail, Address: "sre@x.com"}

	plan.Add(oncall, KindNew, ErrorContext{ErrorID: "e1", Row: source.Row{"id": 1}})
	plan.Add(oncall, KindNew, ErrorContext{ErrorID: "e2", Row: source.Row{"id": 2}})
	plan.Add(sre, KindNew, ErrorContext{ErrorID: "e1", Row: source.Row{"id": 1}})

	entries := plan.Entries()
	require.Len(t, entries, 2)

	// One entry per destination, errors batched.
	assert.Equal(t, "oncall@x.com", entries[0].Destination.Address)
	assert.Len(t, entries[0].Errors, 2)
	assert.Equal(t, "sre@x.com", entries[1].Destination.Address)
	assert.Len(t, entries[1].Errors, 1)
}

func TestPlanSeparatesKinds(t *testing.T) {
	plan := NewPlan("q1", "failed orders")
	dest := Destination{Type: DestEmail, Address: "oncall@x.com"}

	plan.Add(dest, KindReminder, ErrorContext{ErrorID: "old"})
	plan.Add(dest, KindNew, ErrorContext{ErrorID: "fresh"})

	entries := plan.Entries()
	require.Len(t, entries, 2)
	// New errors sort before reminders.
	assert.Equal(t, KindNew, entries[0].Kind)
	assert.Equal(t, KindReminder, entries[1].Kind)
}

func TestPlanSeparatesDestinationTypes(t *testing.T) {
	plan := NewPlan("q1", "failed orders")

	plan.Add(Destination{Type: DestChannel, Address: "ch-1"}, KindNew, ErrorContext{ErrorID: "e1"})
	plan.Add(Destination{Type: DestEmail, Address: "a@x.com"}, KindNew, ErrorContext{ErrorID: "e1"})

	entries := plan.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, DestChannel, entries[0].Destination.Type)
	assert.Equal(t, DestEmail, entries[1].Destination.Type)
}

func TestPlanEmpty(t *testing.T) {
	plan := NewPlan("q1", "x")
	assert.True(t, plan.Empty())
	plan.Add(Destination{Type: DestEmail, Address: "a@x.com"}, KindNew, ErrorContext{})
	assert.False(t, plan.Empty())
}

func TestEntrySubject(t *testing.T) {
	e := &Entry{Kind: KindNew, QueryName: "failed orders", Errors: make([]ErrorContext, 3)}
	assert.Equal(t, "[errwatch] 3 new error(s) in failed orders", e.Subject())

	r := &Entry{Kind: KindReminder, QueryName: "failed orders", Errors: make([]ErrorContext, 1)}
	assert.Equal(t, "[errwatch] Reminder: 1 unresolved error(s) in failed orders", r.Subject())
}

func TestErrorContextTimestamps(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := webhookPayload(&Entry{
		Kind:      KindNew,
		QueryID:   "q1",
		QueryName: "x",
		Errors:    []ErrorContext{{ErrorID: "e1", FirstSeenAt: ts, OccurrenceCount: 2}},
	})

	errs := payload["errors"].([]map[string]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "2026-01-02T03:04:05Z", errs[0]["first_seen_at"])
	assert.Equal(t, "errwatch.new", payload["event"])
}
