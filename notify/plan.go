// Package notify aggregates per-cycle notifications into one delivery per
// destination and dispatches them over configured channels.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/errwatch/errwatch/source"
)

// Destination types.
const (
	DestEmail   = "email"
	DestChannel = "channel"
)

// Notification kinds. New errors and reminders aggregate separately so a
// reminder digest never hides a fresh error.
const (
	KindNew      = "new"
	KindReminder = "reminder"
)

// Destination identifies where a notification goes. For email the address
// is the recipient; for channels it is the channel record ID.
type Destination struct {
	Type    string
	Address string
	Name    string
}

func (d Destination) key() string {
	return d.Type + "|" + d.Address
}

// ErrorContext carries one error's details into a notification.
type ErrorContext struct {
	ErrorID         string
	Row             source.Row
	FirstSeenAt     time.Time
	OccurrenceCount int
}

// Entry is one aggregated delivery: every error bound for the same
// destination with the same kind in one cycle.
type Entry struct {
	Destination Destination
	Kind        string
	QueryID     string
	QueryName   string
	Errors      []ErrorContext
}

// Subject builds the notification subject line.
func (e *Entry) Subject() string {
	switch e.Kind {
	case KindReminder:
		return fmt.Sprintf("[errwatch] Reminder: %d unresolved error(s) in %s", len(e.Errors), e.QueryName)
	default:
		return fmt.Sprintf("[errwatch] %d new error(s) in %s", len(e.Errors), e.QueryName)
	}
}

// Plan accumulates a cycle's notifications grouped by destination and kind.
type Plan struct {
	queryID   string
	queryName string
	entries   map[string]*Entry
}

// NewPlan creates an empty delivery plan for one query's cycle.
func NewPlan(queryID, queryName string) *Plan {
	return &Plan{
		queryID:   queryID,
		queryName: queryName,
		entries:   map[string]*Entry{},
	}
}

// Add appends an error to the destination's aggregate entry for kind.
func (p *Plan) Add(dest Destination, kind string, errCtx ErrorContext) {
	key := kind + "|" + dest.key()
	entry, ok := p.entries[key]
	if !ok {
		entry = &Entry{
			Destination: dest,
			Kind:        kind,
			QueryID:     p.queryID,
			QueryName:   p.queryName,
		}
		p.entries[key] = entry
	}
	entry.Errors = append(entry.Errors, errCtx)
}

// Entries returns the aggregated deliveries in deterministic order:
// new before reminders, then by destination type and address.
func (p *Plan) Entries() []*Entry {
	out := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindNew
		}
		if out[i].Destination.Type != out[j].Destination.Type {
			return out[i].Destination.Type < out[j].Destination.Type
		}
		return out[i].Destination.Address < out[j].Destination.Address
	})
	return out
}

// Empty reports whether the plan has nothing to deliver.
func (p *Plan) Empty() bool {
	return len(p.entries) == 0
}
