// Package source provides the data source contract for monitored queries.
//
// A Source executes one configured query against an external system and
// returns its rows as ordered column names plus field→value maps. Rows are
// untyped because columns vary per query; consumers normalize values with
// FormatValue before comparing them.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one fetched record, keyed by column name.
type Row map[string]any

// Lookup returns the value for a column, matching the name
// case-insensitively. Heterogeneous sources disagree about column case
// (DB2 shouts, JSON APIs don't), so identity and routing lookups must not.
func (r Row) Lookup(field string) (any, bool) {
	if v, ok := r[field]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}

// Result is the outcome of one successful fetch.
type Result struct {
	Columns []string
	Rows    []Row
}

// Field describes one available column, for routing configuration.
type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"` // text, number, date
	Sample string `json:"sample,omitempty"`
}

// TestReport is the outcome of a connection/configuration test.
type TestReport struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Columns    []string `json:"columns,omitempty"`
	RowCount   int      `json:"row_count"`
	SampleRows []Row    `json:"sample_rows,omitempty"`
}

// Source executes a configured query against an external system.
type Source interface {
	// Fetch runs the query and returns all rows. It must respect ctx
	// cancellation; a timed-out fetch is reported as a *Error with
	// KindTimeout.
	Fetch(ctx context.Context) (*Result, error)

	// Test verifies the configuration end to end and reports a sample.
	Test(ctx context.Context) *TestReport

	// Fields returns the available columns with type guesses and samples.
	Fields(ctx context.Context) ([]Field, error)

	// Close releases any held connections.
	Close() error
}

// ErrorKind classifies source failures for reporting.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"     // bad source configuration
	KindConnection ErrorKind = "connection" // could not reach the system
	KindTimeout    ErrorKind = "timeout"    // fetch exceeded its deadline
	KindQuery      ErrorKind = "query"      // the system rejected the query
	KindDecode     ErrorKind = "decode"     // response could not be interpreted
)

// Error is a classified source failure. It aborts the current cycle only;
// the next scheduled tick retries naturally.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified source error.
func NewError(kind ErrorKind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// classify maps a fetch failure to its kind, promoting context expiry
// to KindTimeout so the orchestrator can report it distinctly.
func classify(ctx context.Context, err error, kind ErrorKind, msg string) *Error {
	if ctx.Err() != nil {
		return NewError(KindTimeout, err, msg)
	}
	return NewError(kind, err, msg)
}

// FormatValue normalizes a scalar to its comparison string. Key signatures
// and condition evaluation both go through here so that the same value
// fetched from different drivers compares equal.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
