package monitor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/routing"
	"github.com/errwatch/errwatch/source"
)

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	emailRe      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidateQuery checks a monitored query's configuration at edit time.
// Returns ErrInvalidConfig with a hint naming the offending field.
func ValidateQuery(q *MonitoredQuery) error {
	if strings.TrimSpace(q.Name) == "" {
		return invalid("name is required")
	}

	if len(q.KeyFields) == 0 {
		return invalid("at least one key field is required")
	}
	for _, f := range q.KeyFields {
		if !identifierRe.MatchString(f) {
			return invalid("key field %q is not a valid identifier", f)
		}
	}

	switch q.SourceType {
	case source.TypeDatabase:
		if err := validateSQL(q.SQLQuery); err != nil {
			return err
		}
		if _, err := source.ParseSQLConfig(q.SourceConfig); err != nil {
			return invalid("source_config: %v", err)
		}
	case source.TypeHTTP:
		cfg, err := source.ParseHTTPConfig(q.SourceConfig)
		if err != nil {
			return invalid("source_config: %v", err)
		}
		if _, err := url.ParseRequestURI(cfg.URL); err != nil {
			return invalid("source url %q is not a valid URL", cfg.URL)
		}
	default:
		return invalid("unknown source type %q", q.SourceType)
	}

	if q.IntervalMinutes < 1 || q.IntervalMinutes > 1440 {
		return invalid("interval must be between 1 and 1440 minutes, got %d", q.IntervalMinutes)
	}

	for _, d := range q.ScheduleDays {
		if d < 1 || d > 7 {
			return invalid("schedule day %d out of range 1..7", d)
		}
	}

	if err := validateWindow(q.WindowStart, q.WindowEnd); err != nil {
		return err
	}

	for _, addr := range append(append([]string{}, q.Recipients...), q.RoutingDefaultRecipients...) {
		if !emailRe.MatchString(addr) {
			return invalid("recipient %q is not a valid email address", addr)
		}
	}

	if q.RoutingNoMatchAction != "" &&
		q.RoutingNoMatchAction != NoMatchSendDefault &&
		q.RoutingNoMatchAction != NoMatchSkip {
		return invalid("no-match action must be %q or %q", NoMatchSendDefault, NoMatchSkip)
	}

	if q.ReminderIntervalMinutes < 0 {
		return invalid("reminder interval must be >= 0")
	}
	if q.ReminderMaxCount < 0 {
		return invalid("reminder max count must be >= 0")
	}

	return nil
}

// validateSQL enforces the read-only single-statement guard.
func validateSQL(sqlQuery string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return invalid("sql_query is required for database sources")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return invalid("sql_query must be a SELECT statement")
	}

	// A single trailing semicolon is tolerated; anything after it is not.
	if i := strings.Index(trimmed, ";"); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return invalid("sql_query must be a single statement")
	}

	return nil
}

func validateWindow(start, end string) error {
	if start == "" && end == "" {
		return nil
	}
	if start == "" || end == "" {
		return invalid("time window requires both start and end")
	}

	startMin, err := parseClock(start)
	if err != nil {
		return invalid("window start %q is not a valid HH:MM time", start)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return invalid("window end %q is not a valid HH:MM time", end)
	}
	// Midnight-wrapping windows are rejected rather than interpreted.
	if startMin >= endMin {
		return invalid("window start %s must be before end %s", start, end)
	}
	return nil
}

// ValidateRule checks a routing rule's configuration at edit time.
func ValidateRule(r *routing.Rule) error {
	if r.ConditionLogic != routing.LogicAnd && r.ConditionLogic != routing.LogicOr {
		return invalid("condition logic must be AND or OR")
	}
	if r.Priority < 0 || r.Priority > 1000 {
		return invalid("priority must be between 0 and 1000, got %d", r.Priority)
	}
	if len(r.Recipients) == 0 {
		return invalid("rule requires at least one recipient")
	}
	for _, addr := range r.Recipients {
		if !emailRe.MatchString(addr) {
			return invalid("recipient %q is not a valid email address", addr)
		}
	}

	for _, cond := range r.Conditions {
		if strings.TrimSpace(cond.FieldName) == "" {
			return invalid("condition field name is required")
		}
		if !routing.IsValidOperator(cond.Operator) {
			return invalid("unknown operator %q", cond.Operator)
		}
		if cond.Operator == routing.OpRegex || cond.Operator == routing.OpNotRegex {
			if _, err := regexp.Compile(cond.Value); err != nil {
				return invalid("regex %q does not compile: %v", cond.Value, err)
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(errors.ErrInvalidConfig, format, args...)
}
