package routing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/errwatch/errwatch/source"
)

// Supported condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "startswith"
	OpEndsWith    = "endswith"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpRegex       = "regex"
	OpNotRegex    = "not_regex"
)

// Operators lists every supported operator, for validation and UIs.
var Operators = []string{
	OpEquals, OpNotEquals,
	OpContains, OpNotContains,
	OpStartsWith, OpEndsWith,
	OpIn, OpNotIn,
	OpGt, OpGte, OpLt, OpLte,
	OpIsEmpty, OpIsNotEmpty,
	OpRegex, OpNotRegex,
}

// IsValidOperator reports whether op is a known operator name.
func IsValidOperator(op string) bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// evalCondition evaluates one condition against a row. A missing field
// compares as the empty string. Numeric and regex comparisons fail closed:
// an unparseable number or pattern makes the condition false rather than
// raising an error mid-cycle.
func evalCondition(cond Condition, row source.Row) bool {
	var fieldValue string
	if v, ok := row.Lookup(cond.FieldName); ok {
		fieldValue = source.FormatValue(v)
	}
	fieldValue = strings.TrimSpace(fieldValue)
	condValue := strings.TrimSpace(cond.Value)

	// String operators honor case_sensitive; numeric and emptiness
	// operators don't care.
	fv, cv := fieldValue, condValue
	if !cond.CaseSensitive {
		fv = strings.ToLower(fieldValue)
		cv = strings.ToLower(condValue)
	}

	switch cond.Operator {
	case OpEquals:
		return fv == cv
	case OpNotEquals:
		return fv != cv
	case OpContains:
		return strings.Contains(fv, cv)
	case OpNotContains:
		return !strings.Contains(fv, cv)
	case OpStartsWith:
		return strings.HasPrefix(fv, cv)
	case OpEndsWith:
		return strings.HasSuffix(fv, cv)

	case OpIn:
		return inList(fv, cv)
	case OpNotIn:
		return !inList(fv, cv)

	case OpGt, OpGte, OpLt, OpLte:
		left, lok := parseNumber(fieldValue)
		right, rok := parseNumber(condValue)
		if !lok || !rok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}

	case OpIsEmpty:
		return fieldValue == ""
	case OpIsNotEmpty:
		return fieldValue != ""

	case OpRegex:
		return matchRegex(cond, fieldValue, false)
	case OpNotRegex:
		return matchRegex(cond, fieldValue, true)

	default:
		return false
	}
}

func inList(value, list string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == value {
			return true
		}
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func matchRegex(cond Condition, fieldValue string, negate bool) bool {
	pattern := cond.Value
	if !cond.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// Bad pattern fails closed either way.
		return false
	}
	matched := re.MatchString(fieldValue)
	if negate {
		return !matched
	}
	return matched
}
