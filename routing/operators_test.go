package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/errwatch/errwatch/source"
)

func TestEvalCondition(t *testing.T) {
	row := source.Row{
		"Service":  "Billing-API",
		"severity": "critical",
		"count":    int64(12),
		"note":     "  ",
		"code":     "ERR-1042",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals case-insensitive", Condition{FieldName: "severity", Operator: OpEquals, Value: "CRITICAL"}, true},
		{"equals case-sensitive miss", Condition{FieldName: "severity", Operator: OpEquals, Value: "CRITICAL", CaseSensitive: true}, false},
		{"not_equals", Condition{FieldName: "severity", Operator: OpNotEquals, Value: "warning"}, true},
		{"contains", Condition{FieldName: "Service", Operator: OpContains, Value: "billing"}, true},
		{"not_contains", Condition{FieldName: "Service", Operator: OpNotContains, Value: "auth"}, true},
		{"startswith", Condition{FieldName: "code", Operator: OpStartsWith, Value: "err-"}, true},
		{"endswith", Condition{FieldName: "code", Operator: OpEndsWith, Value: "1042"}, true},
		{"in", Condition{FieldName: "severity", Operator: OpIn, Value: "critical, fatal"}, true},
		{"in miss", Condition{FieldName: "severity", Operator: OpIn, Value: "warning, info"}, false},
		{"not_in", Condition{FieldName: "severity", Operator: OpNotIn, Value: "warning, info"}, true},
		{"gt numeric", Condition{FieldName: "count", Operator: OpGt, Value: "10"}, true},
		{"gte boundary", Condition{FieldName: "count", Operator: OpGte, Value: "12"}, true},
		{"lt miss", Condition{FieldName: "count", Operator: OpLt, Value: "12"}, false},
		{"lte boundary", Condition{FieldName: "count", Operator: OpLte, Value: "12"}, true},
		{"gt non-numeric fails closed", Condition{FieldName: "severity", Operator: OpGt, Value: "10"}, false},
		{"gt non-numeric threshold fails closed", Condition{FieldName: "count", Operator: OpGt, Value: "many"}, false},
		{"is_empty on whitespace", Condition{FieldName: "note", Operator: OpIsEmpty}, true},
		{"is_empty on missing field", Condition{FieldName: "absent", Operator: OpIsEmpty}, true},
		{"is_not_empty", Condition{FieldName: "severity", Operator: OpIsNotEmpty}, true},
		{"regex", Condition{FieldName: "code", Operator: OpRegex, Value: `^ERR-\d+$`}, true},
		{"regex case-insensitive default", Condition{FieldName: "code", Operator: OpRegex, Value: `^err-\d+$`}, true},
		{"regex invalid fails closed", Condition{FieldName: "code", Operator: OpRegex, Value: `([`}, false},
		{"not_regex", Condition{FieldName: "severity", Operator: OpNotRegex, Value: `^warn`}, true},
		{"not_regex invalid fails closed", Condition{FieldName: "code", Operator: OpNotRegex, Value: `([`}, false},
		{"missing field compares as empty", Condition{FieldName: "absent", Operator: OpEquals, Value: ""}, true},
		{"unknown operator", Condition{FieldName: "severity", Operator: "matches_vibe", Value: "x"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, evalCondition(tc.cond, row))
		})
	}
}

func TestIsValidOperator(t *testing.T) {
	assert.True(t, IsValidOperator(OpRegex))
	assert.True(t, IsValidOperator(OpNotRegex))
	assert.False(t, IsValidOperator("like"))
	assert.Len(t, Operators, 16)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, SplitList(" a@x.com , b@x.com ,"))
	assert.Nil(t, SplitList(""))
}
