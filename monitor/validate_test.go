package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/routing"
)

func validQuery() *MonitoredQuery {
	return &MonitoredQuery{
		Name:            "failed orders",
		SourceType:      "database",
		SourceConfig:    `{"driver":"sqlite","database":"app.db"}`,
		SQLQuery:        "SELECT id FROM orders WHERE status = 'failed'",
		KeyFields:       []string{"id"},
		IntervalMinutes: 15,
		Recipients:      []string{"oncall@x.com"},
	}
}

func TestValidateQueryAccepts(t *testing.T) {
	require.NoError(t, ValidateQuery(validQuery()))

	q := validQuery()
	q.SQLQuery = "WITH failed AS (SELECT id FROM orders) SELECT * FROM failed;"
	assert.NoError(t, ValidateQuery(q))

	h := validQuery()
	h.SourceType = "http"
	h.SourceConfig = `{"url":"https://api.example.com/errors"}`
	h.SQLQuery = ""
	assert.NoError(t, ValidateQuery(h))
}

func TestValidateQueryRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MonitoredQuery)
	}{
		{"empty name", func(q *MonitoredQuery) { q.Name = "  " }},
		{"no key fields", func(q *MonitoredQuery) { q.KeyFields = nil }},
		{"bad key field", func(q *MonitoredQuery) { q.KeyFields = []string{"id; drop"} }},
		{"non-select sql", func(q *MonitoredQuery) { q.SQLQuery = "DELETE FROM orders" }},
		{"multi-statement sql", func(q *MonitoredQuery) { q.SQLQuery = "SELECT 1; SELECT 2" }},
		{"interval too small", func(q *MonitoredQuery) { q.IntervalMinutes = 0 }},
		{"interval too large", func(q *MonitoredQuery) { q.IntervalMinutes = 1441 }},
		{"bad schedule day", func(q *MonitoredQuery) { q.ScheduleDays = []int{0} }},
		{"half window", func(q *MonitoredQuery) { q.WindowStart = "08:00" }},
		{"inverted window", func(q *MonitoredQuery) { q.WindowStart = "18:00"; q.WindowEnd = "08:00" }},
		{"bad window format", func(q *MonitoredQuery) { q.WindowStart = "8am"; q.WindowEnd = "6pm" }},
		{"bad email", func(q *MonitoredQuery) { q.Recipients = []string{"not-an-email"} }},
		{"bad no-match action", func(q *MonitoredQuery) { q.RoutingNoMatchAction = "explode" }},
		{"negative reminder interval", func(q *MonitoredQuery) { q.ReminderIntervalMinutes = -1 }},
		{"unknown source type", func(q *MonitoredQuery) { q.SourceType = "carrier_pigeon" }},
		{"http bad url", func(q *MonitoredQuery) {
			q.SourceType = "http"
			q.SourceConfig = `{"url":"not a url"}`
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := validQuery()
			tc.mutate(q)
			err := ValidateQuery(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}
}

func TestValidateRule(t *testing.T) {
	valid := &routing.Rule{
		ConditionLogic: routing.LogicAnd,
		Priority:       10,
		Recipients:     []string{"team@x.com"},
		Conditions: []routing.Condition{
			{FieldName: "code", Operator: routing.OpRegex, Value: `^ERR-\d+$`},
		},
	}
	require.NoError(t, ValidateRule(valid))

	bad := *valid
	bad.ConditionLogic = "XOR"
	assert.Error(t, ValidateRule(&bad))

	bad = *valid
	bad.Priority = 1001
	assert.Error(t, ValidateRule(&bad))

	bad = *valid
	bad.Recipients = nil
	assert.Error(t, ValidateRule(&bad))

	bad = *valid
	bad.Conditions = []routing.Condition{{FieldName: "code", Operator: "like", Value: "x"}}
	assert.Error(t, ValidateRule(&bad))

	bad = *valid
	bad.Conditions = []routing.Condition{{FieldName: "code", Operator: routing.OpRegex, Value: "(["}}
	assert.Error(t, ValidateRule(&bad))

	bad = *valid
	bad.Conditions = []routing.Condition{{FieldName: " ", Operator: routing.OpEquals, Value: "x"}}
	assert.Error(t, ValidateRule(&bad))
}
