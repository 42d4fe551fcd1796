package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/errwatch/errwatch/source"
)

func newTestEngine() *Engine {
	return NewEngine(nil)
}

func TestRouteFirstMatchAndUnion(t *testing.T) {
	row := source.Row{"severity": "critical", "service": "billing"}

	rules := []Rule{
		{
			ID: "r2", Priority: 20, Active: true, ConditionLogic: LogicAnd,
			Recipients: []string{"oncall@x.com", "lead@x.com"},
			Conditions: []Condition{{FieldName: "service", Operator: OpEquals, Value: "billing"}},
		},
		{
			ID: "r1", Priority: 10, Active: true, ConditionLogic: LogicAnd,
			Recipients: []string{"sre@x.com", "oncall@x.com"},
			Conditions: []Condition{{FieldName: "severity", Operator: OpEquals, Value: "critical"}},
		},
	}

	d := newTestEngine().Route(row, rules, []string{"default@x.com"}, NoMatchSendDefault)

	// Priority order decides scan order; recipients union without dupes.
	assert.Equal(t, []string{"r1", "r2"}, d.MatchedRules)
	assert.Equal(t, []string{"sre@x.com", "oncall@x.com", "lead@x.com"}, d.Recipients)
	assert.False(t, d.Skip)
}

func TestRouteStopOnMatch(t *testing.T) {
	row := source.Row{"severity": "critical"}

	rules := []Rule{
		{
			ID: "r1", Priority: 1, Active: true, StopOnMatch: true,
			Recipients: []string{"first@x.com"},
			Conditions: []Condition{{FieldName: "severity", Operator: OpEquals, Value: "critical"}},
		},
		{
			ID: "r2", Priority: 2, Active: true,
			Recipients: []string{"second@x.com"},
		},
	}

	d := newTestEngine().Route(row, rules, nil, NoMatchSendDefault)
	assert.Equal(t, []string{"r1"}, d.MatchedRules)
	assert.Equal(t, []string{"first@x.com"}, d.Recipients)
}

func TestRouteCatchAll(t *testing.T) {
	rules := []Rule{
		{ID: "r1", Priority: 1, Active: true, Recipients: []string{"everything@x.com"}},
	}

	d := newTestEngine().Route(source.Row{"whatever": 1}, rules, nil, NoMatchSkip)
	assert.Equal(t, []string{"everything@x.com"}, d.Recipients)
	assert.False(t, d.Skip)
}

func TestRouteNoMatchDefault(t *testing.T) {
	rules := []Rule{
		{
			ID: "r1", Priority: 1, Active: true,
			Recipients: []string{"r1@x.com"},
			Conditions: []Condition{{FieldName: "severity", Operator: OpEquals, Value: "fatal"}},
		},
	}

	d := newTestEngine().Route(source.Row{"severity": "info"}, rules, []string{"default@x.com"}, NoMatchSendDefault)
	assert.Empty(t, d.MatchedRules)
	assert.Equal(t, []string{"default@x.com"}, d.Recipients)
	assert.False(t, d.Skip)
}

func TestRouteNoMatchSkip(t *testing.T) {
	d := newTestEngine().Route(source.Row{"severity": "info"}, nil, []string{"default@x.com"}, NoMatchSkip)
	assert.True(t, d.Skip)
	assert.Empty(t, d.Recipients)
}

func TestRouteInactiveRulesIgnored(t *testing.T) {
	rules := []Rule{
		{ID: "r1", Priority: 1, Active: false, Recipients: []string{"ghost@x.com"}},
	}

	d := newTestEngine().Route(source.Row{}, rules, []string{"default@x.com"}, NoMatchSendDefault)
	assert.Equal(t, []string{"default@x.com"}, d.Recipients)
}

func TestRouteOrLogic(t *testing.T) {
	rules := []Rule{
		{
			ID: "r1", Priority: 1, Active: true, ConditionLogic: LogicOr,
			Recipients: []string{"or@x.com"},
			Conditions: []Condition{
				{FieldName: "severity", Operator: OpEquals, Value: "fatal"},
				{FieldName: "service", Operator: OpEquals, Value: "billing"},
			},
		},
	}

	d := newTestEngine().Route(source.Row{"severity": "info", "service": "billing"}, rules, nil, NoMatchSkip)
	assert.Equal(t, []string{"r1"}, d.MatchedRules)
}

func TestRouteDeterministic(t *testing.T) {
	// Same row, same rules, same answer.
	row := source.Row{"severity": "critical"}
	rules := []Rule{
		{ID: "b", Priority: 5, Active: true, Recipients: []string{"b@x.com"},
			Conditions: []Condition{{FieldName: "severity", Operator: OpIsNotEmpty}}},
		{ID: "a", Priority: 5, Active: true, Recipients: []string{"a@x.com"},
			Conditions: []Condition{{FieldName: "severity", Operator: OpIsNotEmpty}}},
	}

	first := newTestEngine().Route(row, rules, nil, NoMatchSkip)
	for i := 0; i < 10; i++ {
		again := newTestEngine().Route(row, rules, nil, NoMatchSkip)
		assert.Equal(t, first, again)
	}
	// Ties on priority break on rule ID.
	assert.Equal(t, []string{"a", "b"}, first.MatchedRules)
}
