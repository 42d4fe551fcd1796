package routing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errwatch/errwatch/errors"
	testdb "github.com/errwatch/errwatch/internal/testing"
)

func insertTestQuery(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO monitored_queries (id, name, key_fields, created_at, updated_at)
		VALUES (?, ?, 'id', ?, ?)`, id, "query-"+id, now, now)
	require.NoError(t, err)
}

func TestRuleStoreRoundTrip(t *testing.T) {
	db := testdb.CreateTestDB(t)
	insertTestQuery(t, db, "q1")

	store := NewRuleStore(db)
	rule := &Rule{
		QueryID:     "q1",
		Name:        "critical to oncall",
		Priority:    10,
		Recipients:  []string{"oncall@x.com", "sre@x.com"},
		StopOnMatch: true,
		Active:      true,
		Conditions: []Condition{
			{FieldName: "severity", Operator: OpEquals, Value: "critical"},
			{FieldName: "count", Operator: OpGte, Value: "5"},
		},
	}
	require.NoError(t, store.Create(rule))
	assert.NotEmpty(t, rule.ID)

	rules, err := store.ListForQuery("q1")
	require.NoError(t, err)
	require.Len(t, rules, 1)

	got := rules[0]
	assert.Equal(t, "critical to oncall", got.Name)
	assert.Equal(t, LogicAnd, got.ConditionLogic)
	assert.Equal(t, []string{"oncall@x.com", "sre@x.com"}, got.Recipients)
	assert.True(t, got.StopOnMatch)
	require.Len(t, got.Conditions, 2)
	assert.Equal(t, 0, got.Conditions[0].Position)
	assert.Equal(t, "severity", got.Conditions[0].FieldName)
	assert.Equal(t, OpGte, got.Conditions[1].Operator)
}

func TestRuleStoreOrdering(t *testing.T) {
	db := testdb.CreateTestDB(t)
	insertTestQuery(t, db, "q1")

	store := NewRuleStore(db)
	require.NoError(t, store.Create(&Rule{ID: "z", QueryID: "q1", Priority: 5, Active: true, Recipients: []string{"z@x.com"}}))
	require.NoError(t, store.Create(&Rule{ID: "a", QueryID: "q1", Priority: 5, Active: true, Recipients: []string{"a@x.com"}}))
	require.NoError(t, store.Create(&Rule{ID: "m", QueryID: "q1", Priority: 1, Active: true, Recipients: []string{"m@x.com"}}))

	rules, err := store.ListForQuery("q1")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "m", rules[0].ID)
	assert.Equal(t, "a", rules[1].ID)
	assert.Equal(t, "z", rules[2].ID)
}

func TestRuleStoreDeleteCascades(t *testing.T) {
	db := testdb.CreateTestDB(t)
	insertTestQuery(t, db, "q1")

	store := NewRuleStore(db)
	rule := &Rule{
		QueryID: "q1", Active: true, Recipients: []string{"x@x.com"},
		Conditions: []Condition{{FieldName: "f", Operator: OpIsEmpty}},
	}
	require.NoError(t, store.Create(rule))

	require.NoError(t, store.Delete(rule.ID))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM routing_conditions WHERE rule_id = ?`, rule.ID).Scan(&count))
	assert.Zero(t, count)

	err := store.Delete(rule.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRuleStoreSetActive(t *testing.T) {
	db := testdb.CreateTestDB(t)
	insertTestQuery(t, db, "q1")

	store := NewRuleStore(db)
	rule := &Rule{QueryID: "q1", Active: true, Recipients: []string{"x@x.com"}}
	require.NoError(t, store.Create(rule))

	require.NoError(t, store.SetActive(rule.ID, false))

	rules, err := store.ListForQuery("q1")
	require.NoError(t, err)
	assert.False(t, rules[0].Active)
}
