package routing

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/errors"
)

// RuleStore persists routing rules and their conditions.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule store backed by db.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Create inserts a rule and its conditions in one transaction.
func (s *RuleStore) Create(rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = LogicAnd
	}
	if rule.CreatedAt == "" {
		rule.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO routing_rules (id, query_id, name, priority, condition_logic,
			recipients, stop_on_match, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.QueryID, rule.Name, rule.Priority, rule.ConditionLogic,
		JoinList(rule.Recipients), boolToInt(rule.StopOnMatch), boolToInt(rule.Active),
		rule.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert routing rule")
	}

	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if cond.ID == "" {
			cond.ID = uuid.NewString()
		}
		cond.RuleID = rule.ID
		cond.Position = i

		_, err = tx.Exec(`
			INSERT INTO routing_conditions (id, rule_id, position, field_name,
				operator, value, case_sensitive)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cond.ID, cond.RuleID, cond.Position, cond.FieldName,
			cond.Operator, cond.Value, boolToInt(cond.CaseSensitive))
		if err != nil {
			return errors.Wrap(err, "insert routing condition")
		}
	}

	return tx.Commit()
}

// ListForQuery returns a query's rules with conditions loaded, ordered
// by (priority, id); conditions are ordered by position.
func (s *RuleStore) ListForQuery(queryID string) ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, query_id, name, priority, condition_logic, recipients,
			stop_on_match, active, created_at
		FROM routing_rules
		WHERE query_id = ?
		ORDER BY priority, id`, queryID)
	if err != nil {
		return nil, errors.Wrap(err, "query routing rules")
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var name sql.NullString
		var recipients string
		var stopOnMatch, active int
		if err := rows.Scan(&r.ID, &r.QueryID, &name, &r.Priority,
			&r.ConditionLogic, &recipients, &stopOnMatch, &active, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan routing rule")
		}
		r.Name = name.String
		r.Recipients = SplitList(recipients)
		r.StopOnMatch = stopOnMatch != 0
		r.Active = active != 0
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate routing rules")
	}

	for i := range rules {
		conditions, err := s.conditionsForRule(rules[i].ID)
		if err != nil {
			return nil, err
		}
		rules[i].Conditions = conditions
	}

	return rules, nil
}

// Delete removes a rule; its conditions cascade.
func (s *RuleStore) Delete(ruleID string) error {
	result, err := s.db.Exec(`DELETE FROM routing_rules WHERE id = ?`, ruleID)
	if err != nil {
		return errors.Wrap(err, "delete routing rule")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "routing rule %s", ruleID)
	}
	return nil
}

// SetActive flips a rule's active flag.
func (s *RuleStore) SetActive(ruleID string, active bool) error {
	result, err := s.db.Exec(`UPDATE routing_rules SET active = ? WHERE id = ?`,
		boolToInt(active), ruleID)
	if err != nil {
		return errors.Wrap(err, "update routing rule")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "routing rule %s", ruleID)
	}
	return nil
}

func (s *RuleStore) conditionsForRule(ruleID string) ([]Condition, error) {
	rows, err := s.db.Query(`
		SELECT id, rule_id, position, field_name, operator, value, case_sensitive
		FROM routing_conditions
		WHERE rule_id = ?
		ORDER BY position`, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, "query routing conditions")
	}
	defer rows.Close()

	var conditions []Condition
	for rows.Next() {
		var c Condition
		var value sql.NullString
		var caseSensitive int
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Position, &c.FieldName,
			&c.Operator, &value, &caseSensitive); err != nil {
			return nil, errors.Wrap(err, "scan routing condition")
		}
		c.Value = value.String
		c.CaseSensitive = caseSensitive != 0
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
