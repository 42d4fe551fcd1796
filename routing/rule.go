// Package routing evaluates conditional routing rules against error rows
// to decide which recipients are notified about each new error.
package routing

import "strings"

// Condition logic connectives.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Actions when no rule matches.
const (
	NoMatchSendDefault = "send_default"
	NoMatchSkip        = "skip"
)

// Rule is one conditional routing rule for a monitored query. Rules are
// evaluated in ascending (priority, id) order.
type Rule struct {
	ID             string
	QueryID        string
	Name           string
	Priority       int
	ConditionLogic string // AND, OR
	Recipients     []string
	StopOnMatch    bool
	Active         bool
	CreatedAt      string

	Conditions []Condition
}

// Condition is one field comparison inside a rule.
type Condition struct {
	ID            string
	RuleID        string
	Position      int
	FieldName     string
	Operator      string
	Value         string
	CaseSensitive bool
}

// SplitList parses a comma-separated recipient or value list, trimming
// whitespace and dropping empties.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinList is the inverse of SplitList for storage.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}
