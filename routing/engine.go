package routing

import (
	"sort"

	"go.uber.org/zap"

	"github.com/errwatch/errwatch/source"
)

// Decision is the outcome of routing one error row.
type Decision struct {
	// Recipients is the union of recipients from all matched rules, in
	// match order with duplicates removed.
	Recipients []string
	// MatchedRules holds the IDs of the rules that fired, for run auditing.
	MatchedRules []string
	// Skip is set when no rule matched and the query's no-match action
	// is "skip": the error is tracked but nobody is notified.
	Skip bool
}

// Engine routes error rows through a query's rules.
type Engine struct {
	logger *zap.SugaredLogger
}

// NewEngine creates a routing engine.
func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

// Route evaluates rules against a row in ascending (priority, id) order.
// Recipients of every matching rule are unioned until a matching rule with
// stop_on_match halts the scan. A rule with no conditions always matches.
// When nothing matches, noMatchAction decides between the default
// recipients and skipping the error.
func (e *Engine) Route(row source.Row, rules []Rule, defaultRecipients []string, noMatchAction string) Decision {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var decision Decision
	seen := map[string]bool{}

	for _, rule := range ordered {
		if !e.ruleMatches(rule, row) {
			continue
		}

		decision.MatchedRules = append(decision.MatchedRules, rule.ID)
		for _, r := range rule.Recipients {
			if !seen[r] {
				seen[r] = true
				decision.Recipients = append(decision.Recipients, r)
			}
		}

		if rule.StopOnMatch {
			break
		}
	}

	if len(decision.MatchedRules) > 0 {
		return decision
	}

	if noMatchAction == NoMatchSkip {
		decision.Skip = true
		return decision
	}

	decision.Recipients = append(decision.Recipients, defaultRecipients...)
	return decision
}

// ruleMatches applies the rule's conditions with its AND/OR logic.
func (e *Engine) ruleMatches(rule Rule, row source.Row) bool {
	if len(rule.Conditions) == 0 {
		// Catch-all rule.
		return true
	}

	if rule.ConditionLogic == LogicOr {
		for _, cond := range rule.Conditions {
			if evalCondition(cond, row) {
				return true
			}
		}
		return false
	}

	for _, cond := range rule.Conditions {
		if !evalCondition(cond, row) {
			return false
		}
	}
	return true
}
