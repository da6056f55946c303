package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// missPenalty is applied to confidence for every condition that evaluates false.
const missPenalty = 0.8

// Evaluation is the result of running one rule against a record.
type Evaluation struct {
	Matches    bool    `json:"matches"`
	Confidence float64 `json:"confidence"`
}

// Evaluate runs a rule's conditions left to right. Each condition after the
// first is joined to the running result by the logical operator stored on the
// condition before it (AND when absent). Every false condition costs 20% of
// confidence even when an OR still lets the rule match, and the result is
// scaled by the rule's historical success rate.
func Evaluate(rule *domain.AutomationRule, record map[string]any) Evaluation {
	if rule == nil || len(rule.Conditions) == 0 {
		return Evaluation{}
	}

	confidence := 100.0
	var matches bool

	for i, cond := range rule.Conditions {
		result := EvaluateCondition(record, cond)
		if !result {
			confidence *= missPenalty
		}

		if i == 0 {
			matches = result
			continue
		}

		switch rule.Conditions[i-1].LogicalOperator {
		case domain.LogicalOr:
			matches = matches || result
		default:
			matches = matches && result
		}
	}

	confidence *= rule.Metadata.SuccessRate / 100

	return Evaluation{Matches: matches, Confidence: confidence}
}

// Prioritize returns the enabled rules ordered by descending priority.
// Equal priorities keep their registry order.
func Prioritize(snapshot []*domain.AutomationRule) []*domain.AutomationRule {
	active := make([]*domain.AutomationRule, 0, len(snapshot))
	for _, r := range snapshot {
		if r.Enabled {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active
}
