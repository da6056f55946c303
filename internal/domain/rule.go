package domain

import (
	"strings"
	"time"
)

// Rule id prefixes. Only custom rules are persisted; built-ins are seeded from code.
const (
	BuiltinRulePrefix = "builtin_"
	CustomRulePrefix  = "custom_"
)

// AutomationRule is a prioritized unit of conditions and follow-up actions.
type AutomationRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"` // higher is evaluated first
	Conditions  []RuleCondition `json:"conditions"`
	Actions     []RuleAction    `json:"actions"`
	Metadata    RuleMetadata    `json:"metadata"`
}

// IsCustom reports whether the rule was created by an operator.
func (r *AutomationRule) IsCustom() bool {
	return strings.HasPrefix(r.ID, CustomRulePrefix)
}

// PrimaryDecision returns the first decision-type action on the rule.
func (r *AutomationRule) PrimaryDecision() (ActionType, bool) {
	for _, a := range r.Actions {
		if a.Type.IsDecision() {
			return a.Type, true
		}
	}
	return "", false
}

// PrimaryAction returns the type of the rule's first action, or "" if it has none.
func (r *AutomationRule) PrimaryAction() ActionType {
	if len(r.Actions) == 0 {
		return ""
	}
	return r.Actions[0].Type
}

// RuleMetadata carries authorship and historical performance for a rule.
type RuleMetadata struct {
	CreatedBy         string    `json:"createdBy,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastModified      time.Time `json:"lastModified"`
	ExecutionCount    int64     `json:"executionCount"`
	SuccessRate       float64   `json:"successRate"`       // 0-100
	FalsePositiveRate float64   `json:"falsePositiveRate"` // 0-100
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpMatchesRegex Operator = "matches_regex"
	OpBetween      Operator = "between"

	// OpExpression evaluates a CEL boolean expression over the record bound to `tx`.
	OpExpression Operator = "expression"
)

// IsValid returns true when the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual,
		OpContains, OpNotContains, OpIn, OpNotIn, OpMatchesRegex, OpBetween, OpExpression:
		return true
	default:
		return false
	}
}

// LogicalOperator joins a condition with the next one in the list.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// RuleCondition is one atomic comparison against a field of the enriched record.
type RuleCondition struct {
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
}
