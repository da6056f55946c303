package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleWith(successRate float64, conds ...domain.RuleCondition) *domain.AutomationRule {
	return &domain.AutomationRule{
		ID:         "custom_test",
		Name:       "test",
		Enabled:    true,
		Conditions: conds,
		Actions:    []domain.RuleAction{domain.Review()},
		Metadata:   domain.RuleMetadata{SuccessRate: successRate},
	}
}

func cond(field string, op domain.Operator, value any, logical domain.LogicalOperator) domain.RuleCondition {
	return domain.RuleCondition{Field: field, Operator: op, Value: value, LogicalOperator: logical}
}

func TestEvaluateSingleCondition(t *testing.T) {
	rec := map[string]any{"amount": 500.0}

	for _, rate := range []float64{100, 95.5, 50, 0} {
		hit := Evaluate(ruleWith(rate, cond("amount", domain.OpLessThan, 1000.0, "")), rec)
		assert.True(t, hit.Matches)
		assert.InDelta(t, 100*(rate/100), hit.Confidence, 1e-9)

		miss := Evaluate(ruleWith(rate, cond("amount", domain.OpGreaterThan, 1000.0, "")), rec)
		assert.False(t, miss.Matches)
		assert.InDelta(t, 80*(rate/100), miss.Confidence, 1e-9)
	}
}

func TestEvaluateChaining(t *testing.T) {
	rec := map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}
	yes := func(field string, logical domain.LogicalOperator) domain.RuleCondition {
		return cond(field, domain.OpGreaterThan, 0.0, logical)
	}
	no := func(field string, logical domain.LogicalOperator) domain.RuleCondition {
		return cond(field, domain.OpLessThan, 0.0, logical)
	}

	tests := []struct {
		name       string
		conds      []domain.RuleCondition
		matches    bool
		confidence float64
	}{
		{"and all true", []domain.RuleCondition{yes("a", domain.LogicalAnd), yes("b", "")}, true, 100},
		{"and with miss", []domain.RuleCondition{yes("a", domain.LogicalAnd), no("b", "")}, false, 80},
		{"default is and", []domain.RuleCondition{yes("a", ""), no("b", "")}, false, 80},
		{"or rescues but still penalized", []domain.RuleCondition{no("a", domain.LogicalOr), yes("b", "")}, true, 80},
		{"or both false", []domain.RuleCondition{no("a", domain.LogicalOr), no("b", "")}, false, 64},
		// (true OR false) AND false -> false; strictly left to right
		{"left to right", []domain.RuleCondition{yes("a", domain.LogicalOr), no("b", domain.LogicalAnd), no("c", "")}, false, 64},
		// (false AND true) OR true -> true
		{"or after and", []domain.RuleCondition{no("a", domain.LogicalAnd), yes("b", domain.LogicalOr), yes("c", "")}, true, 80},
		{"operator on last condition ignored", []domain.RuleCondition{yes("a", domain.LogicalOr)}, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(ruleWith(100, tt.conds...), rec)
			assert.Equal(t, tt.matches, got.Matches)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestEvaluateNoConditionsNeverMatches(t *testing.T) {
	got := Evaluate(ruleWith(100), map[string]any{})
	assert.False(t, got.Matches)
	assert.Zero(t, got.Confidence)

	assert.False(t, Evaluate(nil, map[string]any{}).Matches)
}

func TestEvaluateMalformedConditionDoesNotAbort(t *testing.T) {
	rule := ruleWith(100,
		cond("amount", domain.OpBetween, "not-a-range", domain.LogicalOr),
		cond("amount", domain.OpGreaterThan, 10.0, ""),
	)
	got := Evaluate(rule, map[string]any{"amount": 50.0})
	assert.True(t, got.Matches)
	assert.InDelta(t, 80, got.Confidence, 1e-9)
}

func TestPrioritize(t *testing.T) {
	snapshot := []*domain.AutomationRule{
		{ID: "a", Priority: 10, Enabled: true},
		{ID: "b", Priority: 30, Enabled: true},
		{ID: "c", Priority: 10, Enabled: true},
		{ID: "d", Priority: 50, Enabled: false},
		{ID: "e", Priority: 30, Enabled: true},
	}

	got := Prioritize(snapshot)
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"b", "e", "a", "c"}, ids)
}

func TestDefaultRulesAreValid(t *testing.T) {
	defaults := DefaultRules()
	require.Len(t, defaults, 8)

	seen := map[string]bool{}
	for _, r := range defaults {
		assert.NoError(t, validateRule(r), r.ID)
		assert.False(t, r.IsCustom(), r.ID)
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestDefaultRuleScenarios(t *testing.T) {
	byID := map[string]*domain.AutomationRule{}
	for _, r := range DefaultRules() {
		byID[r.ID] = r
	}

	low := map[string]any{"amount": 500.0, "paymentMethod": "credit_card", "customerRiskScore": 10.0}
	got := Evaluate(byID["builtin_low_amount_auto_approve"], low)
	assert.True(t, got.Matches)
	assert.InDelta(t, 95.5, got.Confidence, 1e-9)

	sanctionedByIP := map[string]any{"geography": map[string]any{"country": "DE", "ipCountry": "IR"}}
	got = Evaluate(byID["builtin_sanctioned_geography"], sanctionedByIP)
	assert.True(t, got.Matches)
	assert.InDelta(t, 97*0.8, got.Confidence, 1e-9)

	assert.True(t, Evaluate(byID["builtin_high_amount_review"], map[string]any{"amount": 60000.0}).Matches)
	assert.True(t, Evaluate(byID["builtin_high_velocity"], map[string]any{"transactionVelocity24h": 12.0}).Matches)
	assert.False(t, Evaluate(byID["builtin_trusted_customer"], map[string]any{"isVip": true, "accountVerified": false, "customerRiskScore": 5.0}).Matches)

	trusted := map[string]any{"isVip": true, "accountVerified": true, "customerRiskScore": 5.0, "amount": 10000.0}
	assert.True(t, Evaluate(byID["builtin_trusted_customer"], trusted).Matches)
	trusted["amount"] = 60000.0
	assert.False(t, Evaluate(byID["builtin_trusted_customer"], trusted).Matches, "large payments are never approved on trust alone")
}
