package rules

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// sanctionedCountries are blocked outright by the sanctioned geography rule.
var sanctionedCountries = []any{"KP", "IR", "SY", "CU"}

// DefaultRules returns the built-in rule set seeded on every start.
// Built-ins are never persisted; they are recreated from this function.
func DefaultRules() []*domain.AutomationRule {
	now := time.Now().UTC()
	meta := func(successRate, falsePositiveRate float64) domain.RuleMetadata {
		return domain.RuleMetadata{
			CreatedBy:         "system",
			CreatedAt:         now,
			LastModified:      now,
			SuccessRate:       successRate,
			FalsePositiveRate: falsePositiveRate,
		}
	}

	return []*domain.AutomationRule{
		{
			ID:          "builtin_high_amount_review",
			Name:        "High Amount Review",
			Description: "Transactions above 50,000 go to a senior agent with proof of funds",
			Enabled:     true,
			Priority:    100,
			Conditions: []domain.RuleCondition{
				{Field: "amount", Operator: domain.OpGreaterThan, Value: 50000.0},
			},
			Actions: []domain.RuleAction{
				domain.Review(),
				domain.SetPriorityAction(domain.PriorityHigh),
				domain.AssignAgentAction("", "senior_agent"),
				domain.FlagAction(domain.FlagWarning, domain.SeverityHigh, "High value transaction requires review"),
				domain.RequestDocumentsAction("source_of_funds"),
			},
			Metadata: meta(92, 5),
		},
		{
			ID:          "builtin_sanctioned_geography",
			Name:        "Sanctioned Geography",
			Description: "Decline payments from sanctioned countries",
			Enabled:     true,
			Priority:    95,
			Conditions: []domain.RuleCondition{
				{Field: "geography.country", Operator: domain.OpIn, Value: sanctionedCountries, LogicalOperator: domain.LogicalOr},
				{Field: "geography.ipCountry", Operator: domain.OpIn, Value: sanctionedCountries},
			},
			Actions: []domain.RuleAction{
				domain.Decline(),
				domain.FlagAction(domain.FlagAlert, domain.SeverityCritical, "Transaction linked to a sanctioned country"),
				domain.NotifyAction("compliance"),
			},
			Metadata: meta(97, 1),
		},
		{
			ID:          "builtin_high_velocity",
			Name:        "High Velocity",
			Description: "More than 10 transactions in 24 hours",
			Enabled:     true,
			Priority:    90,
			Conditions: []domain.RuleCondition{
				{Field: "transactionVelocity24h", Operator: domain.OpGreaterThan, Value: 10.0},
			},
			Actions: []domain.RuleAction{
				domain.FlagAction(domain.FlagAlert, domain.SeverityHigh, "Unusual transaction velocity in the last 24 hours"),
				domain.RequestDocumentsAction("identity_proof", "address_proof"),
				domain.Review(),
				domain.NotifyAction("fraud_team"),
			},
			Metadata: meta(88, 8),
		},
		{
			ID:          "builtin_high_risk_customer",
			Name:        "High Risk Customer",
			Description: "Customer risk score above 80",
			Enabled:     true,
			Priority:    85,
			Conditions: []domain.RuleCondition{
				{Field: "customerRiskScore", Operator: domain.OpGreaterThan, Value: 80.0},
			},
			Actions: []domain.RuleAction{
				domain.Escalate(),
				domain.FlagAction(domain.FlagAlert, domain.SeverityCritical, "Customer has a high risk profile"),
				domain.SetPriorityAction(domain.PriorityUrgent),
			},
			Metadata: meta(90, 6),
		},
		{
			ID:          "builtin_new_account_large_amount",
			Name:        "New Account Large Amount",
			Description: "Accounts younger than a week paying more than 5,000",
			Enabled:     true,
			Priority:    70,
			Conditions: []domain.RuleCondition{
				{Field: "accountAgeDays", Operator: domain.OpLessThan, Value: 7.0, LogicalOperator: domain.LogicalAnd},
				{Field: "amount", Operator: domain.OpGreaterThan, Value: 5000.0},
			},
			Actions: []domain.RuleAction{
				domain.Review(),
				domain.RequestDocumentsAction("identity_proof"),
				domain.FlagAction(domain.FlagWarning, domain.SeverityMedium, "Large payment from a new account"),
			},
			Metadata: meta(85, 10),
		},
		{
			ID:          "builtin_geo_mismatch",
			Name:        "Geography Mismatch",
			Description: "IP country differs from the customer's country on a non-trivial amount",
			Enabled:     true,
			Priority:    40,
			Conditions: []domain.RuleCondition{
				{Field: "geography.mismatch", Operator: domain.OpEquals, Value: true, LogicalOperator: domain.LogicalAnd},
				{Field: "amount", Operator: domain.OpGreaterThan, Value: 1000.0},
			},
			Actions: []domain.RuleAction{
				domain.FlagAction(domain.FlagWarning, domain.SeverityMedium, "IP country does not match customer country"),
			},
			Metadata: meta(75, 20),
		},
		{
			ID:          "builtin_trusted_customer",
			Name:        "Trusted Customer",
			Description: "Verified VIP customers with a low risk score, up to 10,000",
			Enabled:     true,
			Priority:    20,
			Conditions: []domain.RuleCondition{
				{Field: "isVip", Operator: domain.OpEquals, Value: true, LogicalOperator: domain.LogicalAnd},
				{Field: "accountVerified", Operator: domain.OpEquals, Value: true, LogicalOperator: domain.LogicalAnd},
				{Field: "customerRiskScore", Operator: domain.OpLessThan, Value: 20.0, LogicalOperator: domain.LogicalAnd},
				{Field: "amount", Operator: domain.OpLessEqual, Value: 10000.0},
			},
			Actions: []domain.RuleAction{
				domain.Approve(),
			},
			Metadata: meta(93, 3),
		},
		{
			ID:          "builtin_low_amount_auto_approve",
			Name:        "Low Amount Auto Approve",
			Description: "Small card payments from low risk customers",
			Enabled:     true,
			Priority:    10,
			Conditions: []domain.RuleCondition{
				{Field: "amount", Operator: domain.OpLessThan, Value: 1000.0, LogicalOperator: domain.LogicalAnd},
				{Field: "paymentMethod", Operator: domain.OpIn, Value: []any{domain.PaymentCreditCard, domain.PaymentDebitCard}, LogicalOperator: domain.LogicalAnd},
				{Field: "customerRiskScore", Operator: domain.OpLessThan, Value: 30.0},
			},
			Actions: []domain.RuleAction{
				domain.Approve(),
			},
			Metadata: meta(95.5, 2),
		},
	}
}
