package screening

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// failSafeRiskScore is reported when screening could not run.
const failSafeRiskScore = 50

// RiskScore aggregates the customer's baseline risk with transaction
// adjustments and the primary actions of the matched rules. The result is
// rounded and clamped to [0, 100].
func RiskScore(tx *domain.EnrichedTransaction, applied []domain.AppliedRule) int {
	score := tx.CustomerRiskScore
	amount := tx.AmountFloat()

	switch {
	case amount > 50000:
		score += 20
	case amount > 10000:
		score += 10
	case amount < 1000:
		score -= 10
	}

	switch {
	case tx.IsManualPayment():
		score += 15
	case tx.IsCardPayment():
		score -= 5
	}

	if tx.IsVIP {
		score -= 20
	}
	if tx.AccountVerified {
		score -= 10
	}
	if tx.PriorTransactionCount > 10 {
		score -= 5
	}

	for _, r := range applied {
		switch r.Action {
		case domain.ActionFlag:
			score += 10
		case domain.ActionAutoApprove:
			score -= 15
		}
	}

	if math.IsNaN(score) {
		return 0
	}
	return int(math.Round(math.Min(math.Max(score, 0), 100)))
}

// Recommendations derives operator guidance from a finished result.
func Recommendations(r *domain.PreScreeningResult) []string {
	recs := []string{}
	if r.RiskScore > 70 {
		recs = append(recs, "Perform additional identity verification before processing")
	}
	if r.HasCriticalFlag() {
		recs = append(recs, "Escalate immediately: critical risk flag raised")
	}
	if len(r.RequiredDocuments) > 0 {
		recs = append(recs, fmt.Sprintf("Collect required documents: %s", strings.Join(r.RequiredDocuments, ", ")))
	}
	if r.Decision == domain.DecisionManualReview {
		recs = append(recs,
			"Verify the customer's identity and contact details",
			"Confirm the transaction with the customer",
			"Review recent account activity for anomalies",
		)
	}
	return recs
}

// EstimatedProcessingTime is the expected handling time for a decision.
func EstimatedProcessingTime(d domain.Decision, p domain.Priority) string {
	switch d {
	case domain.DecisionAutoApprove, domain.DecisionAutoDecline:
		return "immediate"
	case domain.DecisionEscalate:
		if p == domain.PriorityUrgent {
			return "within 1 hour"
		}
		return "2-4 hours"
	}

	switch p {
	case domain.PriorityUrgent:
		return "1-2 hours"
	case domain.PriorityHigh:
		return "2-4 hours"
	case domain.PriorityLow:
		return "24-48 hours"
	default:
		return "4-8 hours"
	}
}
