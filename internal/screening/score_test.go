package screening

import (
	"math/rand"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func scored(risk float64, amount string, method string) *domain.EnrichedTransaction {
	return &domain.EnrichedTransaction{
		PaymentTransaction: domain.PaymentTransaction{
			Amount:        decimal.RequireFromString(amount),
			PaymentMethod: method,
		},
		CustomerRiskScore: risk,
	}
}

func TestRiskScore(t *testing.T) {
	flagged := []domain.AppliedRule{{Action: domain.ActionFlag}}
	approved := []domain.AppliedRule{{Action: domain.ActionAutoApprove}}

	tests := []struct {
		name    string
		tx      *domain.EnrichedTransaction
		applied []domain.AppliedRule
		want    int
	}{
		{"baseline only", scored(40, "5000", domain.PaymentWallet), nil, 40},
		{"over 50k", scored(40, "50000.01", domain.PaymentWallet), nil, 60},
		{"exactly 50k is mid band", scored(40, "50000", domain.PaymentWallet), nil, 50},
		{"over 10k", scored(40, "10001", domain.PaymentWallet), nil, 50},
		{"under 1k", scored(40, "999.99", domain.PaymentWallet), nil, 30},
		{"cash", scored(40, "5000", domain.PaymentCash), nil, 55},
		{"bank transfer", scored(40, "5000", domain.PaymentBankTransfer), nil, 55},
		{"debit card", scored(40, "5000", domain.PaymentDebitCard), nil, 35},
		{"flag rule", scored(40, "5000", domain.PaymentWallet), flagged, 50},
		{"approve rule", scored(40, "5000", domain.PaymentWallet), approved, 25},
		{"rounds half up", scored(40.5, "5000", domain.PaymentWallet), nil, 41},
		{"clamped high", scored(95, "90000", domain.PaymentCash), append(flagged, flagged...), 100},
		{"clamped low", scored(0, "10", domain.PaymentCreditCard), approved, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskScore(tt.tx, tt.applied))
		})
	}
}

func TestRiskScoreAdjustments(t *testing.T) {
	tx := scored(60, "5000", domain.PaymentWallet)
	tx.IsVIP = true
	tx.AccountVerified = true
	tx.PriorTransactionCount = 11
	assert.Equal(t, 25, RiskScore(tx, nil))

	tx.PriorTransactionCount = 10
	assert.Equal(t, 30, RiskScore(tx, nil))
}

func TestRiskScoreAlwaysClamped(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	methods := []string{domain.PaymentCreditCard, domain.PaymentDebitCard, domain.PaymentBankTransfer, domain.PaymentCash, domain.PaymentWallet, ""}
	actions := []domain.ActionType{domain.ActionFlag, domain.ActionAutoApprove, domain.ActionEscalate, ""}

	for i := 0; i < 2000; i++ {
		tx := &domain.EnrichedTransaction{
			PaymentTransaction: domain.PaymentTransaction{
				Amount:        decimal.NewFromFloat(rnd.Float64() * 200000),
				PaymentMethod: methods[rnd.Intn(len(methods))],
			},
			CustomerRiskScore:     rnd.Float64()*400 - 200,
			IsVIP:                 rnd.Intn(2) == 0,
			AccountVerified:       rnd.Intn(2) == 0,
			PriorTransactionCount: rnd.Intn(30),
		}
		var applied []domain.AppliedRule
		for j := rnd.Intn(12); j > 0; j-- {
			applied = append(applied, domain.AppliedRule{Action: actions[rnd.Intn(len(actions))]})
		}

		got := RiskScore(tx, applied)
		if got < 0 || got > 100 {
			t.Fatalf("risk score %d out of range for %+v", got, tx)
		}
	}
}

func TestEstimatedProcessingTime(t *testing.T) {
	tests := []struct {
		decision domain.Decision
		priority domain.Priority
		want     string
	}{
		{domain.DecisionAutoApprove, domain.PriorityUrgent, "immediate"},
		{domain.DecisionAutoDecline, domain.PriorityLow, "immediate"},
		{domain.DecisionEscalate, domain.PriorityUrgent, "within 1 hour"},
		{domain.DecisionEscalate, domain.PriorityMedium, "2-4 hours"},
		{domain.DecisionManualReview, domain.PriorityUrgent, "1-2 hours"},
		{domain.DecisionManualReview, domain.PriorityHigh, "2-4 hours"},
		{domain.DecisionManualReview, domain.PriorityMedium, "4-8 hours"},
		{domain.DecisionManualReview, domain.PriorityLow, "24-48 hours"},
	}

	for _, tt := range tests {
		t.Run(string(tt.decision)+"/"+string(tt.priority), func(t *testing.T) {
			assert.Equal(t, tt.want, EstimatedProcessingTime(tt.decision, tt.priority))
		})
	}
}

func TestRecommendations(t *testing.T) {
	quiet := &domain.PreScreeningResult{Decision: domain.DecisionAutoApprove, RiskScore: 20}
	assert.Empty(t, Recommendations(quiet))

	loud := &domain.PreScreeningResult{
		Decision:          domain.DecisionManualReview,
		RiskScore:         71,
		Flags:             []domain.Flag{{Severity: domain.SeverityCritical}},
		RequiredDocuments: []string{"identity_proof", "identity_proof"},
	}
	recs := Recommendations(loud)
	assert.Len(t, recs, 6)
	assert.Equal(t, "Perform additional identity verification before processing", recs[0])
	assert.Equal(t, "Escalate immediately: critical risk flag raised", recs[1])
	assert.Equal(t, "Collect required documents: identity_proof, identity_proof", recs[2])
}
