package domain

import (
	"time"
)

// Decision is the disposition produced by pre-screening.
type Decision string

const (
	DecisionAutoApprove  Decision = "auto_approve"
	DecisionAutoDecline  Decision = "auto_decline"
	DecisionManualReview Decision = "manual_review"
	DecisionEscalate     Decision = "escalate"
)

// Priority is the processing priority of a screened transaction.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid returns true when the priority is one of the known levels.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// FlagType classifies a flag raised on a transaction.
type FlagType string

const (
	FlagAlert   FlagType = "alert"
	FlagWarning FlagType = "warning"
	FlagInfo    FlagType = "info"
)

// Severity is shared by flags and fraud indicators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid returns true when the severity is one of the known levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Flag is an annotation raised by a matched rule.
type Flag struct {
	Type     FlagType `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	RuleID   string   `json:"ruleId,omitempty"`
}

// AppliedRule records a rule that matched during pre-screening.
type AppliedRule struct {
	RuleID     string     `json:"ruleId"`
	RuleName   string     `json:"ruleName"`
	Confidence float64    `json:"confidence"`
	Action     ActionType `json:"action"` // first action on the rule
}

// AgentAssignment routes the transaction to an agent or a role queue.
type AgentAssignment struct {
	AgentID string `json:"agentId,omitempty"`
	Role    string `json:"role,omitempty"`
	RuleID  string `json:"ruleId,omitempty"`
}

// PreScreeningResult is the outcome of a single pre-screen call.
// It is built once and never mutated after it is returned.
type PreScreeningResult struct {
	ID                      string           `json:"id"`
	TransactionID           string           `json:"transactionId"`
	Decision                Decision         `json:"decision"`
	Confidence              float64          `json:"confidence"`
	AppliedRules            []AppliedRule    `json:"appliedRules"`
	RiskScore               int              `json:"riskScore"`
	Flags                   []Flag           `json:"flags"`
	Recommendations         []string         `json:"recommendations"`
	AssignedAgent           *AgentAssignment `json:"assignedAgent,omitempty"`
	Priority                Priority         `json:"priority"`
	RequiredDocuments       []string         `json:"requiredDocuments"`
	EstimatedProcessingTime string           `json:"estimatedProcessingTime"`
	FailSafe                bool             `json:"failSafe,omitempty"`
	ScreenedAt              time.Time        `json:"screenedAt"`
}

// HasCriticalFlag reports whether any flag is critical.
func (r *PreScreeningResult) HasCriticalFlag() bool {
	for _, f := range r.Flags {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Notification is published to the bus for every send_notification action.
type Notification struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	Recipients    []string  `json:"recipients,omitempty"`
	Template      string    `json:"template,omitempty"`
	RuleID        string    `json:"ruleId"`
	TransactionID string    `json:"transactionId"`
	Decision      Decision  `json:"decision"`
	RiskScore     int       `json:"riskScore"`
	CreatedAt     time.Time `json:"createdAt"`
}
