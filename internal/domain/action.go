package domain

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies a rule action variant.
type ActionType string

const (
	ActionAutoApprove      ActionType = "auto_approve"
	ActionAutoDecline      ActionType = "auto_decline"
	ActionManualReview     ActionType = "require_manual_review"
	ActionEscalate         ActionType = "escalate"
	ActionFlag             ActionType = "flag"
	ActionSetPriority      ActionType = "set_priority"
	ActionAssignAgent      ActionType = "assign_agent"
	ActionRequestDocuments ActionType = "request_documents"
	ActionSendNotification ActionType = "send_notification"
)

// IsDecision reports whether the action type determines the disposition.
func (t ActionType) IsDecision() bool {
	switch t {
	case ActionAutoApprove, ActionAutoDecline, ActionManualReview, ActionEscalate:
		return true
	default:
		return false
	}
}

// Decision maps a decision-type action to the disposition it produces.
func (t ActionType) Decision() (Decision, bool) {
	switch t {
	case ActionAutoApprove:
		return DecisionAutoApprove, true
	case ActionAutoDecline:
		return DecisionAutoDecline, true
	case ActionManualReview:
		return DecisionManualReview, true
	case ActionEscalate:
		return DecisionEscalate, true
	default:
		return "", false
	}
}

// RuleAction is a tagged union: Type selects which parameter struct is set.
// On the wire it is {"type": "...", "parameters": {...}}.
type RuleAction struct {
	Type ActionType

	Decision         *DecisionParams
	Flag             *FlagParams
	SetPriority      *SetPriorityParams
	AssignAgent      *AssignAgentParams
	RequestDocuments *RequestDocumentsParams
	Notification     *NotificationParams
}

// DecisionParams configures auto_approve, auto_decline, require_manual_review and escalate.
type DecisionParams struct {
	Reason string `json:"reason,omitempty"`
}

// FlagParams configures a flag action.
type FlagParams struct {
	Type     FlagType `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// SetPriorityParams configures a set_priority action.
type SetPriorityParams struct {
	Priority Priority `json:"priority"`
}

// AssignAgentParams configures an assign_agent action.
type AssignAgentParams struct {
	AgentID string `json:"agentId,omitempty"`
	Role    string `json:"role,omitempty"`
}

// RequestDocumentsParams configures a request_documents action.
type RequestDocumentsParams struct {
	Documents []string `json:"documents"`
}

// NotificationParams configures a send_notification action.
type NotificationParams struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients,omitempty"`
	Template   string   `json:"template,omitempty"`
}

// Constructors keep rule definitions in code readable.

func Approve() RuleAction { return RuleAction{Type: ActionAutoApprove} }
func Decline() RuleAction { return RuleAction{Type: ActionAutoDecline} }
func Review() RuleAction  { return RuleAction{Type: ActionManualReview} }
func Escalate() RuleAction {
	return RuleAction{Type: ActionEscalate}
}

func FlagAction(typ FlagType, severity Severity, message string) RuleAction {
	return RuleAction{Type: ActionFlag, Flag: &FlagParams{Type: typ, Severity: severity, Message: message}}
}

func SetPriorityAction(p Priority) RuleAction {
	return RuleAction{Type: ActionSetPriority, SetPriority: &SetPriorityParams{Priority: p}}
}

func AssignAgentAction(agentID, role string) RuleAction {
	return RuleAction{Type: ActionAssignAgent, AssignAgent: &AssignAgentParams{AgentID: agentID, Role: role}}
}

func RequestDocumentsAction(docs ...string) RuleAction {
	return RuleAction{Type: ActionRequestDocuments, RequestDocuments: &RequestDocumentsParams{Documents: docs}}
}

func NotifyAction(channel string, recipients ...string) RuleAction {
	return RuleAction{Type: ActionSendNotification, Notification: &NotificationParams{Channel: channel, Recipients: recipients}}
}

// Validate checks that the parameters required by the action type are present.
func (a RuleAction) Validate() error {
	switch a.Type {
	case ActionAutoApprove, ActionAutoDecline, ActionManualReview, ActionEscalate:
		return nil
	case ActionFlag:
		if a.Flag == nil || a.Flag.Message == "" {
			return fmt.Errorf("flag action requires a message")
		}
		if !a.Flag.Severity.IsValid() {
			return fmt.Errorf("flag action has invalid severity %q", a.Flag.Severity)
		}
	case ActionSetPriority:
		if a.SetPriority == nil || !a.SetPriority.Priority.IsValid() {
			return fmt.Errorf("set_priority action requires a valid priority")
		}
	case ActionAssignAgent:
		if a.AssignAgent == nil || (a.AssignAgent.AgentID == "" && a.AssignAgent.Role == "") {
			return fmt.Errorf("assign_agent action requires an agentId or role")
		}
	case ActionRequestDocuments:
		if a.RequestDocuments == nil || len(a.RequestDocuments.Documents) == 0 {
			return fmt.Errorf("request_documents action requires at least one document")
		}
	case ActionSendNotification:
		if a.Notification == nil || a.Notification.Channel == "" {
			return fmt.Errorf("send_notification action requires a channel")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

type actionWire struct {
	Type       ActionType      `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// MarshalJSON encodes the action as type plus parameters.
func (a RuleAction) MarshalJSON() ([]byte, error) {
	var params any
	switch a.Type {
	case ActionAutoApprove, ActionAutoDecline, ActionManualReview, ActionEscalate:
		if a.Decision != nil {
			params = a.Decision
		}
	case ActionFlag:
		params = a.Flag
	case ActionSetPriority:
		params = a.SetPriority
	case ActionAssignAgent:
		params = a.AssignAgent
	case ActionRequestDocuments:
		params = a.RequestDocuments
	case ActionSendNotification:
		params = a.Notification
	}

	w := actionWire{Type: a.Type}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		w.Parameters = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes parameters into the struct selected by type.
func (a *RuleAction) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*a = RuleAction{Type: w.Type}
	var target any
	switch w.Type {
	case ActionAutoApprove, ActionAutoDecline, ActionManualReview, ActionEscalate:
		a.Decision = &DecisionParams{}
		target = a.Decision
	case ActionFlag:
		a.Flag = &FlagParams{}
		target = a.Flag
	case ActionSetPriority:
		a.SetPriority = &SetPriorityParams{}
		target = a.SetPriority
	case ActionAssignAgent:
		a.AssignAgent = &AssignAgentParams{}
		target = a.AssignAgent
	case ActionRequestDocuments:
		a.RequestDocuments = &RequestDocumentsParams{}
		target = a.RequestDocuments
	case ActionSendNotification:
		a.Notification = &NotificationParams{}
		target = a.Notification
	default:
		return fmt.Errorf("unknown action type %q", w.Type)
	}

	if len(w.Parameters) == 0 || string(w.Parameters) == "null" {
		return nil
	}
	if err := json.Unmarshal(w.Parameters, target); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", w.Type, err)
	}
	return nil
}
