// Package screening runs enriched payment transactions through the rule
// registry and assembles the pre-screening disposition.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-screening")

// Screener is the pre-screening orchestrator. It is safe for concurrent use.
type Screener struct {
	enricher      domain.Enricher
	registry      *rules.Registry
	notifier      domain.Notifier
	metrics       *metrics.Metrics
	policy        domain.AssignmentPolicy
	workers       int
	enrichTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// Option configures a Screener.
type Option func(*Screener)

// WithNotifier dispatches send_notification actions.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Screener) { s.notifier = n }
}

// WithMetrics records screening metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Screener) { s.metrics = m }
}

// WithAssignmentPolicy selects how repeated set_priority and assign_agent
// actions resolve.
func WithAssignmentPolicy(p domain.AssignmentPolicy) Option {
	return func(s *Screener) { s.policy = p }
}

// WithWorkers sizes the batch worker pool.
func WithWorkers(n int) Option {
	return func(s *Screener) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithEnrichTimeout bounds the enrichment step. Zero disables the bound.
func WithEnrichTimeout(d time.Duration) Option {
	return func(s *Screener) { s.enrichTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Screener) { s.now = now }
}

// WithIDGenerator overrides result and notification id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Screener) { s.newID = fn }
}

// New creates a Screener over the given registry.
func New(enricher domain.Enricher, registry *rules.Registry, opts ...Option) *Screener {
	s := &Screener{
		enricher: enricher,
		registry: registry,
		policy:   domain.AssignLastWriterWins,
		workers:  runtime.NumCPU(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a Screener from config.
func NewFromConfig(cfg domain.ScreeningConfig, enricher domain.Enricher, registry *rules.Registry, opts ...Option) *Screener {
	base := []Option{
		WithAssignmentPolicy(cfg.AssignmentPolicy),
		WithWorkers(cfg.BatchWorkers),
		WithEnrichTimeout(cfg.EnrichTimeout),
	}
	return New(enricher, registry, append(base, opts...)...)
}

// Enrich runs only the enrichment step with the configured timeout.
func (s *Screener) Enrich(ctx context.Context, tx *domain.PaymentTransaction) (*domain.EnrichedTransaction, error) {
	if s.enrichTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.enrichTimeout)
		defer cancel()
	}

	enriched, err := s.enricher.Enrich(ctx, tx)
	if err != nil {
		s.metrics.EnrichmentFailed()
		if !errors.Is(err, domain.ErrEnrichmentFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrEnrichmentFailed, err)
		}
		return nil, err
	}
	return enriched, nil
}

// PreScreen enriches the transaction and evaluates it against the current
// rule set. Enrichment failure fails the call; callers should fall back to
// FailSafe rather than approve.
func (s *Screener) PreScreen(ctx context.Context, tx *domain.PaymentTransaction) (*domain.PreScreeningResult, error) {
	return s.preScreen(ctx, tx, nil)
}

func (s *Screener) preScreen(ctx context.Context, tx *domain.PaymentTransaction, ordered []*domain.AutomationRule) (*domain.PreScreeningResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "screening.PreScreen")
	defer span.End()
	if tx != nil {
		span.SetAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("tx.payment_method", tx.PaymentMethod),
		)
	}

	enriched, err := s.Enrich(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrichment failed")
		return nil, err
	}
	return s.evaluate(ctx, enriched, ordered, start), nil
}

// Evaluate screens a transaction that was already enriched through Enrich.
// It dispatches notifications and records metrics like PreScreen.
func (s *Screener) Evaluate(ctx context.Context, enriched *domain.EnrichedTransaction) *domain.PreScreeningResult {
	return s.evaluate(ctx, enriched, nil, time.Now())
}

func (s *Screener) evaluate(ctx context.Context, enriched *domain.EnrichedTransaction, ordered []*domain.AutomationRule, start time.Time) *domain.PreScreeningResult {
	if ordered == nil {
		ordered = rules.Prioritize(s.registry.Snapshot())
	}

	result, notes := s.Screen(enriched, ordered)
	s.dispatch(ctx, notes)

	elapsed := time.Since(start)
	s.metrics.ObserveScreening(string(result.Decision), result.RiskScore, elapsed)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("screening.decision", string(result.Decision)),
		attribute.Int("screening.risk_score", result.RiskScore),
		attribute.Int("screening.applied_rules", len(result.AppliedRules)),
	)

	slog.Debug("transaction pre-screened",
		"tx_id", result.TransactionID,
		"decision", result.Decision,
		"risk_score", result.RiskScore,
		"applied_rules", len(result.AppliedRules),
		"duration_ms", elapsed.Milliseconds(),
	)
	return result
}

// Screen evaluates an already enriched transaction against rules, which must
// be in evaluation order (see rules.Prioritize). It returns the result and
// the notifications its rules requested. Execution counters of matching
// rules are incremented.
func (s *Screener) Screen(tx *domain.EnrichedTransaction, ordered []*domain.AutomationRule) (*domain.PreScreeningResult, []*domain.Notification) {
	record := tx.Record()
	now := s.now().UTC()

	result := &domain.PreScreeningResult{
		ID:                s.newID(),
		TransactionID:     tx.ID,
		Decision:          domain.DecisionManualReview,
		AppliedRules:      []domain.AppliedRule{},
		Flags:             []domain.Flag{},
		Priority:          domain.PriorityMedium,
		RequiredDocuments: []string{},
		ScreenedAt:        now,
	}

	var (
		notes       []*domain.Notification
		maxConf     float64
		prioritySet bool
		agentSet    bool
	)
	firstWins := s.policy == domain.AssignFirstWriterWins

	for _, rule := range ordered {
		ev := rules.Evaluate(rule, record)
		if !ev.Matches {
			continue
		}

		s.registry.RecordExecution(rule.ID)
		s.metrics.RuleMatched(rule.ID)
		result.AppliedRules = append(result.AppliedRules, domain.AppliedRule{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Confidence: ev.Confidence,
			Action:     rule.PrimaryAction(),
		})

		if ev.Confidence > maxConf {
			maxConf = ev.Confidence
			if at, ok := rule.PrimaryDecision(); ok {
				result.Decision, _ = at.Decision()
			}
		}

		for _, action := range rule.Actions {
			switch action.Type {
			case domain.ActionFlag:
				if action.Flag == nil {
					continue
				}
				result.Flags = append(result.Flags, domain.Flag{
					Type:     action.Flag.Type,
					Severity: action.Flag.Severity,
					Message:  action.Flag.Message,
					RuleID:   rule.ID,
				})
			case domain.ActionSetPriority:
				if action.SetPriority == nil || (firstWins && prioritySet) {
					continue
				}
				result.Priority = action.SetPriority.Priority
				prioritySet = true
			case domain.ActionAssignAgent:
				if action.AssignAgent == nil || (firstWins && agentSet) {
					continue
				}
				result.AssignedAgent = &domain.AgentAssignment{
					AgentID: action.AssignAgent.AgentID,
					Role:    action.AssignAgent.Role,
					RuleID:  rule.ID,
				}
				agentSet = true
			case domain.ActionRequestDocuments:
				if action.RequestDocuments != nil {
					result.RequiredDocuments = append(result.RequiredDocuments, action.RequestDocuments.Documents...)
				}
			case domain.ActionSendNotification:
				if action.Notification == nil {
					continue
				}
				notes = append(notes, &domain.Notification{
					ID:            s.newID(),
					Channel:       action.Notification.Channel,
					Recipients:    action.Notification.Recipients,
					Template:      action.Notification.Template,
					RuleID:        rule.ID,
					TransactionID: tx.ID,
					CreatedAt:     now,
				})
			}
		}
	}

	result.Confidence = maxConf
	result.RiskScore = RiskScore(tx, result.AppliedRules)
	result.Recommendations = Recommendations(result)
	result.EstimatedProcessingTime = EstimatedProcessingTime(result.Decision, result.Priority)

	for _, n := range notes {
		n.Decision = result.Decision
		n.RiskScore = result.RiskScore
	}
	return result, notes
}

// dispatch hands notifications to the notifier. Failures never affect the
// screening outcome.
func (s *Screener) dispatch(ctx context.Context, notes []*domain.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			slog.Warn("notification dispatch failed",
				"tx_id", n.TransactionID,
				"rule_id", n.RuleID,
				"channel", n.Channel,
				"error", err,
			)
		}
	}
}

// FailSafe builds the manual_review result a caller must use when screening
// fails.
func (s *Screener) FailSafe(tx *domain.PaymentTransaction, cause error) *domain.PreScreeningResult {
	result := &domain.PreScreeningResult{
		ID:                      s.newID(),
		Decision:                domain.DecisionManualReview,
		AppliedRules:            []domain.AppliedRule{},
		Flags:                   []domain.Flag{},
		Priority:                domain.PriorityHigh,
		RequiredDocuments:       []string{},
		FailSafe:                true,
		ScreenedAt:              s.now().UTC(),
		RiskScore:               failSafeRiskScore,
		EstimatedProcessingTime: EstimatedProcessingTime(domain.DecisionManualReview, domain.PriorityHigh),
	}
	if tx != nil {
		result.TransactionID = tx.ID
	}

	msg := "Automated screening unavailable"
	if cause != nil {
		msg = fmt.Sprintf("Automated screening unavailable: %v", cause)
	}
	result.Flags = append(result.Flags, domain.Flag{
		Type:     domain.FlagWarning,
		Severity: domain.SeverityHigh,
		Message:  msg,
	})
	result.Recommendations = []string{"Review the transaction manually; automated screening could not complete"}
	return result
}
