package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleDraft is the input for creating a custom rule.
type RuleDraft struct {
	Name        string                 `json:"name" validate:"required,max=200"`
	Description string                 `json:"description" validate:"max=2000"`
	Enabled     *bool                  `json:"enabled"`
	Priority    int                    `json:"priority" validate:"gte=0,lte=1000"`
	Conditions  []domain.RuleCondition `json:"conditions" validate:"required,min=1,dive"`
	Actions     []domain.RuleAction    `json:"actions" validate:"required,min=1"`
	CreatedBy   string                 `json:"createdBy"`
}

// RuleUpdate is a partial update: nil fields are left unchanged.
type RuleUpdate struct {
	Name              *string                 `json:"name,omitempty"`
	Description       *string                 `json:"description,omitempty"`
	Enabled           *bool                   `json:"enabled,omitempty"`
	Priority          *int                    `json:"priority,omitempty"`
	Conditions        *[]domain.RuleCondition `json:"conditions,omitempty"`
	Actions           *[]domain.RuleAction    `json:"actions,omitempty"`
	SuccessRate       *float64                `json:"successRate,omitempty"`
	FalsePositiveRate *float64                `json:"falsePositiveRate,omitempty"`
}

// Manager is the administrative surface over a Registry. Mutations are
// serialized and persisted; if persisting fails the registry change is undone.
type Manager struct {
	mu       sync.Mutex
	registry *Registry
	repo     domain.RuleRepository
	now      func() time.Time
}

// NewManager creates a rule manager. repo may be nil for an in-memory registry.
func NewManager(registry *Registry, repo domain.RuleRepository) *Manager {
	return &Manager{
		registry: registry,
		repo:     repo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Load restores persisted custom rules into the registry. Entries without the
// custom prefix are skipped; existing ids are replaced.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.repo.LoadRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load custom rules: %w", err)
	}

	loaded := 0
	for _, rule := range stored {
		if rule == nil || !rule.IsCustom() {
			continue
		}
		if err := validateRule(rule); err != nil {
			slog.Warn("skipping invalid stored rule", "rule_id", rule.ID, "error", err)
			continue
		}
		if _, err := m.registry.Replace(rule); errors.Is(err, domain.ErrRuleNotFound) {
			if err := m.registry.Add(rule); err != nil {
				return loaded, err
			}
		}
		loaded++
	}
	return loaded, nil
}

// Get returns a rule by id.
func (m *Manager) Get(id string) (*domain.AutomationRule, error) {
	return m.registry.Get(id)
}

// List returns every rule in registry order.
func (m *Manager) List() []*domain.AutomationRule {
	return m.registry.Snapshot()
}

// Create adds a custom rule with a fresh id and zeroed metadata.
func (m *Manager) Create(ctx context.Context, draft RuleDraft) (*domain.AutomationRule, error) {
	now := m.now()
	enabled := true
	if draft.Enabled != nil {
		enabled = *draft.Enabled
	}

	rule := &domain.AutomationRule{
		ID:          domain.CustomRulePrefix + uuid.New().String(),
		Name:        strings.TrimSpace(draft.Name),
		Description: draft.Description,
		Enabled:     enabled,
		Priority:    draft.Priority,
		Conditions:  draft.Conditions,
		Actions:     draft.Actions,
		Metadata: domain.RuleMetadata{
			CreatedBy:         draft.CreatedBy,
			CreatedAt:         now,
			LastModified:      now,
			ExecutionCount:    0,
			SuccessRate:       100,
			FalsePositiveRate: 0,
		},
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registry.Add(rule); err != nil {
		return nil, err
	}
	if err := m.persist(ctx); err != nil {
		_, _, _ = m.registry.Remove(rule.ID)
		return nil, err
	}

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "priority", rule.Priority)
	return m.registry.Get(rule.ID)
}

// Update merges the non-nil fields into the rule, keeps its id and refreshes LastModified.
func (m *Manager) Update(ctx context.Context, id string, upd RuleUpdate) (*domain.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		rule.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		rule.Description = *upd.Description
	}
	if upd.Enabled != nil {
		rule.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		rule.Priority = *upd.Priority
	}
	if upd.Conditions != nil {
		rule.Conditions = *upd.Conditions
	}
	if upd.Actions != nil {
		rule.Actions = *upd.Actions
	}
	if upd.SuccessRate != nil {
		rule.Metadata.SuccessRate = *upd.SuccessRate
	}
	if upd.FalsePositiveRate != nil {
		rule.Metadata.FalsePositiveRate = *upd.FalsePositiveRate
	}
	rule.ID = id
	rule.Metadata.LastModified = m.now()

	if err := validateRule(rule); err != nil {
		return nil, err
	}

	prev, err := m.registry.Replace(rule)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx); err != nil {
		_, _ = m.registry.Replace(prev)
		return nil, err
	}

	if upd.Conditions != nil {
		forgetCompiled(prev)
	}

	slog.Info("rule updated", "rule_id", id)
	return m.registry.Get(id)
}

// Delete removes a rule by id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, pos, err := m.registry.Remove(id)
	if err != nil {
		return err
	}
	if err := m.persist(ctx); err != nil {
		m.registry.insert(pos, removed)
		return err
	}

	forgetCompiled(removed)

	slog.Info("rule deleted", "rule_id", id)
	return nil
}

// Test evaluates a rule against sample data without touching its metadata
// or the live evaluation path.
func (m *Manager) Test(id string, sample map[string]any) (Evaluation, error) {
	rule, err := m.registry.Get(id)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(rule, sample), nil
}

// persist writes the custom rules. Built-ins never reach the repository.
func (m *Manager) persist(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	if err := m.repo.SaveRules(ctx, m.registry.Custom()); err != nil {
		return fmt.Errorf("failed to save custom rules: %w", err)
	}
	return nil
}

// validateRule checks a rule before it enters the registry.
func validateRule(rule *domain.AutomationRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", domain.ErrInvalidRule)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", domain.ErrInvalidRule)
	}
	if rule.Metadata.SuccessRate < 0 || rule.Metadata.SuccessRate > 100 {
		return fmt.Errorf("%w: successRate must be within 0-100", domain.ErrInvalidRule)
	}
	if rule.Metadata.FalsePositiveRate < 0 || rule.Metadata.FalsePositiveRate > 100 {
		return fmt.Errorf("%w: falsePositiveRate must be within 0-100", domain.ErrInvalidRule)
	}

	for i, cond := range rule.Conditions {
		if !cond.Operator.IsValid() {
			return fmt.Errorf("%w: condition %d has unknown operator %q", domain.ErrInvalidRule, i, cond.Operator)
		}
		switch cond.LogicalOperator {
		case "", domain.LogicalAnd, domain.LogicalOr:
		default:
			return fmt.Errorf("%w: condition %d has unknown logical operator %q", domain.ErrInvalidRule, i, cond.LogicalOperator)
		}
		if cond.Operator == domain.OpExpression {
			expr, ok := cond.Value.(string)
			if !ok {
				return fmt.Errorf("%w: condition %d expression must be a string", domain.ErrInvalidRule, i)
			}
			if _, err := CompileExpression(expr); err != nil {
				return fmt.Errorf("%w: condition %d: %v", domain.ErrInvalidRule, i, err)
			}
			continue
		}
		if cond.Field == "" {
			return fmt.Errorf("%w: condition %d has no field", domain.ErrInvalidRule, i)
		}
	}

	for i, action := range rule.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("%w: action %d: %v", domain.ErrInvalidRule, i, err)
		}
	}
	return nil
}
