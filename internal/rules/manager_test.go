package rules

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRuleRepo is an in-memory RuleRepository that can be told to fail.
type memoryRuleRepo struct {
	mu      sync.Mutex
	saved   []*domain.AutomationRule
	saves   int
	failErr error
}

func (r *memoryRuleRepo) LoadRules(ctx context.Context) ([]*domain.AutomationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, nil
}

func (r *memoryRuleRepo) SaveRules(ctx context.Context, rules []*domain.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.saves++
	r.saved = rules
	return nil
}

func velocityDraft() RuleDraft {
	return RuleDraft{
		Name:     "Weekend velocity",
		Priority: 60,
		Conditions: []domain.RuleCondition{
			{Field: "transactionVelocity24h", Operator: domain.OpGreaterThan, Value: 5.0, LogicalOperator: domain.LogicalAnd},
			{Field: "amount", Operator: domain.OpGreaterThan, Value: 200.0},
		},
		Actions:   []domain.RuleAction{domain.FlagAction(domain.FlagWarning, domain.SeverityLow, "velocity"), domain.Review()},
		CreatedBy: "ops@example.com",
	}
}

func TestManagerCreate(t *testing.T) {
	repo := &memoryRuleRepo{}
	m := NewManager(NewRegistry(DefaultRules()), repo)

	rule, err := m.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rule.ID, domain.CustomRulePrefix))
	assert.True(t, rule.Enabled)
	assert.Equal(t, int64(0), rule.Metadata.ExecutionCount)
	assert.Equal(t, 100.0, rule.Metadata.SuccessRate)
	assert.Equal(t, 0.0, rule.Metadata.FalsePositiveRate)
	assert.False(t, rule.Metadata.CreatedAt.IsZero())

	// only custom rules reach the repository
	require.Len(t, repo.saved, 1)
	assert.Equal(t, rule.ID, repo.saved[0].ID)
	assert.Len(t, m.List(), 9)
}

func TestManagerCreateRejectsInvalidDraft(t *testing.T) {
	m := NewManager(NewRegistry(nil), nil)

	tests := []struct {
		name  string
		draft func() RuleDraft
	}{
		{"no name", func() RuleDraft { d := velocityDraft(); d.Name = " "; return d }},
		{"no conditions", func() RuleDraft { d := velocityDraft(); d.Conditions = nil; return d }},
		{"no actions", func() RuleDraft { d := velocityDraft(); d.Actions = nil; return d }},
		{"bad operator", func() RuleDraft {
			d := velocityDraft()
			d.Conditions = []domain.RuleCondition{{Field: "amount", Operator: "approximately", Value: 1.0}}
			return d
		}},
		{"bad logical operator", func() RuleDraft {
			d := velocityDraft()
			d.Conditions[0].LogicalOperator = "XOR"
			return d
		}},
		{"bad expression", func() RuleDraft {
			d := velocityDraft()
			d.Conditions = []domain.RuleCondition{{Operator: domain.OpExpression, Value: "tx.amount >"}}
			return d
		}},
		{"bad action params", func() RuleDraft {
			d := velocityDraft()
			d.Actions = []domain.RuleAction{{Type: domain.ActionSetPriority}}
			return d
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), tt.draft())
			assert.ErrorIs(t, err, domain.ErrInvalidRule)
		})
	}
	assert.Zero(t, m.registry.Len())
}

func TestManagerUpdate(t *testing.T) {
	repo := &memoryRuleRepo{}
	m := NewManager(NewRegistry(nil), repo)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	created, err := m.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	name := "Renamed"
	disabled := false
	updated, err := m.Update(context.Background(), created.ID, RuleUpdate{Name: &name, Enabled: &disabled})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Renamed", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, created.Priority, updated.Priority)
	assert.Equal(t, created.Conditions, updated.Conditions)
	assert.Equal(t, created.Metadata.CreatedAt, updated.Metadata.CreatedAt)
	assert.Equal(t, clock, updated.Metadata.LastModified)
	assert.Equal(t, "Renamed", repo.saved[0].Name)

	_, err = m.Update(context.Background(), "custom_missing", RuleUpdate{Name: &name})
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)

	empty := []domain.RuleCondition{}
	_, err = m.Update(context.Background(), created.ID, RuleUpdate{Conditions: &empty})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestManagerDelete(t *testing.T) {
	repo := &memoryRuleRepo{}
	m := NewManager(NewRegistry(DefaultRules()), repo)

	created, err := m.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), created.ID))
	_, err = m.Get(created.ID)
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
	assert.Empty(t, repo.saved)

	assert.ErrorIs(t, m.Delete(context.Background(), created.ID), domain.ErrRuleNotFound)

	// built-ins can be removed for this process; they return on restart
	require.NoError(t, m.Delete(context.Background(), "builtin_geo_mismatch"))
	assert.Len(t, m.List(), 7)
}

func TestManagerRollsBackOnSaveFailure(t *testing.T) {
	repo := &memoryRuleRepo{}
	m := NewManager(NewRegistry(nil), repo)

	created, err := m.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	repo.failErr = errors.New("disk full")

	_, err = m.Create(context.Background(), velocityDraft())
	require.Error(t, err)
	assert.Len(t, m.List(), 1)

	name := "should not stick"
	_, err = m.Update(context.Background(), created.ID, RuleUpdate{Name: &name})
	require.Error(t, err)
	got, _ := m.Get(created.ID)
	assert.Equal(t, "Weekend velocity", got.Name)

	require.Error(t, m.Delete(context.Background(), created.ID))
	_, err = m.Get(created.ID)
	assert.NoError(t, err)
}

func TestManagerTestMatchesLiveEvaluation(t *testing.T) {
	reg := NewRegistry(DefaultRules())
	m := NewManager(reg, nil)

	created, err := m.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	sample := map[string]any{"transactionVelocity24h": 7.0, "amount": 150.0}
	got, err := m.Test(created.ID, sample)
	require.NoError(t, err)

	live, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, Evaluate(live, sample), got)
	assert.False(t, got.Matches)
	assert.InDelta(t, 80, got.Confidence, 1e-9)

	// testing never touches metadata
	after, _ := reg.Get(created.ID)
	assert.Equal(t, int64(0), after.Metadata.ExecutionCount)
	assert.Equal(t, created.Metadata.LastModified, after.Metadata.LastModified)

	_, err = m.Test("custom_missing", sample)
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestManagerLoad(t *testing.T) {
	repo := &memoryRuleRepo{}
	first := NewManager(NewRegistry(DefaultRules()), repo)
	created, err := first.Create(context.Background(), velocityDraft())
	require.NoError(t, err)

	// a stray built-in in storage is ignored
	repo.saved = append(repo.saved, &domain.AutomationRule{ID: "builtin_rogue", Name: "rogue"})

	second := NewManager(NewRegistry(DefaultRules()), repo)
	n, err := second.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := second.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Conditions, got.Conditions)

	_, err = second.Get("builtin_rogue")
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
	assert.Len(t, second.List(), 9)
}

func TestManagerForgetsCompiledOperands(t *testing.T) {
	m := NewManager(NewRegistry(nil), &memoryRuleRepo{})
	ctx := context.Background()

	draft := RuleDraft{
		Name:     "Test merchants",
		Priority: 30,
		Conditions: []domain.RuleCondition{
			{Field: "merchantId", Operator: domain.OpMatchesRegex, Value: "^forget-me-[0-9]+$", LogicalOperator: domain.LogicalAnd},
			{Operator: domain.OpExpression, Value: "tx.amount > 41.0"},
		},
		Actions: []domain.RuleAction{domain.Review()},
	}
	rule, err := m.Create(ctx, draft)
	require.NoError(t, err)

	eval, err := m.Test(rule.ID, map[string]any{"merchantId": "forget-me-7", "amount": 42.0})
	require.NoError(t, err)
	require.True(t, eval.Matches)
	assert.True(t, patterns.Contains("^forget-me-[0-9]+$"))
	assert.True(t, programs.Contains("tx.amount > 41.0"))

	replaced := []domain.RuleCondition{{Field: "merchantId", Operator: domain.OpMatchesRegex, Value: "^kept-[a-z]+$"}}
	_, err = m.Update(ctx, rule.ID, RuleUpdate{Conditions: &replaced})
	require.NoError(t, err)
	assert.False(t, patterns.Contains("^forget-me-[0-9]+$"))
	assert.False(t, programs.Contains("tx.amount > 41.0"))

	_, err = m.Test(rule.ID, map[string]any{"merchantId": "kept-abc"})
	require.NoError(t, err)
	assert.True(t, patterns.Contains("^kept-[a-z]+$"))

	require.NoError(t, m.Delete(ctx, rule.ID))
	assert.False(t, patterns.Contains("^kept-[a-z]+$"))
}

func TestCompiledCachesAreBounded(t *testing.T) {
	record := map[string]any{"merchantId": "m"}
	for i := 0; i < compiledCacheSize+50; i++ {
		EvaluateCondition(record, domain.RuleCondition{
			Field:    "merchantId",
			Operator: domain.OpMatchesRegex,
			Value:    "^bounded-" + strconv.Itoa(i) + "$",
		})
	}
	assert.LessOrEqual(t, patterns.Len(), compiledCacheSize)
}
