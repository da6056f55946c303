package rules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry holds the active rule set. Evaluations take read-only snapshots;
// administrative changes take the write lock. Execution counters are atomic
// so matches only need the read lock.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry
}

type entry struct {
	rule       *domain.AutomationRule
	executions atomic.Int64
}

// NewRegistry creates a registry seeded with the given rules, typically DefaultRules().
func NewRegistry(seed []*domain.AutomationRule) *Registry {
	r := &Registry{index: make(map[string]*entry, len(seed))}
	for _, rule := range seed {
		if rule == nil {
			continue
		}
		if _, dup := r.index[rule.ID]; dup {
			continue
		}
		r.appendLocked(rule)
	}
	return r
}

func (r *Registry) appendLocked(rule *domain.AutomationRule) {
	e := &entry{rule: cloneRule(rule)}
	e.executions.Store(rule.Metadata.ExecutionCount)
	r.entries = append(r.entries, e)
	r.index[rule.ID] = e
}

// Snapshot returns copies of every rule in registry order with current execution counts.
func (r *Registry) Snapshot() []*domain.AutomationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AutomationRule, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	return out
}

func (e *entry) snapshot() *domain.AutomationRule {
	c := cloneRule(e.rule)
	c.Metadata.ExecutionCount = e.executions.Load()
	return c
}

// Get returns a copy of a rule by id.
func (r *Registry) Get(id string) (*domain.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return e.snapshot(), nil
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Add appends a rule. Duplicate ids are rejected.
func (r *Registry) Add(rule *domain.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.index[rule.ID]; dup {
		return fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidRule, rule.ID)
	}
	r.appendLocked(rule)
	return nil
}

// Replace swaps a rule in place, keeping its position and execution count.
// It returns the previous version.
func (r *Registry) Replace(rule *domain.AutomationRule) (*domain.AutomationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[rule.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, rule.ID)
	}
	prev := e.snapshot()
	e.rule = cloneRule(rule)
	return prev, nil
}

// Remove deletes a rule and returns it along with its former position.
func (r *Registry) Remove(id string) (*domain.AutomationRule, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[id]
	if !ok {
		return nil, -1, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}

	pos := -1
	for i, cur := range r.entries {
		if cur == e {
			pos = i
			break
		}
	}
	r.entries = append(r.entries[:pos], r.entries[pos+1:]...)
	delete(r.index, id)
	return e.snapshot(), pos, nil
}

// insert puts a rule back at pos; used to undo a Remove.
func (r *Registry) insert(pos int, rule *domain.AutomationRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.index[rule.ID]; dup {
		return
	}
	e := &entry{rule: cloneRule(rule)}
	e.executions.Store(rule.Metadata.ExecutionCount)

	if pos < 0 || pos > len(r.entries) {
		pos = len(r.entries)
	}
	r.entries = append(r.entries, nil)
	copy(r.entries[pos+1:], r.entries[pos:])
	r.entries[pos] = e
	r.index[rule.ID] = e
}

// RecordExecution increments a rule's execution counter. Unknown ids are ignored.
func (r *Registry) RecordExecution(id string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.index[id]; ok {
		e.executions.Add(1)
	}
}

// Custom returns copies of the operator-created rules, the only ones persisted.
func (r *Registry) Custom() []*domain.AutomationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AutomationRule, 0)
	for _, e := range r.entries {
		if e.rule.IsCustom() {
			out = append(out, e.snapshot())
		}
	}
	return out
}

func cloneRule(rule *domain.AutomationRule) *domain.AutomationRule {
	c := *rule
	c.Conditions = append([]domain.RuleCondition(nil), rule.Conditions...)
	c.Actions = append([]domain.RuleAction(nil), rule.Actions...)
	return &c
}
