package memory

import (
	"context"
	"sort"
	"sync"

	"logwarden/internal/domain"
)

// RuleRepository is an in-memory implementation of store.RuleRepository.
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]*domain.AnomalyRule
}

// NewRuleRepository creates a new in-memory rule repository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules: make(map[string]*domain.AnomalyRule),
	}
}

// Create stores a new rule.
func (r *RuleRepository) Create(_ context.Context, rule *domain.AnomalyRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cloned := *rule
	r.rules[rule.ID] = &cloned
	return nil
}

// Update modifies an existing rule.
func (r *RuleRepository) Update(_ context.Context, rule *domain.AnomalyRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; !ok {
		return domain.ErrRuleNotFound
	}

	cloned := *rule
	r.rules[rule.ID] = &cloned
	return nil
}

// Delete removes a rule by ID.
func (r *RuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return domain.ErrRuleNotFound
	}

	delete(r.rules, id)
	return nil
}

// GetByID retrieves a rule by its ID.
func (r *RuleRepository) GetByID(_ context.Context, id string) (*domain.AnomalyRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}

	cloned := *rule
	return &cloned, nil
}

// List retrieves rules matching the filter, newest first.
func (r *RuleRepository) List(_ context.Context, filter domain.RuleFilter) ([]*domain.AnomalyRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.AnomalyRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if filter.Type != "" && rule.Type != filter.Type {
			continue
		}
		if filter.IsActive != nil && rule.IsActive != *filter.IsActive {
			continue
		}
		cloned := *rule
		matched = append(matched, &cloned)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}
