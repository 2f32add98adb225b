package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"logwarden/internal/domain"
	"logwarden/internal/metrics"
	"logwarden/internal/store"
)

// Store manages the rule lifecycle: persistence through the repository, the
// atomically swapped evaluation snapshot, and the shared frequency state.
// Mutations persist first, then rebuild the snapshot; evaluation always sees
// either the old complete rule set or the new one.
type Store struct {
	repo   store.RuleRepository
	state  StateStore
	snap   atomic.Pointer[Snapshot]
	logger *slog.Logger
}

// Summary describes the loaded rule set and live engine state.
type Summary struct {
	Total           int                     `json:"total"`
	ByType          map[domain.RuleType]int `json:"by_type"`
	ActiveCooldowns int                     `json:"active_cooldowns"`
	LoadedAt        time.Time               `json:"loaded_at"`
}

// NewStore creates a rule store. Call Reload before serving traffic so the
// snapshot reflects persisted rules.
func NewStore(repo store.RuleRepository, state StateStore, logger *slog.Logger) *Store {
	s := &Store{
		repo:   repo,
		state:  state,
		logger: logger,
	}
	s.snap.Store(NewSnapshot(nil))
	return s
}

// Snapshot returns the current evaluation snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// State exposes the frequency state store for engine construction.
func (s *Store) State() StateStore {
	return s.state
}

// Reload rebuilds the snapshot from the repository. Window and cooldown state
// is untouched: editing a rule never resets an in-flight window.
func (s *Store) Reload(ctx context.Context) error {
	all, err := s.repo.List(ctx, domain.RuleFilter{})
	if err != nil {
		metrics.RuleReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to load rules: %w", err)
	}

	snap := NewSnapshot(all)
	s.snap.Store(snap)
	metrics.RuleReloads.WithLabelValues("success").Inc()

	s.logger.Info("rule snapshot reloaded",
		slog.Int("active_rules", snap.Total()))
	return nil
}

// StartRefresher reloads the snapshot on the given interval until the context
// is canceled. A failed reload keeps the previous snapshot in place.
func (s *Store) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("background rule reload failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Create validates and persists a new rule, then reloads the snapshot.
// Active safe_template rules must be unique per template id.
func (s *Store) Create(ctx context.Context, req *domain.CreateRuleRequest) (*domain.AnomalyRule, error) {
	rule := req.ToRule(uuid.New().String())
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if rule.Type == domain.RuleTypeSafeTemplate {
		if err := s.checkSafeTemplateUnique(ctx, rule.TemplateID, ""); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// Update applies a partial patch to an existing rule, validates the result,
// persists it, and reloads the snapshot.
func (s *Store) Update(ctx context.Context, id string, req *domain.UpdateRuleRequest) (*domain.AnomalyRule, error) {
	if req.IsEmpty() {
		return nil, domain.ErrNoFieldsToUpdate
	}

	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	req.ApplyTo(rule)
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if rule.Type == domain.RuleTypeSafeTemplate && rule.IsActive {
		if err := s.checkSafeTemplateUnique(ctx, rule.TemplateID, rule.ID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, err
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes a rule and reloads the snapshot. Frequency state for the
// rule is left to expire on its own.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// Get retrieves a rule by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.AnomalyRule, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves rules matching the filter.
func (s *Store) List(ctx context.Context, filter domain.RuleFilter) ([]*domain.AnomalyRule, error) {
	return s.repo.List(ctx, filter)
}

// Summarize reports the loaded rule counts and the number of cooldowns
// currently suppressing frequency rules.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	snap := s.snap.Load()

	cooldowns, err := s.state.ActiveCooldowns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active cooldowns: %w", err)
	}

	return &Summary{
		Total:           snap.Total(),
		ByType:          snap.Counts(),
		ActiveCooldowns: cooldowns,
		LoadedAt:        snap.LoadedAt(),
	}, nil
}

// Test dry-runs a candidate rule against sample events without persisting
// anything. The candidate gets its own snapshot and a fresh in-memory state,
// so live windows and cooldowns are neither consulted nor disturbed.
func (s *Store) Test(ctx context.Context, req *domain.CreateRuleRequest, events []*domain.LogEvent) ([]*domain.AnomalyRecord, error) {
	rule := req.ToRule(uuid.New().String())
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	snap := NewSnapshot([]*domain.AnomalyRule{rule})
	engine := NewEngine(NewMemoryState(), s.logger)

	records := make([]*domain.AnomalyRecord, 0)
	for _, event := range events {
		if rec := engine.Evaluate(ctx, snap, event); rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// checkSafeTemplateUnique rejects a second active safe_template rule for the
// same template id. excludeID skips the rule being updated.
func (s *Store) checkSafeTemplateUnique(ctx context.Context, templateID int64, excludeID string) error {
	active := true
	existing, err := s.repo.List(ctx, domain.RuleFilter{
		Type:     domain.RuleTypeSafeTemplate,
		IsActive: &active,
	})
	if err != nil {
		return err
	}

	for _, r := range existing {
		if r.TemplateID == templateID && r.ID != excludeID {
			return domain.ErrDuplicateSafeTemplate
		}
	}
	return nil
}
