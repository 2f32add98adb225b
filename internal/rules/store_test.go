package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"logwarden/internal/domain"
	memstore "logwarden/internal/store/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(memstore.NewRuleRepository(), NewMemoryState(), testLogger())
}

func TestStoreCreateAndReload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule, err := s.Create(ctx, &domain.CreateRuleRequest{
		Type:  domain.RuleTypeLevel,
		Level: "error",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.ID == "" {
		t.Error("created rule should have an id")
	}
	if rule.Level != domain.LevelError {
		t.Errorf("level should be normalized to ERROR, got %s", rule.Level)
	}
	if rule.Severity != domain.SeverityWarning {
		t.Errorf("expected default severity warning, got %s", rule.Severity)
	}
	if rule.Score != 0.8 {
		t.Errorf("expected default score 0.8, got %v", rule.Score)
	}
	if !rule.IsActive {
		t.Error("created rule should be active")
	}

	// Create reloads the snapshot, so the new rule evaluates immediately.
	if s.Snapshot().Total() != 1 {
		t.Errorf("snapshot should hold 1 rule, got %d", s.Snapshot().Total())
	}
}

func TestStoreCreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     domain.CreateRuleRequest
		wantErr error
	}{
		{
			name:    "unknown rule type",
			req:     domain.CreateRuleRequest{Type: "regex"},
			wantErr: domain.ErrInvalidRuleType,
		},
		{
			name:    "level rule without level",
			req:     domain.CreateRuleRequest{Type: domain.RuleTypeLevel},
			wantErr: domain.ErrEmptyLevel,
		},
		{
			name:    "keyword rule without keyword",
			req:     domain.CreateRuleRequest{Type: domain.RuleTypeKeyword},
			wantErr: domain.ErrEmptyKeyword,
		},
		{
			name:    "safe template without template id",
			req:     domain.CreateRuleRequest{Type: domain.RuleTypeSafeTemplate},
			wantErr: domain.ErrInvalidTemplateID,
		},
		{
			name: "frequency window out of bounds",
			req: domain.CreateRuleRequest{
				Type:              domain.RuleTypeFrequency,
				Level:             "error",
				TimeWindowMinutes: 90,
			},
			wantErr: domain.ErrInvalidTimeWindow,
		},
		{
			name: "frequency threshold out of bounds",
			req: domain.CreateRuleRequest{
				Type:           domain.RuleTypeFrequency,
				Level:          "error",
				ThresholdCount: 500,
			},
			wantErr: domain.ErrInvalidThreshold,
		},
		{
			name: "cooldown out of bounds",
			req: domain.CreateRuleRequest{
				Type:            domain.RuleTypeFrequency,
				Level:           "error",
				CooldownMinutes: 2000,
			},
			wantErr: domain.ErrInvalidCooldown,
		},
		{
			name: "score out of range",
			req: domain.CreateRuleRequest{
				Type:  domain.RuleTypeLevel,
				Level: "error",
				Score: floatPtr(1.5),
			},
			wantErr: domain.ErrInvalidScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, &tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if s.Snapshot().Total() != 0 {
		t.Errorf("rejected rules must not reach the snapshot, got %d", s.Snapshot().Total())
	}
}

func TestStoreFrequencyDefaults(t *testing.T) {
	s := newTestStore(t)

	rule, err := s.Create(context.Background(), &domain.CreateRuleRequest{
		Type:  domain.RuleTypeFrequency,
		Level: "error",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.TimeWindowMinutes != 5 {
		t.Errorf("expected default window 5, got %d", rule.TimeWindowMinutes)
	}
	if rule.ThresholdCount != 1 {
		t.Errorf("expected default threshold 1, got %d", rule.ThresholdCount)
	}
	if rule.CooldownMinutes != 30 {
		t.Errorf("expected default cooldown 30, got %d", rule.CooldownMinutes)
	}
}

func TestStoreDuplicateSafeTemplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, &domain.CreateRuleRequest{Type: domain.RuleTypeSafeTemplate, TemplateID: 42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := s.Create(ctx, &domain.CreateRuleRequest{Type: domain.RuleTypeSafeTemplate, TemplateID: 42})
	if !errors.Is(err, domain.ErrDuplicateSafeTemplate) {
		t.Errorf("expected ErrDuplicateSafeTemplate, got %v", err)
	}

	// A different template id is fine.
	if _, err := s.Create(ctx, &domain.CreateRuleRequest{Type: domain.RuleTypeSafeTemplate, TemplateID: 43}); err != nil {
		t.Errorf("unexpected error for distinct template: %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule, err := s.Create(ctx, &domain.CreateRuleRequest{Type: domain.RuleTypeKeyword, Keyword: "timeout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Update(ctx, rule.ID, &domain.UpdateRuleRequest{}); !errors.Is(err, domain.ErrNoFieldsToUpdate) {
		t.Errorf("empty patch should be rejected, got %v", err)
	}

	inactive := false
	updated, err := s.Update(ctx, rule.ID, &domain.UpdateRuleRequest{IsActive: &inactive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.IsActive {
		t.Error("rule should be inactive after patch")
	}
	if s.Snapshot().Total() != 0 {
		t.Errorf("deactivated rule should leave the snapshot, got %d", s.Snapshot().Total())
	}

	// A patch producing an invalid rule is rejected and not persisted.
	empty := ""
	if _, err := s.Update(ctx, rule.ID, &domain.UpdateRuleRequest{Keyword: &empty}); !errors.Is(err, domain.ErrEmptyKeyword) {
		t.Errorf("expected ErrEmptyKeyword, got %v", err)
	}
	got, err := s.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Keyword != "timeout" {
		t.Errorf("failed patch must not persist, keyword is %q", got.Keyword)
	}

	if _, err := s.Update(ctx, "missing", &domain.UpdateRuleRequest{IsActive: &inactive}); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule, err := s.Create(ctx, &domain.CreateRuleRequest{Type: domain.RuleTypeLevel, Level: "critical"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Snapshot().Total() != 0 {
		t.Errorf("deleted rule should leave the snapshot, got %d", s.Snapshot().Total())
	}
	if err := s.Delete(ctx, rule.ID); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestStoreReloadKeepsFrequencyState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule, err := s.Create(ctx, &domain.CreateRuleRequest{
		Type:              domain.RuleTypeFrequency,
		Level:             "error",
		TimeWindowMinutes: 5,
		ThresholdCount:    3,
		CooldownMinutes:   30,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine := NewEngine(s.State(), testLogger())
	ev := func(offset time.Duration) *domain.LogEvent {
		return newEvent(testBase.Add(offset), "api", domain.LevelError, "boom", 1)
	}

	engine.Evaluate(ctx, s.Snapshot(), ev(0))
	engine.Evaluate(ctx, s.Snapshot(), ev(time.Minute))

	// Reload between observations must not reset the window.
	desc := "updated"
	if _, err := s.Update(ctx, rule.ID, &domain.UpdateRuleRequest{Description: &desc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := engine.Evaluate(ctx, s.Snapshot(), ev(2*time.Minute))
	if rec == nil {
		t.Fatal("third event should fire: reload must preserve window state")
	}
}

func TestStoreSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate := func(req domain.CreateRuleRequest) {
		t.Helper()
		if _, err := s.Create(ctx, &req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mustCreate(domain.CreateRuleRequest{Type: domain.RuleTypeLevel, Level: "error"})
	mustCreate(domain.CreateRuleRequest{Type: domain.RuleTypeLevel, Level: "critical"})
	mustCreate(domain.CreateRuleRequest{Type: domain.RuleTypeKeyword, Keyword: "panic"})
	mustCreate(domain.CreateRuleRequest{Type: domain.RuleTypeSafeTemplate, TemplateID: 7})

	summary, err := s.Summarize(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByType[domain.RuleTypeLevel] != 2 {
		t.Errorf("expected 2 level rules, got %d", summary.ByType[domain.RuleTypeLevel])
	}
	if summary.ByType[domain.RuleTypeKeyword] != 1 {
		t.Errorf("expected 1 keyword rule, got %d", summary.ByType[domain.RuleTypeKeyword])
	}
	if summary.ByType[domain.RuleTypeSafeTemplate] != 1 {
		t.Errorf("expected 1 safe_template rule, got %d", summary.ByType[domain.RuleTypeSafeTemplate])
	}
	if summary.ActiveCooldowns != 0 {
		t.Errorf("expected 0 active cooldowns, got %d", summary.ActiveCooldowns)
	}
	if summary.LoadedAt.IsZero() {
		t.Error("summary should carry the snapshot load time")
	}
}

func TestStoreTestIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []*domain.LogEvent{
		newEvent(testBase, "api", domain.LevelError, "boom", 1),
		newEvent(testBase.Add(time.Minute), "api", domain.LevelError, "boom", 1),
		newEvent(testBase.Add(2*time.Minute), "api", domain.LevelError, "boom", 1),
	}

	records, err := s.Test(ctx, &domain.CreateRuleRequest{
		Type:              domain.RuleTypeFrequency,
		Level:             "error",
		TimeWindowMinutes: 5,
		ThresholdCount:    3,
		CooldownMinutes:   30,
	}, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(records))
	}

	// The dry run persisted nothing and touched no live state.
	all, err := s.List(ctx, domain.RuleFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("dry run must not persist rules, found %d", len(all))
	}
	n, _ := s.State().ActiveCooldowns(ctx)
	if n != 0 {
		t.Errorf("dry run must not touch live cooldowns, found %d", n)
	}
}

func floatPtr(f float64) *float64 { return &f }
