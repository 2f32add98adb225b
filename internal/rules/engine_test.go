package rules

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"logwarden/internal/domain"
)

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.Default()
}

func newEvent(ts time.Time, service string, level domain.Level, msg string, templateID int64) *domain.LogEvent {
	return &domain.LogEvent{
		Timestamp:  ts,
		Service:    service,
		Level:      level,
		RawMessage: msg,
		TemplateID: templateID,
		Parameters: []string{},
	}
}

func levelRule(id string, level domain.Level) *domain.AnomalyRule {
	return &domain.AnomalyRule{
		ID:       id,
		Type:     domain.RuleTypeLevel,
		Level:    level,
		Severity: domain.SeverityCritical,
		Score:    0.9,
		IsActive: true,
	}
}

func keywordRule(id, keyword string) *domain.AnomalyRule {
	return &domain.AnomalyRule{
		ID:       id,
		Type:     domain.RuleTypeKeyword,
		Keyword:  keyword,
		Severity: domain.SeverityWarning,
		Score:    0.7,
		IsActive: true,
	}
}

func frequencyRule(id string, level domain.Level, window, threshold, cooldown int, perService bool) *domain.AnomalyRule {
	return &domain.AnomalyRule{
		ID:                id,
		Type:              domain.RuleTypeFrequency,
		Level:             level,
		TimeWindowMinutes: window,
		ThresholdCount:    threshold,
		CooldownMinutes:   cooldown,
		PerService:        perService,
		Severity:          domain.SeverityWarning,
		Score:             0.8,
		IsActive:          true,
	}
}

func safeTemplateRule(id string, templateID int64) *domain.AnomalyRule {
	return &domain.AnomalyRule{
		ID:         id,
		Type:       domain.RuleTypeSafeTemplate,
		TemplateID: templateID,
		IsActive:   true,
	}
}

func TestEngineSafeTemplateOverridesEverything(t *testing.T) {
	snap := NewSnapshot([]*domain.AnomalyRule{
		levelRule("lvl-1", domain.LevelError),
		keywordRule("kw-1", "panic"),
		safeTemplateRule("safe-1", 42),
	})
	engine := NewEngine(NewMemoryState(), testLogger())

	// Whitelisted template: would match both the level and keyword rules.
	rec := engine.Evaluate(context.Background(), snap, newEvent(testBase, "api", domain.LevelError, "panic: nil deref", 42))
	if rec != nil {
		t.Fatalf("safe template event should not produce a record, got rule %s", rec.RuleID)
	}

	// Same message on a different template still fires.
	rec = engine.Evaluate(context.Background(), snap, newEvent(testBase, "api", domain.LevelError, "panic: nil deref", 43))
	if rec == nil {
		t.Fatal("non-safe template event should produce a record")
	}
}

func TestEngineLevelRuleFiresEveryMatch(t *testing.T) {
	snap := NewSnapshot([]*domain.AnomalyRule{levelRule("lvl-1", domain.LevelCritical)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	// Level rules have no cooldown: three matching events, three records.
	for i := 0; i < 3; i++ {
		ev := newEvent(testBase.Add(time.Duration(i)*time.Second), "db", domain.LevelCritical, "disk full", 7)
		rec := engine.Evaluate(ctx, snap, ev)
		if rec == nil {
			t.Fatalf("event %d: expected a record", i)
		}
		if rec.RuleID != "lvl-1" {
			t.Errorf("event %d: expected rule lvl-1, got %s", i, rec.RuleID)
		}
		if rec.Severity != domain.SeverityCritical {
			t.Errorf("event %d: expected severity critical, got %s", i, rec.Severity)
		}
	}

	rec := engine.Evaluate(ctx, snap, newEvent(testBase, "db", domain.LevelInfo, "disk full", 7))
	if rec != nil {
		t.Error("INFO event should not match a CRITICAL level rule")
	}
}

func TestEngineKeywordCaseInsensitive(t *testing.T) {
	snap := NewSnapshot([]*domain.AnomalyRule{keywordRule("kw-1", "Timeout")})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	tests := []struct {
		message string
		want    bool
	}{
		{"connection TIMEOUT after 30s", true},
		{"connection timeout after 30s", true},
		{"request timed out", false},
		{"connection reset by peer", false},
	}

	for _, tt := range tests {
		rec := engine.Evaluate(ctx, snap, newEvent(testBase, "api", domain.LevelInfo, tt.message, 3))
		got := rec != nil
		if got != tt.want {
			t.Errorf("message %q: expected match=%v, got %v", tt.message, tt.want, got)
		}
	}
}

func TestEngineFirstMatchWins(t *testing.T) {
	snap := NewSnapshot([]*domain.AnomalyRule{
		levelRule("lvl-1", domain.LevelError),
		keywordRule("kw-1", "failed"),
	})
	engine := NewEngine(NewMemoryState(), testLogger())

	// Matches both rules; level rules are checked first.
	rec := engine.Evaluate(context.Background(), snap, newEvent(testBase, "api", domain.LevelError, "request failed", 5))
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.RuleID != "lvl-1" {
		t.Errorf("expected level rule to win, got %s", rec.RuleID)
	}
}

func TestEngineFrequencyThresholdAndCooldown(t *testing.T) {
	// 3 errors in 5 minutes fires, then a 30 minute cooldown.
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 3, 30, false)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	ev := func(offset time.Duration) *domain.LogEvent {
		return newEvent(testBase.Add(offset), "mounter-1", domain.LevelError, "mount failed", 9)
	}

	if rec := engine.Evaluate(ctx, snap, ev(0)); rec != nil {
		t.Fatal("first event should not fire (count 1 of 3)")
	}
	if rec := engine.Evaluate(ctx, snap, ev(time.Minute)); rec != nil {
		t.Fatal("second event should not fire (count 2 of 3)")
	}

	rec := engine.Evaluate(ctx, snap, ev(2*time.Minute))
	if rec == nil {
		t.Fatal("third event should fire (threshold reached)")
	}
	if rec.RuleID != "freq-1" {
		t.Errorf("expected rule freq-1, got %s", rec.RuleID)
	}

	// Fourth event is over the threshold but inside the cooldown.
	if rec := engine.Evaluate(ctx, snap, ev(3*time.Minute)); rec != nil {
		t.Fatal("fourth event should be suppressed by cooldown")
	}

	// After the cooldown expires a fresh burst fires again.
	if rec := engine.Evaluate(ctx, snap, ev(33*time.Minute)); rec != nil {
		t.Fatal("single event after cooldown should not fire (window restarted)")
	}
	if rec := engine.Evaluate(ctx, snap, ev(34*time.Minute)); rec != nil {
		t.Fatal("second event after cooldown should not fire")
	}
	if rec := engine.Evaluate(ctx, snap, ev(35*time.Minute)); rec == nil {
		t.Fatal("third event after cooldown should fire again")
	}
}

func TestEngineFrequencySustainedStreamRefiresAtCooldownExpiry(t *testing.T) {
	// A steady one-error-per-minute stream keeps the window above the
	// threshold for the whole cooldown. The rule must fire at the third
	// event and again at the first event a full cooldown after the first
	// firing, without needing the window to restart.
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 3, 30, false)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	var fired []time.Duration
	for i := 0; i <= 35; i++ {
		offset := time.Duration(i) * time.Minute
		ev := newEvent(testBase.Add(offset), "mounter-1", domain.LevelError, "mount failed", 9)
		if rec := engine.Evaluate(ctx, snap, ev); rec != nil {
			fired = append(fired, offset)
		}
	}

	if len(fired) != 2 {
		t.Fatalf("expected exactly 2 firings, got %d at %v", len(fired), fired)
	}
	if fired[0] != 2*time.Minute {
		t.Errorf("first firing should be at the third event (2m), got %v", fired[0])
	}
	if fired[1] != 32*time.Minute {
		t.Errorf("second firing should come at cooldown expiry (32m), got %v", fired[1])
	}
}

// markRecorder wraps a StateStore and captures MarkFired arguments.
type markRecorder struct {
	StateStore
	lastTTL time.Duration
}

func (r *markRecorder) MarkFired(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	r.lastTTL = ttl
	return r.StateStore.MarkFired(ctx, key, ts, ttl)
}

func TestEngineCooldownMarkerTTLOutlivesCooldown(t *testing.T) {
	// Markers are expired by wall clock but compared in event time. The TTL
	// must exceed the cooldown or a lagging replay loses the marker early.
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 1, 30, false)})
	state := &markRecorder{StateStore: NewMemoryState()}
	engine := NewEngine(state, testLogger())

	rec := engine.Evaluate(context.Background(), snap, newEvent(testBase, "api", domain.LevelError, "boom", 1))
	if rec == nil {
		t.Fatal("threshold 1 event should fire")
	}
	if state.lastTTL <= 30*time.Minute {
		t.Errorf("marker TTL %v should exceed the 30m cooldown", state.lastTTL)
	}
}

func TestEngineFrequencyWindowExpiry(t *testing.T) {
	// Threshold 3 in a 5 minute window; events 4 minutes apart never
	// accumulate enough to fire.
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 3, 30, false)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		ev := newEvent(testBase.Add(time.Duration(i*4)*time.Minute), "api", domain.LevelError, "slow query", 11)
		if rec := engine.Evaluate(ctx, snap, ev); rec != nil {
			t.Fatalf("event %d should not fire: only 2 events ever share a window", i)
		}
	}
}

func TestEngineFrequencyPerServicePartitioning(t *testing.T) {
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 2, 30, true)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	// One error from each of two services: neither partition reaches 2.
	if rec := engine.Evaluate(ctx, snap, newEvent(testBase, "svc-a", domain.LevelError, "boom", 1)); rec != nil {
		t.Fatal("svc-a first event should not fire")
	}
	if rec := engine.Evaluate(ctx, snap, newEvent(testBase.Add(time.Second), "svc-b", domain.LevelError, "boom", 1)); rec != nil {
		t.Fatal("svc-b event should not fire: separate partition")
	}

	// Second error from svc-a reaches its own threshold.
	rec := engine.Evaluate(ctx, snap, newEvent(testBase.Add(2*time.Second), "svc-a", domain.LevelError, "boom", 1))
	if rec == nil {
		t.Fatal("svc-a second event should fire")
	}
	if rec.Service != "svc-a" {
		t.Errorf("expected record for svc-a, got %s", rec.Service)
	}
}

func TestEngineFrequencyGlobalPartitioning(t *testing.T) {
	// With per_service off, events from different services share one window.
	snap := NewSnapshot([]*domain.AnomalyRule{frequencyRule("freq-1", domain.LevelError, 5, 2, 30, false)})
	engine := NewEngine(NewMemoryState(), testLogger())
	ctx := context.Background()

	if rec := engine.Evaluate(ctx, snap, newEvent(testBase, "svc-a", domain.LevelError, "boom", 1)); rec != nil {
		t.Fatal("first event should not fire")
	}
	if rec := engine.Evaluate(ctx, snap, newEvent(testBase.Add(time.Second), "svc-b", domain.LevelError, "boom", 1)); rec == nil {
		t.Fatal("second event should fire: global window spans services")
	}
}

func TestEngineInactiveRulesSkipped(t *testing.T) {
	rule := levelRule("lvl-1", domain.LevelError)
	rule.IsActive = false

	snap := NewSnapshot([]*domain.AnomalyRule{rule})
	engine := NewEngine(NewMemoryState(), testLogger())

	if rec := engine.Evaluate(context.Background(), snap, newEvent(testBase, "api", domain.LevelError, "boom", 1)); rec != nil {
		t.Fatal("inactive rule should not fire")
	}
	if snap.Total() != 0 {
		t.Errorf("inactive rules should not count toward the snapshot, got %d", snap.Total())
	}
}
