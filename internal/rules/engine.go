package rules

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"logwarden/internal/domain"
	"logwarden/internal/metrics"
)

// Engine evaluates one event against one rule snapshot. Evaluation order is
// fixed: safe templates veto everything, then level rules, then keyword
// rules, then frequency rules. The first rule that fires wins, so an event
// produces at most one anomaly record.
type Engine struct {
	state  StateStore
	logger *slog.Logger
}

// NewEngine creates an engine over the given frequency state store.
func NewEngine(state StateStore, logger *slog.Logger) *Engine {
	return &Engine{
		state:  state,
		logger: logger,
	}
}

// Evaluate runs the event through the snapshot and returns an anomaly record
// if a rule fired, or nil. The event's own timestamp drives window and
// cooldown arithmetic, so replayed history evaluates the same way live
// traffic does.
func (e *Engine) Evaluate(ctx context.Context, snap *Snapshot, event *domain.LogEvent) *domain.AnomalyRecord {
	start := time.Now()
	defer func() {
		metrics.EvaluateLatency.Observe(time.Since(start).Seconds())
	}()

	if snap.IsSafeTemplate(event.TemplateID) {
		return nil
	}

	// Rules within a variant are score-ordered, so the first match is also
	// the highest-scoring one.
	if rules := snap.levels[event.Level]; len(rules) > 0 {
		return e.record(rules[0], event)
	}

	for _, rule := range snap.keywords {
		if containsFold(event.RawMessage, rule.Keyword) {
			return e.record(rule, event)
		}
	}

	for _, rule := range snap.frequencies {
		if rule.Level != event.Level {
			continue
		}
		if rec := e.evaluateFrequency(ctx, rule, event); rec != nil {
			return rec
		}
	}

	return nil
}

// evaluateFrequency records the observation in the rule's sliding window and
// fires if the threshold is reached outside the cooldown. State store errors
// are logged and the rule is skipped for this event; the pipeline keeps
// flowing.
func (e *Engine) evaluateFrequency(ctx context.Context, rule *domain.AnomalyRule, event *domain.LogEvent) *domain.AnomalyRecord {
	key := StateKey(rule.ID, event.PartitionKey(rule.PerService))

	count, err := e.state.RecordAndCount(ctx, key, event.Timestamp, rule.TimeWindow())
	if err != nil {
		e.logger.Error("frequency window update failed",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if count < rule.ThresholdCount {
		return nil
	}

	firedAt, active, err := e.state.LastFired(ctx, key)
	if err != nil {
		e.logger.Error("cooldown lookup failed",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if active && event.Timestamp.Sub(firedAt) < rule.Cooldown() {
		metrics.CooldownSuppressions.Inc()
		return nil
	}

	// Suppression is decided by the firedAt comparison above in event time.
	// The TTL only garbage-collects markers, so it carries slack: a backlog
	// replayed slower than wall clock must not lose a live marker.
	if err := e.state.MarkFired(ctx, key, event.Timestamp, 2*rule.Cooldown()); err != nil {
		e.logger.Error("cooldown update failed",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()))
	}

	return e.record(rule, event)
}

// record builds the anomaly record for a fired rule.
func (e *Engine) record(rule *domain.AnomalyRule, event *domain.LogEvent) *domain.AnomalyRecord {
	metrics.AnomaliesDetected.WithLabelValues(string(rule.Type), string(rule.Severity)).Inc()

	return &domain.AnomalyRecord{
		ID:         uuid.New().String(),
		Timestamp:  event.Timestamp,
		TemplateID: event.TemplateID,
		RuleID:     rule.ID,
		RuleType:   rule.Type,
		Severity:   rule.Severity,
		Score:      rule.Score,
		RawMessage: event.RawMessage,
		Service:    event.Service,
		Level:      event.Level,
	}
}

// containsFold reports whether s contains substr, ignoring ASCII and Unicode
// case.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
