package domain

import (
	"errors"
	"fmt"
	"time"
)

// RuleType discriminates the anomaly rule variants. The set is closed: the
// engine matches exhaustively on it and adding a variant means extending the
// evaluation switch.
type RuleType string

const (
	// RuleTypeLevel matches any event at the configured log level.
	RuleTypeLevel RuleType = "level"
	// RuleTypeKeyword matches events whose message contains a substring.
	RuleTypeKeyword RuleType = "keyword"
	// RuleTypeFrequency matches when events at a level exceed a count
	// threshold inside a sliding time window.
	RuleTypeFrequency RuleType = "frequency"
	// RuleTypeSafeTemplate whitelists a template id; matching events are
	// never reported, overriding every other variant.
	RuleTypeSafeTemplate RuleType = "safe_template"
)

// IsValid returns true if the rule type is a known variant.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeLevel, RuleTypeKeyword, RuleTypeFrequency, RuleTypeSafeTemplate:
		return true
	default:
		return false
	}
}

// Severity classifies a firing rule.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// IsValid returns true if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Bounds for rule time settings, mirrored in the admin API docs.
const (
	MinTimeWindowMinutes = 1
	MaxTimeWindowMinutes = 60
	MinThresholdCount    = 1
	MaxThresholdCount    = 100
	MinCooldownMinutes   = 1
	MaxCooldownMinutes   = 1440
)

// Validation errors for AnomalyRule.
var (
	ErrInvalidRuleType     = errors.New("rule_type must be 'level', 'keyword', 'frequency', or 'safe_template'")
	ErrInvalidSeverity     = errors.New("severity must be 'critical', 'warning', or 'info'")
	ErrInvalidScore        = errors.New("score must be between 0.0 and 1.0")
	ErrEmptyLevel          = errors.New("level is required for level and frequency rules")
	ErrEmptyKeyword        = errors.New("keyword is required for keyword rules")
	ErrInvalidTemplateID   = errors.New("template_id must be positive for safe_template rules")
	ErrInvalidTimeWindow   = fmt.Errorf("time_window_minutes must be between %d and %d", MinTimeWindowMinutes, MaxTimeWindowMinutes)
	ErrInvalidThreshold    = fmt.Errorf("threshold_count must be between %d and %d", MinThresholdCount, MaxThresholdCount)
	ErrInvalidCooldown     = fmt.Errorf("cooldown_minutes must be between %d and %d", MinCooldownMinutes, MaxCooldownMinutes)
	ErrRuleNotFound        = errors.New("rule not found")
	ErrDuplicateSafeTemplate = errors.New("an active safe_template rule already exists for this template_id")
	ErrNoFieldsToUpdate    = errors.New("no fields to update")
)

// AnomalyRule is one detection rule. The variant is selected by Type; only the
// fields relevant to that variant are populated (a flattened tagged union, so
// a single table row and JSON shape cover all four kinds).
type AnomalyRule struct {
	ID   string   `json:"id"`
	Type RuleType `json:"rule_type"`

	// Level is the matched log level for level and frequency rules.
	Level Level `json:"level,omitempty"`

	// Keyword is the case-insensitive substring for keyword rules.
	Keyword string `json:"keyword,omitempty"`

	// TemplateID is the whitelisted template for safe_template rules.
	TemplateID int64 `json:"template_id,omitempty"`

	// Frequency settings. Unused by other variants.
	TimeWindowMinutes int  `json:"time_window_minutes,omitempty"`
	ThresholdCount    int  `json:"threshold_count,omitempty"`
	CooldownMinutes   int  `json:"cooldown_minutes,omitempty"`
	PerService        bool `json:"per_service,omitempty"`

	// Severity and Score are absent for safe_template rules.
	Severity Severity `json:"severity,omitempty"`
	Score    float64  `json:"score,omitempty"`

	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the rule for its variant. Invalid rules are rejected at the
// store boundary and never reach evaluation.
func (r *AnomalyRule) Validate() error {
	if !r.Type.IsValid() {
		return ErrInvalidRuleType
	}

	if r.Type == RuleTypeSafeTemplate {
		if r.TemplateID <= 0 {
			return ErrInvalidTemplateID
		}
		return nil
	}

	if !r.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	if r.Score < 0.0 || r.Score > 1.0 {
		return ErrInvalidScore
	}

	switch r.Type {
	case RuleTypeLevel:
		if r.Level == "" {
			return ErrEmptyLevel
		}
	case RuleTypeKeyword:
		if r.Keyword == "" {
			return ErrEmptyKeyword
		}
	case RuleTypeFrequency:
		if r.Level == "" {
			return ErrEmptyLevel
		}
		if r.TimeWindowMinutes < MinTimeWindowMinutes || r.TimeWindowMinutes > MaxTimeWindowMinutes {
			return ErrInvalidTimeWindow
		}
		if r.ThresholdCount < MinThresholdCount || r.ThresholdCount > MaxThresholdCount {
			return ErrInvalidThreshold
		}
		if r.CooldownMinutes < MinCooldownMinutes || r.CooldownMinutes > MaxCooldownMinutes {
			return ErrInvalidCooldown
		}
	}

	return nil
}

// TimeWindow returns the sliding window as a duration.
func (r *AnomalyRule) TimeWindow() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

// Cooldown returns the suppression interval as a duration.
func (r *AnomalyRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	Type     RuleType
	IsActive *bool
}

// CreateRuleRequest is the input for creating a rule.
type CreateRuleRequest struct {
	Type              RuleType `json:"rule_type"`
	Level             string   `json:"level"`
	Keyword           string   `json:"keyword"`
	TemplateID        int64    `json:"template_id"`
	TimeWindowMinutes int      `json:"time_window_minutes"`
	ThresholdCount    int      `json:"threshold_count"`
	CooldownMinutes   int      `json:"cooldown_minutes"`
	PerService        bool     `json:"per_service"`
	Severity          Severity `json:"severity"`
	Score             *float64 `json:"score"`
	Description       string   `json:"description"`
}

// ToRule converts the request to an AnomalyRule entity, applying defaults
// for omitted fields (warning/0.8, 5m window, threshold 1, 30m cooldown).
// The result still goes through Validate.
func (r *CreateRuleRequest) ToRule(id string) *AnomalyRule {
	now := time.Now().UTC()

	rule := &AnomalyRule{
		ID:                id,
		Type:              r.Type,
		Keyword:           r.Keyword,
		TemplateID:        r.TemplateID,
		TimeWindowMinutes: r.TimeWindowMinutes,
		ThresholdCount:    r.ThresholdCount,
		CooldownMinutes:   r.CooldownMinutes,
		PerService:        r.PerService,
		Severity:          r.Severity,
		Score:             0.8,
		Description:       r.Description,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if r.Level != "" {
		rule.Level = NormalizeLevel(r.Level)
	}
	if r.Score != nil {
		rule.Score = *r.Score
	}
	if rule.Severity == "" && r.Type != RuleTypeSafeTemplate {
		rule.Severity = SeverityWarning
	}
	if r.Type == RuleTypeFrequency {
		if rule.TimeWindowMinutes == 0 {
			rule.TimeWindowMinutes = 5
		}
		if rule.ThresholdCount == 0 {
			rule.ThresholdCount = 1
		}
		if rule.CooldownMinutes == 0 {
			rule.CooldownMinutes = 30
		}
	}
	if r.Type == RuleTypeSafeTemplate {
		rule.Severity = ""
		rule.Score = 0
	}

	return rule
}

// UpdateRuleRequest is a partial patch; nil fields are left untouched.
type UpdateRuleRequest struct {
	Level             *string   `json:"level"`
	Keyword           *string   `json:"keyword"`
	TemplateID        *int64    `json:"template_id"`
	TimeWindowMinutes *int      `json:"time_window_minutes"`
	ThresholdCount    *int      `json:"threshold_count"`
	CooldownMinutes   *int      `json:"cooldown_minutes"`
	PerService        *bool     `json:"per_service"`
	Severity          *Severity `json:"severity"`
	Score             *float64  `json:"score"`
	Description       *string   `json:"description"`
	IsActive          *bool     `json:"is_active"`
}

// IsEmpty returns true when the patch touches nothing.
func (r *UpdateRuleRequest) IsEmpty() bool {
	return r.Level == nil && r.Keyword == nil && r.TemplateID == nil &&
		r.TimeWindowMinutes == nil && r.ThresholdCount == nil &&
		r.CooldownMinutes == nil && r.PerService == nil && r.Severity == nil &&
		r.Score == nil && r.Description == nil && r.IsActive == nil
}

// ApplyTo patches an existing rule in place. The rule type itself is fixed at
// creation; changing kind means creating a new rule.
func (r *UpdateRuleRequest) ApplyTo(rule *AnomalyRule) {
	if r.Level != nil {
		rule.Level = NormalizeLevel(*r.Level)
	}
	if r.Keyword != nil {
		rule.Keyword = *r.Keyword
	}
	if r.TemplateID != nil {
		rule.TemplateID = *r.TemplateID
	}
	if r.TimeWindowMinutes != nil {
		rule.TimeWindowMinutes = *r.TimeWindowMinutes
	}
	if r.ThresholdCount != nil {
		rule.ThresholdCount = *r.ThresholdCount
	}
	if r.CooldownMinutes != nil {
		rule.CooldownMinutes = *r.CooldownMinutes
	}
	if r.PerService != nil {
		rule.PerService = *r.PerService
	}
	if r.Severity != nil {
		rule.Severity = *r.Severity
	}
	if r.Score != nil {
		rule.Score = *r.Score
	}
	if r.Description != nil {
		rule.Description = *r.Description
	}
	if r.IsActive != nil {
		rule.IsActive = *r.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()
}
