// Package domain contains the core business entities and value objects for
// Logwarden. These models represent the ubiquitous language of the log
// anomaly detection domain.
package domain

import (
	"strings"
	"time"
)

// Level represents the severity level of a log line.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	// LevelUnknown marks events whose transport envelope could not be parsed.
	LevelUnknown Level = "UNKNOWN"
)

// NormalizeLevel uppercases a transport-supplied level string. Unrecognized
// values pass through as-is so that nonstandard levels remain visible in
// storage instead of being coerced.
func NormalizeLevel(s string) Level {
	if s == "" {
		return LevelInfo
	}
	return Level(strings.ToUpper(strings.TrimSpace(s)))
}

// IsKnown returns true if the level is one of the standard values.
func (l Level) IsKnown() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical:
		return true
	default:
		return false
	}
}

// TemplateIDUnparsed is the sentinel template id assigned to events whose
// transport envelope failed to parse. The normalizer assigns ids starting
// at 1, so the sentinel can never collide with a real template.
const TemplateIDUnparsed int64 = -1

// GlobalService is the fixed partition key used for frequency rules that are
// not scoped per service.
const GlobalService = "_global"

// LogEvent is one ingested log line after envelope parsing and template
// normalization. Immutable after creation; handed to the batch writer for
// storage and then discarded.
type LogEvent struct {
	// Timestamp is the event time, falling back to ingestion time when the
	// envelope carries none.
	Timestamp time.Time `json:"timestamp"`

	// Service identifies the emitting service. May be empty.
	Service string `json:"service"`

	// Level is the normalized log level.
	Level Level `json:"level"`

	// RawMessage is the original message text.
	RawMessage string `json:"raw_message"`

	// TemplateID is the structural template id assigned by the normalizer,
	// stable across repeated occurrences of the same message shape.
	TemplateID int64 `json:"template_id"`

	// Parameters are the variable tokens extracted by the normalizer, in
	// order of appearance.
	Parameters []string `json:"parameters"`
}

// PartitionKey returns the key used to scope frequency-rule state for this
// event: the service name, or the fixed global key when the event carries
// none or the rule is not service-scoped.
func (e *LogEvent) PartitionKey(perService bool) string {
	if perService && e.Service != "" {
		return e.Service
	}
	return GlobalService
}

// LogFilter narrows log event listings.
type LogFilter struct {
	Service string
	Level   Level
	Limit   int
}

// AnomalyRecord is the rule engine's verdict for a single event. Created when
// a rule fires outside its cooldown; never mutated after creation.
type AnomalyRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	TemplateID int64     `json:"template_id"`
	RuleID     string    `json:"rule_id"`
	RuleType   RuleType  `json:"rule_type"`
	Severity   Severity  `json:"severity"`
	Score      float64   `json:"score"`
	RawMessage string    `json:"raw_message"`
	Service    string    `json:"service"`
	Level      Level     `json:"level"`
}

// AnomalyFilter narrows anomaly record listings.
type AnomalyFilter struct {
	Severity Severity
	RuleType RuleType
	Limit    int
}
