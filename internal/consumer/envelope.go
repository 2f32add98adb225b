// Package consumer runs the ingestion workers: it fetches raw messages from
// the broker, parses and normalizes them, evaluates anomaly rules, and hands
// the results to the batch writer. Offsets are committed only after the
// batch holding a message has been durably flushed.
package consumer

import (
	"bytes"
	"encoding/json"
	"time"

	"logwarden/internal/domain"
)

// envelope is the JSON transport shape of one raw log line.
type envelope struct {
	Message   string `json:"message"`
	Service   string `json:"service"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseEnvelope decodes a raw broker payload into a log event. Missing
// optional fields get defaults: service "unknown", level INFO, timestamp now.
// Returns false if the payload is not a valid envelope; such messages are
// stored as UNKNOWN passthrough events rather than dropped.
func parseEnvelope(raw []byte, now time.Time) (*domain.LogEvent, bool) {
	raw = bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Message == "" {
		return nil, false
	}

	service := env.Service
	if service == "" {
		service = "unknown"
	}

	ts := now
	if env.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	return &domain.LogEvent{
		Timestamp:  ts,
		Service:    service,
		Level:      domain.NormalizeLevel(env.Level),
		RawMessage: env.Message,
		Parameters: []string{},
	}, true
}

// passthroughEvent wraps an unparseable payload so it still reaches storage.
// The raw bytes become the message, the level is UNKNOWN, and the sentinel
// template id keeps it out of template-based rules.
func passthroughEvent(raw []byte, now time.Time) *domain.LogEvent {
	return &domain.LogEvent{
		Timestamp:  now,
		Service:    "unknown",
		Level:      domain.LevelUnknown,
		RawMessage: string(raw),
		TemplateID: domain.TemplateIDUnparsed,
		Parameters: []string{},
	}
}
