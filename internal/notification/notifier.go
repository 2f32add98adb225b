// Package notification delivers anomaly alerts to external channels.
package notification

import (
	"context"
	"log/slog"

	"logwarden/internal/domain"
)

// Notifier delivers an anomaly record to an external channel. Delivery is
// best-effort: the pipeline never blocks or fails on notification problems.
type Notifier interface {
	NotifyAnomaly(ctx context.Context, record *domain.AnomalyRecord)
}

// LogNotifier writes anomalies to the application log. Used when no webhook
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyAnomaly logs the anomaly at a level matching its severity.
func (n *LogNotifier) NotifyAnomaly(_ context.Context, record *domain.AnomalyRecord) {
	attrs := []any{
		slog.String("anomaly_id", record.ID),
		slog.String("rule_id", record.RuleID),
		slog.String("rule_type", string(record.RuleType)),
		slog.String("severity", string(record.Severity)),
		slog.String("service", record.Service),
		slog.Float64("score", record.Score),
	}

	if record.Severity == domain.SeverityCritical {
		n.logger.Error("anomaly detected", attrs...)
		return
	}
	n.logger.Warn("anomaly detected", attrs...)
}
