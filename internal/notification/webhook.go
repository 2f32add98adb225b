package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"logwarden/internal/config"
	"logwarden/internal/domain"
	"logwarden/internal/metrics"
)

// WebhookNotifier posts anomalies to a configured webhook URL in a
// Slack-compatible attachment format. Delivery runs in a goroutine with its
// own timeout; failures are logged and counted, never propagated.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier from config.
func NewWebhookNotifier(cfg *config.NotifierConfig, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.WebhookURL,
		timeout: cfg.Timeout,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type webhookPayload struct {
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments"`
}

type webhookAttachment struct {
	Color  string         `json:"color"`
	Fields []webhookField `json:"fields"`
	Ts     int64          `json:"ts"`
}

type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func severityColor(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "#d00000"
	case domain.SeverityWarning:
		return "#f2a900"
	default:
		return "#2eb886"
	}
}

// NotifyAnomaly posts the anomaly asynchronously and returns immediately.
func (n *WebhookNotifier) NotifyAnomaly(_ context.Context, record *domain.AnomalyRecord) {
	go n.deliver(record)
}

func (n *WebhookNotifier) deliver(record *domain.AnomalyRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	payload := webhookPayload{
		Text: fmt.Sprintf("Anomaly detected: %s rule fired for service %q", record.RuleType, record.Service),
		Attachments: []webhookAttachment{{
			Color: severityColor(record.Severity),
			Ts:    record.Timestamp.Unix(),
			Fields: []webhookField{
				{Title: "Severity", Value: string(record.Severity), Short: true},
				{Title: "Score", Value: fmt.Sprintf("%.2f", record.Score), Short: true},
				{Title: "Rule", Value: record.RuleID, Short: true},
				{Title: "Level", Value: string(record.Level), Short: true},
				{Title: "Message", Value: record.RawMessage, Short: false},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.fail(record, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.fail(record, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail(record, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.fail(record, fmt.Errorf("webhook returned status %d", resp.StatusCode))
		return
	}

	metrics.NotificationsSent.WithLabelValues("success").Inc()
}

func (n *WebhookNotifier) fail(record *domain.AnomalyRecord, err error) {
	metrics.NotificationsSent.WithLabelValues("failure").Inc()
	n.logger.Error("webhook notification failed",
		slog.String("anomaly_id", record.ID),
		slog.String("error", err.Error()))
}
