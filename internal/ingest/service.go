// Package ingest provides the HTTP-side log ingestion service. It validates
// incoming log lines and publishes them to the message queue, where the
// consumer workers pick them up for normalization and rule evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"logwarden/internal/metrics"
	"logwarden/internal/queue"
)

// Errors returned by the ingest service.
var (
	ErrEmptyMessage  = errors.New("message is required")
	ErrPublishFailed = errors.New("failed to publish log to queue")
)

// LogLine is one incoming log line as submitted over HTTP. It mirrors the
// broker envelope so HTTP and direct broker producers feed the same pipeline.
type LogLine struct {
	Message   string `json:"message"`
	Service   string `json:"service"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// Validate rejects lines the pipeline cannot store meaningfully.
func (l *LogLine) Validate() error {
	if l.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Service publishes validated log lines to the message queue.
type Service struct {
	producer queue.Producer
	logger   *slog.Logger
}

// NewService creates a new ingest service.
func NewService(producer queue.Producer, logger *slog.Logger) *Service {
	return &Service{
		producer: producer,
		logger:   logger,
	}
}

// IngestLog validates the line, stamps it if the caller did not, and
// publishes it keyed by service so one service's lines stay ordered within a
// partition.
func (s *Service) IngestLog(ctx context.Context, line *LogLine) error {
	if err := line.Validate(); err != nil {
		return err
	}

	if line.Timestamp == "" {
		line.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	payload, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal log line: %w", err)
	}

	msg := &queue.Message{
		Key:   []byte(line.Service),
		Value: payload,
	}
	if err := s.producer.Publish(ctx, msg); err != nil {
		s.logger.Error("log publish failed",
			slog.String("service", line.Service),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	metrics.IngestRequests.Inc()
	return nil
}
