// Package batch accumulates processed events and anomaly records and writes
// them to storage in bulk, on a size or time trigger.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"logwarden/internal/config"
	"logwarden/internal/domain"
	"logwarden/internal/metrics"
	"logwarden/internal/store"
)

// Writer buffers log events and anomaly records until a flush trigger fires.
// It is owned by a single worker goroutine and is not safe for concurrent
// use; each worker carries its own Writer.
type Writer struct {
	logs      store.LogRepository
	anomalies store.AnomalyRepository
	cfg       config.BatchConfig
	logger    *slog.Logger

	events    []*domain.LogEvent
	records   []*domain.AnomalyRecord
	lastFlush time.Time
}

// NewWriter creates a batch writer over the given repositories.
func NewWriter(logs store.LogRepository, anomalies store.AnomalyRepository, cfg config.BatchConfig, logger *slog.Logger) *Writer {
	return &Writer{
		logs:      logs,
		anomalies: anomalies,
		cfg:       cfg,
		logger:    logger,
		events:    make([]*domain.LogEvent, 0, cfg.MaxBatchSize),
		records:   make([]*domain.AnomalyRecord, 0),
		lastFlush: time.Now(),
	}
}

// AddEvent appends a log event to the pending batch.
func (w *Writer) AddEvent(event *domain.LogEvent) {
	w.events = append(w.events, event)
}

// AddRecord appends an anomaly record to the pending batch.
func (w *Writer) AddRecord(record *domain.AnomalyRecord) {
	w.records = append(w.records, record)
}

// Size returns the number of pending log events.
func (w *Writer) Size() int {
	return len(w.events)
}

// ShouldFlush reports whether either flush trigger has fired: the batch
// reached its size cap, or a non-empty batch has waited past the interval.
func (w *Writer) ShouldFlush(now time.Time) bool {
	if len(w.events) == 0 && len(w.records) == 0 {
		return false
	}
	if len(w.events) >= w.cfg.MaxBatchSize {
		return true
	}
	return now.Sub(w.lastFlush) >= w.cfg.MaxBatchInterval
}

// Flush writes the pending batch to storage with bounded retries. On total
// failure the unwritten portion stays buffered for the next attempt, which
// backpressures the consumer since offsets only commit after a flush.
//
// Events and records are written in separate statements; a batch whose
// events landed but whose records did not retains only the records, so a
// retry cannot duplicate events.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.events) == 0 && len(w.records) == 0 {
		w.lastFlush = time.Now()
		return nil
	}

	start := time.Now()
	nEvents, nRecords := len(w.events), len(w.records)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.cfg.FlushRetries)),
		ctx,
	)

	err := backoff.Retry(func() error {
		if len(w.events) > 0 {
			if err := w.logs.InsertBatch(ctx, w.events); err != nil {
				return fmt.Errorf("failed to flush log events: %w", err)
			}
			w.events = w.events[:0]
		}
		if len(w.records) > 0 {
			if err := w.anomalies.InsertBatch(ctx, w.records); err != nil {
				return fmt.Errorf("failed to flush anomaly records: %w", err)
			}
			w.records = w.records[:0]
		}
		return nil
	}, policy)

	if err != nil {
		metrics.FlushFailure.Inc()
		w.logger.Error("batch flush failed",
			slog.Int("events", len(w.events)),
			slog.Int("records", len(w.records)),
			slog.String("error", err.Error()))
		return err
	}

	w.lastFlush = time.Now()
	metrics.FlushSuccess.Inc()
	metrics.FlushLatency.Observe(time.Since(start).Seconds())
	metrics.BatchSize.Observe(float64(nEvents))

	w.logger.Debug("batch flushed",
		slog.Int("events", nEvents),
		slog.Int("records", nRecords),
		slog.Duration("took", time.Since(start)))
	return nil
}
