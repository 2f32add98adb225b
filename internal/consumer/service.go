package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"logwarden/internal/batch"
	"logwarden/internal/config"
	"logwarden/internal/metrics"
	"logwarden/internal/normalizer"
	"logwarden/internal/notification"
	"logwarden/internal/queue"
	"logwarden/internal/rules"
)

// shutdownFlushTimeout bounds the final drain flush when the run context is
// already canceled.
const shutdownFlushTimeout = 10 * time.Second

// Deps wires the pipeline stages into the consumer service. Consumers and
// writers are created per worker through factories so each worker owns its
// broker reader and its batch.
type Deps struct {
	NewConsumer func() (queue.Consumer, error)
	NewWriter   func() *batch.Writer
	Normalizer  normalizer.Normalizer
	Rules       *rules.Store
	DeadLetters queue.Producer
	Notifier    notification.Notifier
	Logger      *slog.Logger
}

// Service runs the configured number of ingestion workers.
type Service struct {
	deps Deps
	cfg  config.ConsumerConfig
}

// NewService creates the consumer service.
func NewService(deps Deps, cfg config.ConsumerConfig) *Service {
	return &Service{deps: deps, cfg: cfg}
}

// Run starts the workers and blocks until the context is canceled and every
// worker has drained its batch.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		consumer, err := s.deps.NewConsumer()
		if err != nil {
			return err
		}

		wg.Add(1)
		go func(id int, c queue.Consumer) {
			defer wg.Done()
			defer c.Close()

			w := newWorker(s, id, c)
			w.run(ctx)
		}(i, consumer)
	}

	wg.Wait()
	return nil
}

// worker is one ingestion loop: fetch, process, batch, flush, commit.
type worker struct {
	svc      *Service
	consumer queue.Consumer
	writer   *batch.Writer
	engine   *rules.Engine
	logger   *slog.Logger

	// pending holds fetched messages whose batch has not flushed yet. Their
	// offsets are committed together right after a successful flush.
	pending []*queue.Message
}

func newWorker(s *Service, id int, c queue.Consumer) *worker {
	logger := s.deps.Logger.With(slog.Int("worker", id))
	return &worker{
		svc:      s,
		consumer: c,
		writer:   s.deps.NewWriter(),
		engine:   rules.NewEngine(s.deps.Rules.State(), logger),
		logger:   logger,
	}
}

func (w *worker) run(ctx context.Context) {
	w.logger.Info("ingestion worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		default:
		}

		msg, err := w.fetch(ctx)
		switch {
		case err == nil:
			w.process(ctx, msg)
		case errors.Is(err, context.DeadlineExceeded):
			// Idle poll; fall through to the time-based flush check.
		case errors.Is(err, context.Canceled):
			w.drain()
			return
		default:
			w.logger.Error("fetch failed", slog.String("error", err.Error()))
			continue
		}

		if w.writer.ShouldFlush(time.Now()) {
			w.flushAndCommit(ctx)
		}
	}
}

// fetch polls the broker with a bounded timeout so an idle worker still
// reaches the time-based flush trigger.
func (w *worker) fetch(ctx context.Context) (*queue.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, w.svc.cfg.PollTimeout)
	defer cancel()

	msg, err := w.consumer.Fetch(pollCtx)
	if err != nil {
		// The parent being canceled means shutdown, not an idle poll.
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, err
	}
	return msg, nil
}

// process turns one raw message into a batched event. Every fetched message
// ends up in pending exactly once, whatever its fate, so its offset commits
// with the next flush.
func (w *worker) process(ctx context.Context, msg *queue.Message) {
	metrics.MessagesConsumed.Inc()
	w.pending = append(w.pending, msg)

	now := time.Now().UTC()
	event, ok := parseEnvelope(msg.Value, now)
	if !ok {
		metrics.EnvelopeParseFailures.Inc()
		w.logger.Warn("unparseable envelope stored as passthrough",
			slog.Int("bytes", len(msg.Value)))
		w.writer.AddEvent(passthroughEvent(msg.Value, now))
		return
	}

	templateID, params, err := w.normalize(ctx, event.RawMessage)
	if err != nil {
		metrics.NormalizeFailures.Inc()
		w.deadLetter(ctx, msg, err)
		return
	}
	event.TemplateID = templateID
	event.Parameters = params

	w.writer.AddEvent(event)

	if rec := w.engine.Evaluate(ctx, w.svc.deps.Rules.Snapshot(), event); rec != nil {
		w.writer.AddRecord(rec)
		if w.svc.deps.Notifier != nil {
			w.svc.deps.Notifier.NotifyAnomaly(ctx, rec)
		}
	}
}

// normalize runs template extraction with bounded retries.
func (w *worker) normalize(ctx context.Context, raw string) (int64, []string, error) {
	var lastErr error
	for attempt := 0; attempt <= w.svc.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.NormalizeRetries.Inc()
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(w.svc.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		id, params, err := w.svc.deps.Normalizer.Normalize(ctx, raw)
		if err == nil {
			return id, params, nil
		}
		lastErr = err
	}
	return 0, nil, lastErr
}

// deadLetter routes a message that exhausted normalization retries to the
// dead-letter topic. The message stays in pending: its offset must still
// advance or the partition wedges on one poison message.
func (w *worker) deadLetter(ctx context.Context, msg *queue.Message, cause error) {
	metrics.DeadLetters.Inc()
	w.logger.Error("message dead-lettered",
		slog.Int64("offset", msg.Offset),
		slog.String("error", cause.Error()))

	if w.svc.deps.DeadLetters == nil {
		return
	}

	dlq := &queue.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: map[string]string{
			"x-dead-letter-reason": cause.Error(),
		},
	}
	if err := w.svc.deps.DeadLetters.Publish(ctx, dlq); err != nil {
		w.logger.Error("dead-letter publish failed", slog.String("error", err.Error()))
	}
}

// flushAndCommit flushes the batch and commits the pending offsets. Offsets
// never commit before their batch is durable; a flush failure keeps both the
// batch and the pending offsets for the next attempt.
func (w *worker) flushAndCommit(ctx context.Context) {
	if err := w.writer.Flush(ctx); err != nil {
		return
	}

	if len(w.pending) == 0 {
		return
	}
	if err := w.consumer.Commit(ctx, w.pending...); err != nil {
		// The batch is durable; recommit happens with the next flush. A
		// crash before then redelivers, which at-least-once allows.
		w.logger.Error("offset commit failed", slog.String("error", err.Error()))
		return
	}
	w.pending = w.pending[:0]
}

// drain performs the final flush and commit on shutdown with a fresh bounded
// context, since the run context is already canceled.
func (w *worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	w.flushAndCommit(ctx)
	w.logger.Info("ingestion worker stopped",
		slog.Int("unflushed", w.writer.Size()))
}
