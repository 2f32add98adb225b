// Package metrics defines Prometheus metrics for the Logwarden pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logwarden"

var (
	// MessagesConsumed counts messages fetched from the broker.
	MessagesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_consumed_total",
		Help:      "Total number of messages fetched from the broker.",
	})

	// EnvelopeParseFailures counts messages whose JSON envelope failed to
	// parse and were stored as UNKNOWN passthrough events.
	EnvelopeParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelope_parse_failures_total",
		Help:      "Total number of messages with unparseable envelopes.",
	})

	// NormalizeFailures counts messages whose template normalization failed
	// after all retries.
	NormalizeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalize_failures_total",
		Help:      "Total number of messages that exhausted normalization retries.",
	})

	// NormalizeRetries counts individual normalization retry attempts.
	NormalizeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalize_retries_total",
		Help:      "Total number of normalization retry attempts.",
	})

	// DeadLetters counts messages published to the dead-letter topic.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Total number of messages routed to the dead-letter topic.",
	})

	// AnomaliesDetected counts anomaly records by rule type and severity.
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomalies_detected_total",
		Help:      "Total number of anomalies detected, by rule type and severity.",
	}, []string{"rule_type", "severity"})

	// CooldownSuppressions counts frequency rule matches suppressed by an
	// active cooldown.
	CooldownSuppressions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cooldown_suppressions_total",
		Help:      "Total number of frequency matches suppressed by cooldown.",
	})

	// FlushSuccess counts successful batch flushes.
	FlushSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_flush_success_total",
		Help:      "Total number of successful batch flushes.",
	})

	// FlushFailure counts batch flushes that exhausted their retries.
	FlushFailure = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_flush_failure_total",
		Help:      "Total number of batch flushes that exhausted retries.",
	})

	// FlushLatency observes end-to-end flush duration in seconds.
	FlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_flush_duration_seconds",
		Help:      "Duration of batch flushes in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// BatchSize observes the number of events per flushed batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size_events",
		Help:      "Number of log events per flushed batch.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// EvaluateLatency observes rule evaluation duration per event in seconds.
	EvaluateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rule_evaluate_duration_seconds",
		Help:      "Duration of rule evaluation per event in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// IngestRequests counts log lines accepted via the HTTP ingest endpoint.
	IngestRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_requests_total",
		Help:      "Total number of log lines accepted via the HTTP ingest endpoint.",
	})

	// NotificationsSent counts webhook notification attempts by outcome.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Total number of webhook notification attempts, by outcome.",
	}, []string{"status"})

	// RuleReloads counts rule snapshot reloads by outcome.
	RuleReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_reloads_total",
		Help:      "Total number of rule snapshot reloads, by outcome.",
	}, []string{"status"})
)
