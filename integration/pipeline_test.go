package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"logwarden/internal/api"
	"logwarden/internal/batch"
	"logwarden/internal/config"
	"logwarden/internal/consumer"
	"logwarden/internal/domain"
	"logwarden/internal/ingest"
	"logwarden/internal/normalizer"
	"logwarden/internal/queue"
	queuemem "logwarden/internal/queue/memory"
	"logwarden/internal/rules"
	storemem "logwarden/internal/store/memory"
)

// stack is the whole pipeline wired on in-memory backends.
type stack struct {
	server    *api.Server
	queue     *queuemem.Queue
	logs      *storemem.LogRepository
	anomalies *storemem.AnomalyRepository
	rules     *rules.Store
	cancel    context.CancelFunc
	done      chan error
}

func newStack() *stack {
	logger := slog.Default()

	s := &stack{
		queue:     queuemem.NewQueue(10000),
		logs:      storemem.NewLogRepository(),
		anomalies: storemem.NewAnomalyRepository(),
		rules:     rules.NewStore(storemem.NewRuleRepository(), rules.NewMemoryState(), logger),
		done:      make(chan error, 1),
	}

	consumers := consumer.NewService(consumer.Deps{
		NewConsumer: func() (queue.Consumer, error) { return s.queue, nil },
		NewWriter: func() *batch.Writer {
			return batch.NewWriter(s.logs, s.anomalies, config.BatchConfig{
				MaxBatchSize:     25,
				MaxBatchInterval: 50 * time.Millisecond,
				FlushRetries:     1,
			}, logger)
		},
		Normalizer: normalizer.NewFingerprinter(),
		Rules:      s.rules,
		Logger:     logger,
	}, config.ConsumerConfig{
		Workers:      1,
		PollTimeout:  20 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	})

	serverCfg := config.Default().Server
	s.server = api.NewServer(api.ServerDeps{
		Config:        &serverCfg,
		Logger:        logger,
		RuleHandler:   api.NewRuleHandler(s.rules, logger),
		IngestHandler: api.NewIngestHandler(ingest.NewService(s.queue, logger), logger),
		QueryHandler:  api.NewQueryHandler(s.logs, s.anomalies, logger),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		s.done <- consumers.Run(ctx)
	}()

	return s
}

func (s *stack) stop() {
	s.cancel()
	Eventually(s.done, "5s").Should(Receive(BeNil()))
}

// request performs an in-process HTTP request against the Fiber app.
func (s *stack) request(method, path string, body interface{}) (*http.Response, api.APIResponse) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.App().Test(req, 5000)
	Expect(err).NotTo(HaveOccurred())

	var envelope api.APIResponse
	if resp.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(resp.Body).Decode(&envelope)).To(Succeed())
	}
	resp.Body.Close()
	return resp, envelope
}

func (s *stack) postLog(service, level, message string) {
	resp, _ := s.request(http.MethodPost, "/v1/logs", map[string]string{
		"message": message,
		"service": service,
		"level":   level,
	})
	Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
}

var _ = Describe("Log Pipeline", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack()
	})

	AfterEach(func() {
		s.stop()
	})

	Describe("health and metrics endpoints", func() {
		It("serves them", func() {
			resp, envelope := s.request(http.MethodGet, "/healthz", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(envelope.Success).To(BeTrue())

			resp, err := s.server.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), 5000)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("ingestion to storage", func() {
		It("stores every ingested line with a template id", func() {
			for i := 0; i < 10; i++ {
				s.postLog("api", "info", fmt.Sprintf("request %d handled in %dms", i, 10+i))
			}

			Eventually(s.logs.Count, "5s", "20ms").Should(Equal(10))

			_, envelope := s.request(http.MethodGet, "/v1/events?service=api", nil)
			Expect(envelope.Success).To(BeTrue())

			events := envelope.Data.([]interface{})
			Expect(events).To(HaveLen(10))
			for _, e := range events {
				event := e.(map[string]interface{})
				Expect(event["template_id"].(float64)).To(BeNumerically(">", 0))
			}
		})
	})

	Describe("frequency rule detection", func() {
		It("reports exactly one anomaly for a burst of errors", func() {
			// 3 errors within 5 minutes for one service, 30 minute cooldown.
			resp, _ := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type":           "frequency",
				"level":               "error",
				"time_window_minutes": 5,
				"threshold_count":     3,
				"cooldown_minutes":    30,
				"per_service":         true,
				"severity":            "critical",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			// Background noise from a healthy service.
			for i := 0; i < 100; i++ {
				s.postLog("api", "info", fmt.Sprintf("request %d handled", i))
			}
			// The burst that crosses the threshold.
			for i := 0; i < 3; i++ {
				s.postLog("mounter-1", "error", "mount failed for volume vol-7")
			}

			Eventually(s.logs.Count, "10s", "20ms").Should(Equal(103))
			Eventually(s.anomalies.Count, "5s", "20ms").Should(Equal(1))

			// The fourth error within the cooldown stays silent.
			s.postLog("mounter-1", "error", "mount failed for volume vol-7")
			Eventually(s.logs.Count, "5s", "20ms").Should(Equal(104))
			Consistently(s.anomalies.Count, "300ms", "50ms").Should(Equal(1))

			records, err := s.anomalies.List(context.Background(), domain.AnomalyFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].Service).To(Equal("mounter-1"))
			Expect(records[0].Severity).To(Equal(domain.SeverityCritical))
			Expect(records[0].RuleType).To(Equal(domain.RuleTypeFrequency))

			// The listing endpoint filters by rule type.
			_, envelope := s.request(http.MethodGet, "/v1/anomalies?rule_type=frequency", nil)
			Expect(envelope.Success).To(BeTrue())
			Expect(envelope.Data.([]interface{})).To(HaveLen(1))

			_, envelope = s.request(http.MethodGet, "/v1/anomalies?rule_type=keyword", nil)
			Expect(envelope.Success).To(BeTrue())
			Expect(envelope.Data).To(BeEmpty())
		})
	})

	Describe("safe template whitelisting", func() {
		It("suppresses anomalies for whitelisted templates", func() {
			// First let the normalizer see the message so its template exists.
			s.postLog("api", "error", "expected failure during warmup 1")
			Eventually(s.logs.Count, "5s", "20ms").Should(Equal(1))

			events, err := s.logs.List(context.Background(), domain.LogFilter{})
			Expect(err).NotTo(HaveOccurred())
			templateID := events[0].TemplateID
			Expect(templateID).To(BeNumerically(">", 0))

			resp, _ := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type": "level",
				"level":     "error",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp, _ = s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type":   "safe_template",
				"template_id": templateID,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			// Same shape: whitelisted. Different shape: fires the level rule.
			s.postLog("api", "error", "expected failure during warmup 2")
			s.postLog("api", "error", "disk corruption detected on sda")

			Eventually(s.logs.Count, "5s", "20ms").Should(Equal(3))
			Eventually(s.anomalies.Count, "5s", "20ms").Should(Equal(1))

			records, err := s.anomalies.List(context.Background(), domain.AnomalyFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].RawMessage).To(Equal("disk corruption detected on sda"))
		})
	})

	Describe("rules API lifecycle", func() {
		It("creates, reads, patches, and deletes a rule", func() {
			resp, envelope := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type": "keyword",
				"keyword":   "panic",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			rule := envelope.Data.(map[string]interface{})
			id := rule["id"].(string)
			Expect(id).NotTo(BeEmpty())
			Expect(rule["severity"]).To(Equal("warning"))

			resp, envelope = s.request(http.MethodGet, "/v1/rules/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, envelope = s.request(http.MethodPatch, "/v1/rules/"+id, map[string]interface{}{
				"severity": "critical",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(envelope.Data.(map[string]interface{})["severity"]).To(Equal("critical"))

			resp, envelope = s.request(http.MethodGet, "/v1/rules/summary", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			summary := envelope.Data.(map[string]interface{})
			Expect(summary["total"]).To(Equal(float64(1)))

			resp, _ = s.request(http.MethodDelete, "/v1/rules/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = s.request(http.MethodGet, "/v1/rules/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects invalid rules", func() {
			resp, envelope := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type": "regex",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(envelope.Error.Code).To(Equal(api.ErrCodeValidationFailed))

			resp, envelope = s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type":           "frequency",
				"level":               "error",
				"time_window_minutes": 600,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects duplicate safe template rules with a conflict", func() {
			resp, _ := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type":   "safe_template",
				"template_id": 42,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp, envelope := s.request(http.MethodPost, "/v1/rules", map[string]interface{}{
				"rule_type":   "safe_template",
				"template_id": 42,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(envelope.Error.Code).To(Equal(api.ErrCodeConflict))
		})
	})

	Describe("rule dry run", func() {
		It("evaluates a candidate rule without persisting it", func() {
			now := time.Now().UTC()
			events := make([]map[string]interface{}, 0, 3)
			for i := 0; i < 3; i++ {
				events = append(events, map[string]interface{}{
					"timestamp":   now.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
					"service":     "api",
					"level":       "ERROR",
					"raw_message": "boom",
					"template_id": 5,
				})
			}

			resp, envelope := s.request(http.MethodPost, "/v1/rules/test", map[string]interface{}{
				"rule": map[string]interface{}{
					"rule_type":           "frequency",
					"level":               "error",
					"time_window_minutes": 5,
					"threshold_count":     3,
					"cooldown_minutes":    30,
				},
				"events": events,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			result := envelope.Data.(map[string]interface{})
			Expect(result["matched"]).To(Equal(float64(1)))

			_, envelope = s.request(http.MethodGet, "/v1/rules", nil)
			Expect(envelope.Data.([]interface{})).To(BeEmpty())
		})
	})

	Describe("malformed input", func() {
		It("stores unparseable payloads as UNKNOWN passthrough events", func() {
			Expect(s.queue.Publish(context.Background(), &queue.Message{
				Value: []byte("not a json envelope"),
			})).To(Succeed())

			Eventually(s.logs.Count, "5s", "20ms").Should(Equal(1))

			events, err := s.logs.List(context.Background(), domain.LogFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(events[0].Level).To(Equal(domain.LevelUnknown))
			Expect(events[0].TemplateID).To(Equal(domain.TemplateIDUnparsed))
		})
	})
})
