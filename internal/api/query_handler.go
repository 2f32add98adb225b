package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"logwarden/internal/domain"
	"logwarden/internal/store"
)

// QueryHandler handles read-only queries over stored events and anomalies.
type QueryHandler struct {
	logs      store.LogRepository
	anomalies store.AnomalyRepository
	logger    *slog.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(logs store.LogRepository, anomalies store.AnomalyRepository, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		logs:      logs,
		anomalies: anomalies,
		logger:    logger,
	}
}

// ListEvents handles GET /v1/events
// Optional filters: ?service=api, ?level=ERROR, ?limit=50.
func (h *QueryHandler) ListEvents(c *fiber.Ctx) error {
	filter := domain.LogFilter{
		Service: c.Query("service"),
		Level:   domain.Level(c.Query("level")),
		Limit:   c.QueryInt("limit", 100),
	}

	events, err := h.logs.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		return InternalError(c, "failed to list events")
	}

	return Success(c, events)
}

// ListAnomalies handles GET /v1/anomalies
// Optional filters: ?severity=critical, ?rule_type=frequency, ?limit=50.
// "type" is accepted as an alias for "rule_type".
func (h *QueryHandler) ListAnomalies(c *fiber.Ctx) error {
	ruleType := c.Query("rule_type")
	if ruleType == "" {
		ruleType = c.Query("type")
	}

	filter := domain.AnomalyFilter{
		Severity: domain.Severity(c.Query("severity")),
		RuleType: domain.RuleType(ruleType),
		Limit:    c.QueryInt("limit", 100),
	}

	records, err := h.anomalies.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list anomalies", "error", err)
		return InternalError(c, "failed to list anomalies")
	}

	return Success(c, records)
}
