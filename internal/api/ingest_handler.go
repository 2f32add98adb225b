package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"logwarden/internal/ingest"
)

// IngestHandler handles HTTP requests for log ingestion.
type IngestHandler struct {
	service *ingest.Service
	logger  *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *ingest.Service, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// IngestLog handles POST /v1/logs
// Receives a log line and publishes it to the message queue. Returns 202
// Accepted immediately; normalization and rule evaluation happen in the
// consumer workers.
func (h *IngestHandler) IngestLog(c *fiber.Ctx) error {
	var line ingest.LogLine
	if err := c.BodyParser(&line); err != nil {
		h.logger.Debug("failed to parse log body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := h.service.IngestLog(c.Context(), &line); err != nil {
		if errors.Is(err, ingest.ErrEmptyMessage) {
			return ValidationError(c, err.Error())
		}
		h.logger.Error("failed to ingest log", "error", err, "service", line.Service)
		return InternalError(c, "failed to ingest log")
	}

	return Accepted(c, map[string]string{
		"status": "accepted",
	})
}
