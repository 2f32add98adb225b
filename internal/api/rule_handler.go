package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"logwarden/internal/domain"
	"logwarden/internal/rules"
)

// RuleHandler handles HTTP requests for anomaly rule operations.
type RuleHandler struct {
	store  *rules.Store
	logger *slog.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(store *rules.Store, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{
		store:  store,
		logger: logger,
	}
}

// isValidationErr maps domain validation sentinels to 400 responses.
func isValidationErr(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidRuleType),
		errors.Is(err, domain.ErrInvalidSeverity),
		errors.Is(err, domain.ErrInvalidScore),
		errors.Is(err, domain.ErrEmptyLevel),
		errors.Is(err, domain.ErrEmptyKeyword),
		errors.Is(err, domain.ErrInvalidTemplateID),
		errors.Is(err, domain.ErrInvalidTimeWindow),
		errors.Is(err, domain.ErrInvalidThreshold),
		errors.Is(err, domain.ErrInvalidCooldown),
		errors.Is(err, domain.ErrNoFieldsToUpdate):
		return true
	default:
		return false
	}
}

// Create handles POST /v1/rules
// Creates a new anomaly rule; the engine picks it up immediately.
func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var req domain.CreateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	rule, err := h.store.Create(c.Context(), &req)
	if err != nil {
		if isValidationErr(err) {
			return ValidationError(c, err.Error())
		}
		if errors.Is(err, domain.ErrDuplicateSafeTemplate) {
			return Conflict(c, err.Error())
		}
		h.logger.Error("failed to create rule", "error", err)
		return InternalError(c, "failed to create rule")
	}

	h.logger.Info("created rule", "id", rule.ID, "type", rule.Type)
	return Created(c, rule)
}

// List handles GET /v1/rules
// Optional filters: ?rule_type=frequency and ?is_active=true.
func (h *RuleHandler) List(c *fiber.Ctx) error {
	filter := domain.RuleFilter{
		Type: domain.RuleType(c.Query("rule_type")),
	}
	if c.Query("is_active") != "" {
		active := c.QueryBool("is_active")
		filter.IsActive = &active
	}

	all, err := h.store.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list rules", "error", err)
		return InternalError(c, "failed to list rules")
	}

	return Success(c, all)
}

// GetByID handles GET /v1/rules/:id
func (h *RuleHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	rule, err := h.store.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return NotFound(c, "rule not found")
		}
		h.logger.Error("failed to get rule", "error", err, "id", id)
		return InternalError(c, "failed to get rule")
	}

	return Success(c, rule)
}

// Update handles PUT and PATCH /v1/rules/:id
// Applies a partial patch; omitted fields are left untouched.
func (h *RuleHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	var req domain.UpdateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	rule, err := h.store.Update(c.Context(), id, &req)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return NotFound(c, "rule not found")
		}
		if isValidationErr(err) {
			return ValidationError(c, err.Error())
		}
		if errors.Is(err, domain.ErrDuplicateSafeTemplate) {
			return Conflict(c, err.Error())
		}
		h.logger.Error("failed to update rule", "error", err, "id", id)
		return InternalError(c, "failed to update rule")
	}

	h.logger.Info("updated rule", "id", rule.ID)
	return Success(c, rule)
}

// Delete handles DELETE /v1/rules/:id
func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	if err := h.store.Delete(c.Context(), id); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return NotFound(c, "rule not found")
		}
		h.logger.Error("failed to delete rule", "error", err, "id", id)
		return InternalError(c, "failed to delete rule")
	}

	h.logger.Info("deleted rule", "id", id)
	return NoContent(c)
}

// Summary handles GET /v1/rules/summary
// Reports loaded rule counts and live cooldown state.
func (h *RuleHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.store.Summarize(c.Context())
	if err != nil {
		h.logger.Error("failed to summarize rules", "error", err)
		return InternalError(c, "failed to summarize rules")
	}

	return Success(c, summary)
}

// Reload handles POST /v1/rules/reload
// Forces a snapshot rebuild, for operators who changed rules out of band.
func (h *RuleHandler) Reload(c *fiber.Ctx) error {
	if err := h.store.Reload(c.Context()); err != nil {
		h.logger.Error("failed to reload rules", "error", err)
		return InternalError(c, "failed to reload rules")
	}

	return Success(c, map[string]string{"status": "reloaded"})
}

// testRuleRequest is the body for a rule dry run.
type testRuleRequest struct {
	Rule   domain.CreateRuleRequest `json:"rule"`
	Events []*domain.LogEvent       `json:"events"`
}

// Test handles POST /v1/rules/test
// Dry-runs a candidate rule against caller-supplied events without persisting
// the rule or touching live engine state.
func (h *RuleHandler) Test(c *fiber.Ctx) error {
	var req testRuleRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if len(req.Events) == 0 {
		return BadRequest(c, "at least one event is required")
	}

	records, err := h.store.Test(c.Context(), &req.Rule, req.Events)
	if err != nil {
		if isValidationErr(err) {
			return ValidationError(c, err.Error())
		}
		h.logger.Error("failed to test rule", "error", err)
		return InternalError(c, "failed to test rule")
	}

	return Success(c, map[string]interface{}{
		"matched": len(records),
		"records": records,
	})
}
