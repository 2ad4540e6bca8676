package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/request"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/channel"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type reloadRulesHandler struct {
	logger    *logrus.Logger
	engine    *ratelimit.RulesEngine
	publisher infraCache.EventPublisher
}

func NewReloadRulesHandler(
	logger *logrus.Logger,
	engine *ratelimit.RulesEngine,
	publisher infraCache.EventPublisher,
) Handler {
	return &reloadRulesHandler{
		logger:    logger,
		engine:    engine,
		publisher: publisher,
	}
}

// Handle @Summary Replace rate limit rules
// @Description Atomically swaps the active rule set. The previous set stays on error.
// @Tags Rate Limiting
// @Accept json
// @Produce json
// @Param rules body request.ReloadRulesRequest true "Rule definitions"
// @Success 200 {object} map[string]interface{} "Rules reloaded"
// @Failure 400 {object} map[string]interface{} "Invalid rules"
// @Router /api/v1/rules/reload [post]
func (h *reloadRulesHandler) Handle(c *fiber.Ctx) error {
	var req request.ReloadRulesRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to parse request body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rules, err := ratelimit.ParseRules(req.Rules)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.engine.Reload(rules); err != nil {
		h.logger.WithError(err).Warn("rejected rate limit rules")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.publisher.Publish(c.Context(), channel.PolicyEventsChannel, event.RulesReloadedEvent{
		Rules: rules,
	}); err != nil {
		h.logger.WithError(err).Error("failed to publish rules reloaded event")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Rules reloaded successfully",
		"rules":   len(h.engine.Rules()),
	})
}
