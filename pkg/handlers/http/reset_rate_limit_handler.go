package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/request"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type resetRateLimitHandler struct {
	logger *logrus.Logger
	engine *ratelimit.RulesEngine
}

func NewResetRateLimitHandler(logger *logrus.Logger, engine *ratelimit.RulesEngine) Handler {
	return &resetRateLimitHandler{
		logger: logger,
		engine: engine,
	}
}

// Handle @Summary Reset rate limit counters
// @Description Clears the counters of one client, or of every client when the body is empty
// @Tags Rate Limiting
// @Accept json
// @Produce json
// @Param client body request.RateLimitRequest false "Client attributes"
// @Success 200 {object} map[string]interface{} "Counters reset"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Router /api/v1/ratelimit [delete]
func (h *resetRateLimitHandler) Handle(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		if err := h.engine.ResetAll(c.Context()); err != nil {
			h.logger.WithError(err).Error("failed to reset rate limits")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to reset rate limits"})
		}
		h.logger.Info("all rate limit counters reset")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "All rate limits reset"})
	}

	var req request.RateLimitRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to parse request body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.engine.Reset(c.Context(), req.ToRequest()); err != nil {
		h.logger.WithError(err).Error("failed to reset rate limit")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to reset rate limit"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Rate limit reset"})
}
