package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/request"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type rateLimitUsageHandler struct {
	logger *logrus.Logger
	engine *ratelimit.RulesEngine
}

func NewRateLimitUsageHandler(logger *logrus.Logger, engine *ratelimit.RulesEngine) Handler {
	return &rateLimitUsageHandler{
		logger: logger,
		engine: engine,
	}
}

// Handle @Summary Read rate limit usage
// @Description Reports the client's standing under the rule that would apply, without consuming quota
// @Tags Rate Limiting
// @Accept json
// @Produce json
// @Param client body request.RateLimitRequest true "Client attributes"
// @Success 200 {object} ratelimit.Usage "Current usage"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Router /api/v1/ratelimit/usage [post]
func (h *rateLimitUsageHandler) Handle(c *fiber.Ctx) error {
	var req request.RateLimitRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WithError(err).Error("failed to parse request body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(h.engine.Usage(c.Context(), req.ToRequest()))
}
