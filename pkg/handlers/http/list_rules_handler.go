package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listRulesHandler struct {
	logger *logrus.Logger
	engine *ratelimit.RulesEngine
}

func NewListRulesHandler(logger *logrus.Logger, engine *ratelimit.RulesEngine) Handler {
	return &listRulesHandler{
		logger: logger,
		engine: engine,
	}
}

// Handle @Summary Retrieve rate limit rules
// @Description Returns the default limit and the enabled rules in evaluation order
// @Tags Rate Limiting
// @Produce json
// @Success 200 {object} response.ListRulesOutput "Active rules"
// @Router /api/v1/rules [get]
func (h *listRulesHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(response.ListRulesOutput{
		Default: h.engine.Default(),
		Rules:   h.engine.Rules(),
	})
}
