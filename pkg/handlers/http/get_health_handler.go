package http

import (
	"context"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const healthPingTimeout = 2 * time.Second

type getHealthHandler struct {
	logger *logrus.Logger
	store  cache.Store
	now    func() time.Time
}

func NewGetHealthHandler(logger *logrus.Logger, store cache.Store) Handler {
	return &getHealthHandler{
		logger: logger,
		store:  store,
		now:    time.Now,
	}
}

// Handle @Summary Health check
// @Description Reports whether the shared store is reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Failure 503 {object} map[string]interface{} "Store unreachable"
// @Router /health [get]
func (h *getHealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthPingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"store":  "unreachable",
			"time":   h.now().Format(time.RFC3339),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "healthy",
		"store":  "ok",
		"time":   h.now().Format(time.RFC3339),
	})
}
