package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/monitoring"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type getEventStatsHandler struct {
	logger     *logrus.Logger
	monitoring *monitoring.Service
}

func NewGetEventStatsHandler(logger *logrus.Logger, monitoring *monitoring.Service) Handler {
	return &getEventStatsHandler{
		logger:     logger,
		monitoring: monitoring,
	}
}

// Handle @Summary Security event statistics
// @Description Counts the recent events by type and severity
// @Tags Events
// @Produce json
// @Success 200 {object} monitoring.Stats "Event statistics"
// @Router /api/v1/events/stats [get]
func (h *getEventStatsHandler) Handle(c *fiber.Ctx) error {
	stats, err := h.monitoring.Stats(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to compute event stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute stats"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}
