package http

import (
	"strconv"

	"github.com/NeuralTrust/TrustShield/pkg/app/monitoring"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const defaultEventsLimit = 100

type listEventsHandler struct {
	logger     *logrus.Logger
	monitoring *monitoring.Service
}

func NewListEventsHandler(logger *logrus.Logger, monitoring *monitoring.Service) Handler {
	return &listEventsHandler{
		logger:     logger,
		monitoring: monitoring,
	}
}

// Handle @Summary List security events
// @Description Returns the most recent security events, newest first
// @Tags Events
// @Produce json
// @Param limit query int false "Maximum number of events (1-1000, default 100)"
// @Success 200 {object} response.ListEventsOutput "Recent events"
// @Failure 400 {object} map[string]interface{} "Invalid limit"
// @Router /api/v1/events [get]
func (h *listEventsHandler) Handle(c *fiber.Ctx) error {
	limit := defaultEventsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > monitoring.MaxRecentEvents {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be an integer between 1 and " + strconv.Itoa(monitoring.MaxRecentEvents),
			})
		}
		limit = n
	}

	events, err := h.monitoring.Recent(c.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list security events")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list events"})
	}
	return c.Status(fiber.StatusOK).JSON(response.ListEventsOutput{
		Events: events,
		Count:  len(events),
	})
}
