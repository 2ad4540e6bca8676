package http

import (
	"errors"

	"github.com/NeuralTrust/TrustShield/pkg/app/geo"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/channel"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type blockCountryHandler struct {
	logger    *logrus.Logger
	geo       *geo.Service
	publisher infraCache.EventPublisher
}

func NewBlockCountryHandler(logger *logrus.Logger, geo *geo.Service, publisher infraCache.EventPublisher) Handler {
	return &blockCountryHandler{
		logger:    logger,
		geo:       geo,
		publisher: publisher,
	}
}

// Handle @Summary Block a country
// @Description Adds a country to the geo block list
// @Tags Geo
// @Produce json
// @Param country path string true "ISO 3166-1 alpha-2 code"
// @Success 200 {object} config.GeoBlockingConfig "Updated policy"
// @Failure 400 {object} map[string]interface{} "Invalid country code"
// @Router /api/v1/geo/blocked/{country} [put]
func (h *blockCountryHandler) Handle(c *fiber.Ctx) error {
	if err := h.geo.BlockCountry(c.Params("country")); err != nil {
		return countryError(c, h.logger, err)
	}
	return policyUpdated(c, h.logger, h.geo, h.publisher)
}

func countryError(c *fiber.Ctx, logger *logrus.Logger, err error) error {
	if errors.Is(err, geo.ErrInvalidCountry) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	logger.WithError(err).Error("failed to update geo policy")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update geo policy"})
}

// policyUpdated shares the new country policy with peer instances and
// returns it.
func policyUpdated(c *fiber.Ctx, logger *logrus.Logger, svc *geo.Service, publisher infraCache.EventPublisher) error {
	policy := svc.Config()
	if err := publisher.Publish(c.Context(), channel.PolicyEventsChannel, event.GeoPolicyUpdatedEvent{
		Policy: policy,
	}); err != nil {
		logger.WithError(err).Error("failed to publish geo policy event")
	}
	return c.Status(fiber.StatusOK).JSON(policy)
}
