package http

import (
	"github.com/NeuralTrust/TrustShield/pkg/app/geo"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type unblockCountryHandler struct {
	logger    *logrus.Logger
	geo       *geo.Service
	publisher infraCache.EventPublisher
}

func NewUnblockCountryHandler(logger *logrus.Logger, geo *geo.Service, publisher infraCache.EventPublisher) Handler {
	return &unblockCountryHandler{
		logger:    logger,
		geo:       geo,
		publisher: publisher,
	}
}

// Handle @Summary Unblock a country
// @Description Removes a country from the geo block list
// @Tags Geo
// @Produce json
// @Param country path string true "ISO 3166-1 alpha-2 code"
// @Success 200 {object} config.GeoBlockingConfig "Updated policy"
// @Failure 400 {object} map[string]interface{} "Invalid country code"
// @Router /api/v1/geo/blocked/{country} [delete]
func (h *unblockCountryHandler) Handle(c *fiber.Ctx) error {
	if err := h.geo.UnblockCountry(c.Params("country")); err != nil {
		return countryError(c, h.logger, err)
	}
	return policyUpdated(c, h.logger, h.geo, h.publisher)
}
