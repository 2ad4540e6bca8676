package http

import (
	"net"

	"github.com/NeuralTrust/TrustShield/pkg/app/geo"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/response"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type getGeoHandler struct {
	logger *logrus.Logger
	geo    *geo.Service
}

func NewGetGeoHandler(logger *logrus.Logger, geo *geo.Service) Handler {
	return &getGeoHandler{
		logger: logger,
		geo:    geo,
	}
}

// Handle @Summary Locate an IP address
// @Description Resolves the location of an address and reports whether the geo policy blocks it
// @Tags Geo
// @Produce json
// @Param ip path string true "IP address"
// @Success 200 {object} response.GeoOutput "Location"
// @Failure 400 {object} map[string]interface{} "Invalid address"
// @Failure 404 {object} map[string]interface{} "Location unknown"
// @Router /api/v1/geo/{ip} [get]
func (h *getGeoHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	location := h.geo.Resolve(c.Context(), ip, nil)
	if location == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "location not found"})
	}
	return c.Status(fiber.StatusOK).JSON(response.GeoOutput{
		IP:       ip,
		Location: location,
		Blocked:  h.geo.ShouldBlock(ip, location),
	})
}
