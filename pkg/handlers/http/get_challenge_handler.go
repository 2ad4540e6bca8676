package http

import (
	"net"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type getChallengeHandler struct {
	logger     *logrus.Logger
	challenges *challenge.System
}

func NewGetChallengeHandler(logger *logrus.Logger, challenges *challenge.System) Handler {
	return &getChallengeHandler{
		logger:     logger,
		challenges: challenges,
	}
}

// Handle @Summary Get a challenge
// @Description Returns one live challenge of an address without its answer digest
// @Tags Challenges
// @Produce json
// @Param ip path string true "IP address"
// @Param id path string true "Challenge ID"
// @Success 200 {object} challenge.Challenge "Challenge"
// @Failure 400 {object} map[string]interface{} "Invalid address"
// @Failure 404 {object} map[string]interface{} "Challenge not found"
// @Router /api/v1/challenges/{ip}/{id} [get]
func (h *getChallengeHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	ch, err := h.challenges.Find(c.Context(), ip, c.Params("id"))
	if err != nil {
		if domain.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.WithError(err).WithField("ip", ip).Error("failed to load challenge")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load challenge"})
	}
	return c.Status(fiber.StatusOK).JSON(ch.Public())
}
