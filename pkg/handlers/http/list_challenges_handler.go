package http

import (
	"net"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type listChallengesHandler struct {
	logger     *logrus.Logger
	challenges *challenge.System
}

func NewListChallengesHandler(logger *logrus.Logger, challenges *challenge.System) Handler {
	return &listChallengesHandler{
		logger:     logger,
		challenges: challenges,
	}
}

// Handle @Summary List live challenges
// @Description Returns the live challenges of an address, newest first, without answer digests
// @Tags Challenges
// @Produce json
// @Param ip path string true "IP address"
// @Success 200 {array} challenge.Challenge "Live challenges"
// @Failure 400 {object} map[string]interface{} "Invalid address"
// @Router /api/v1/challenges/{ip} [get]
func (h *listChallengesHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	live, err := h.challenges.List(c.Context(), ip)
	if err != nil {
		h.logger.WithError(err).WithField("ip", ip).Error("failed to list challenges")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list challenges"})
	}

	out := make([]*challenge.Challenge, 0, len(live))
	for _, ch := range live {
		out = append(out, ch.Public())
	}
	return c.Status(fiber.StatusOK).JSON(out)
}
