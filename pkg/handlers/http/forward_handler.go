package http

import (
	"strings"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const defaultUpstreamTimeout = 30 * time.Second

type forwardHandler struct {
	logger   *logrus.Logger
	upstream string
	client   *fasthttp.Client
}

// NewForwardHandler relays requests that cleared the security chain to the
// configured upstream. Without an upstream it answers 200 so the service can
// run as a standalone gate.
func NewForwardHandler(logger *logrus.Logger, cfg config.UpstreamConfig) Handler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &forwardHandler{
		logger:   logger,
		upstream: strings.TrimRight(cfg.URL, "/"),
		client: &fasthttp.Client{
			ReadTimeout:                   timeout,
			WriteTimeout:                  timeout,
			MaxConnsPerHost:               16384,
			MaxIdleConnDuration:           120 * time.Second,
			ReadBufferSize:                32768,
			WriteBufferSize:               32768,
			NoDefaultUserAgentHeader:      true,
			DisableHeaderNamesNormalizing: true,
			DisablePathNormalizing:        true,
		},
	}
}

func (h *forwardHandler) Handle(c *fiber.Ctx) error {
	if h.upstream == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "allowed"})
	}

	sc := security.FromContext(c.UserContext())
	if sc != nil {
		c.Request().Header.Set(common.RequestIDHeader, sc.RequestID)
		c.Request().Header.Set(fiber.HeaderXForwardedFor, sc.IP)
	}

	target := h.upstream + c.OriginalURL()
	if err := proxy.Do(c, target, h.client); err != nil {
		fields := logrus.Fields{"target": target}
		if sc != nil {
			fields["request_id"] = sc.RequestID
		}
		h.logger.WithError(err).WithFields(fields).Error("failed to forward request")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream unavailable"})
	}
	c.Response().Header.Del(fiber.HeaderServer)
	return nil
}
