package middleware

import (
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type metricsMiddleware struct {
	logger *logrus.Logger
}

func NewMetricsMiddleware(logger *logrus.Logger) Middleware {
	return &metricsMiddleware{logger: logger}
}

func (m *metricsMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()
		c.Locals(common.LatencyContextKey, startTime)

		err := c.Next()

		method := c.Method()
		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		elapsed := time.Since(startTime)

		prometheus.RequestsTotal.WithLabelValues(method, statusClass(status)).Inc()
		prometheus.RequestLatency.WithLabelValues(method).Observe(float64(elapsed.Milliseconds()))

		m.logger.WithFields(logrus.Fields{
			"method":     method,
			"path":       c.Path(),
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
		}).Debug("request served")
		return err
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "5xx"
	}
	return fmt.Sprintf("%dxx", status/100)
}
