package middleware

import (
	"runtime/debug"

	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type panicRecoverMiddleware struct {
	logger *logrus.Logger
}

func NewPanicRecoverMiddleware(logger *logrus.Logger) Middleware {
	return &panicRecoverMiddleware{logger: logger}
}

func (m *panicRecoverMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				fields := logrus.Fields{
					"error":  r,
					"path":   c.Path(),
					"method": c.Method(),
					"stack":  string(debug.Stack()),
				}
				if sc := security.FromContext(c.UserContext()); sc != nil {
					fields["request_id"] = sc.RequestID
					fields["ip"] = sc.IP
				}
				m.logger.WithFields(fields).Error("HTTP server panic recovered")

				err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Internal server error",
				})
			}
		}()

		return c.Next()
	}
}
