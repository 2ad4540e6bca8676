package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	"github.com/NeuralTrust/TrustShield/pkg/app/ddos"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type Protector interface {
	Protect(ctx context.Context, req ddos.Request) (*ddos.Verdict, error)
	Release(ctx context.Context, ip string)
}

type ddosMiddleware struct {
	logger     *logrus.Logger
	protection Protector
}

func NewDDoSMiddleware(logger *logrus.Logger, protection Protector) Middleware {
	return &ddosMiddleware{
		logger:     logger,
		protection: protection,
	}
}

func (m *ddosMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sc := SecurityContext(c)
		if sc == nil {
			m.logger.WithField("path", c.Path()).Error("security context not found (ddos middleware)")
			return c.Next()
		}

		verdict, err := m.protection.Protect(c.UserContext(), buildRequest(c))
		if err != nil {
			var denied *domain.SecurityDenied
			if errors.As(err, &denied) {
				c.Set(common.BlockReasonHeader, string(denied.Reason))
				return c.Status(denied.StatusCode()).JSON(fiber.Map{
					"error":  denied.Message,
					"reason": denied.Reason,
				})
			}
			m.logger.WithError(err).WithField("ip", sc.IP).Error("ddos protection failed, allowing request")
			return c.Next()
		}

		switch verdict.Action {
		case ddos.ActionVerification:
			body := fiber.Map{"success": verdict.Result.Success}
			if verdict.Result.Error != "" {
				body["error"] = verdict.Result.Error
			}
			return c.Status(fiber.StatusOK).JSON(body)
		case ddos.ActionChallenge:
			return m.challengeResponse(c, verdict)
		}

		if !verdict.Tracked {
			return c.Next()
		}
		c.Locals(common.ConnectionTrackedKey, true)
		defer m.protection.Release(context.Background(), sc.IP)
		return c.Next()
	}
}

func (m *ddosMiddleware) challengeResponse(c *fiber.Ctx, verdict *ddos.Verdict) error {
	ch := verdict.Challenge
	c.Set(common.ChallengeIDHeader, ch.ID)
	c.Set(common.BlockReasonHeader, string(verdict.Reason))

	status := fiber.StatusForbidden
	if ch.Type == challenge.TypeRateLimit {
		status = fiber.StatusTooManyRequests
		c.Set(common.RetryAfterHeader, strconv.Itoa(ch.Data.WaitTime))
	}

	page, err := challenge.Page(ch)
	if err != nil {
		m.logger.WithError(err).WithField("challenge_id", ch.ID).Error("failed to render challenge page")
		return c.Status(status).JSON(fiber.Map{
			"error":     "security check required",
			"reason":    verdict.Reason,
			"challenge": ch.Public(),
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).Send(page)
}

func buildRequest(c *fiber.Ctx) ddos.Request {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[strings.ToLower(string(key))] = string(value)
	})
	req := ddos.Request{
		Method:  c.Method(),
		Path:    c.Path(),
		Headers: headers,
	}
	if c.Method() == fiber.MethodPost {
		req.Body = c.Body()
	}
	return req
}
