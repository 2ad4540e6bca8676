package middleware

import (
	"context"
	"errors"
	"strconv"

	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type RateLimiter interface {
	Apply(ctx context.Context, req ratelimit.Request) (*ratelimit.Decision, error)
}

type rateLimitMiddleware struct {
	logger  *logrus.Logger
	limiter RateLimiter
}

func NewRateLimitMiddleware(logger *logrus.Logger, limiter RateLimiter) Middleware {
	return &rateLimitMiddleware{
		logger:  logger,
		limiter: limiter,
	}
}

func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sc := SecurityContext(c)
		if sc == nil {
			m.logger.WithField("path", c.Path()).Error("security context not found (rate limit middleware)")
			return c.Next()
		}

		decision, err := m.limiter.Apply(c.UserContext(), ratelimit.Request{
			IP:       sc.IP,
			Method:   c.Method(),
			Path:     c.Path(),
			UserID:   sc.UserID,
			APIKeyID: sc.APIKeyID,
			Role:     sc.Role,
		})
		if decision != nil {
			setRateLimitHeaders(c, decision.Result)
		}

		var exceeded *domain.RateLimitExceeded
		if errors.As(err, &exceeded) {
			c.Set(common.RetryAfterHeader, strconv.Itoa(exceeded.RetryAfter))
			return c.Status(exceeded.StatusCode()).JSON(fiber.Map{
				"error":       "Too many requests",
				"code":        exceeded.Code(),
				"retry_after": exceeded.RetryAfter,
				"limit":       exceeded.Limit,
				"current":     exceeded.Current,
			})
		}
		if err != nil {
			m.logger.WithError(err).WithField("ip", sc.IP).Error("rate limiting failed, allowing request")
		}
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, result ratelimit.Result) {
	c.Set(common.RateLimitLimitHeader, strconv.Itoa(result.Info.Limit))
	c.Set(common.RateLimitRemainingHeader, strconv.Itoa(result.Remaining))
	reset := (result.Info.ResetTime + 999) / 1000
	c.Set(common.RateLimitResetHeader, strconv.FormatInt(reset, 10))
}
