package middleware

import (
	"context"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/app/identity"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GeoResolver turns an IP and the edge-provided location into the location
// used for geo blocking.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string, edge *security.GeoInfo) *security.GeoInfo
}

// IdentityResolver verifies the Authorization header of a request.
type IdentityResolver interface {
	Resolve(ctx context.Context, authorization string) identity.Identity
}

type securityContextMiddleware struct {
	logger     *logrus.Logger
	geo        GeoResolver
	identities IdentityResolver
}

func NewSecurityContextMiddleware(
	logger *logrus.Logger,
	geo GeoResolver,
	identities IdentityResolver,
) Middleware {
	return &securityContextMiddleware{
		logger:     logger,
		geo:        geo,
		identities: identities,
	}
}

func (m *securityContextMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(common.RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(common.RequestIDHeader, requestID)

		sc := security.NewContext(requestID, ClientIP(c), c.Get(fiber.HeaderUserAgent))
		sc.Method = c.Method()
		sc.Path = c.Path()
		ctx := security.WithContext(c.UserContext(), sc)

		if m.identities != nil {
			id := m.identities.Resolve(ctx, c.Get(fiber.HeaderAuthorization))
			sc.UserID = id.UserID
			sc.Role = id.Role
			if id.APIKeyID != "" {
				sc.APIKeyID = id.APIKeyID
				sc.AddFlag(security.FlagAPIKeyUsed)
			}
		}

		var edge *security.GeoInfo
		if c.IsProxyTrusted() {
			edge = security.GeoFromEdgeHeaders(func(key string) string {
				return strings.TrimSpace(c.Get(key))
			})
		}
		if m.geo != nil {
			sc.SetGeoInfo(m.geo.Resolve(ctx, sc.IP, edge))
		} else {
			sc.SetGeoInfo(edge)
		}

		c.Locals(common.SecurityContextKey, sc)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// ClientIP picks the caller address. Proxy headers are read only when the
// socket peer is one of the server's trusted proxies, otherwise the socket
// address is used.
func ClientIP(c *fiber.Ctx) string {
	if c.IsProxyTrusted() {
		if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
	}
	if ip := c.Context().RemoteIP(); ip != nil && !ip.IsUnspecified() {
		return ip.String()
	}
	return security.DefaultIP
}

// SecurityContext returns the context attached by the security context
// middleware, or nil.
func SecurityContext(c *fiber.Ctx) *security.Context {
	if sc, ok := c.Locals(common.SecurityContextKey).(*security.Context); ok {
		return sc
	}
	return security.FromContext(c.UserContext())
}
