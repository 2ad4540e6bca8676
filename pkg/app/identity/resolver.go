package identity

import (
	"context"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/infra/jwt"
	"github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

// Identity is what a request has proven about its caller. Fields stay empty
// when nothing was proven, and the caller is then keyed by address.
type Identity struct {
	UserID   string
	Role     string
	APIKeyID string
}

type ResolverDI struct {
	Tokens jwt.Manager
	Keys   KeyLookup
	Logger *logrus.Logger
}

// Resolver verifies the bearer credential of a request. Signed user tokens
// carry the user id and role. Anything else must be a known API key.
type Resolver struct {
	tokens jwt.Manager
	keys   KeyLookup
	logger *logrus.Logger
}

func NewResolver(di ResolverDI) *Resolver {
	logger := di.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		tokens: di.Tokens,
		keys:   di.Keys,
		logger: logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, authorization string) Identity {
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return Identity{}
	}
	credential := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if credential == "" {
		return Identity{}
	}

	if r.tokens != nil && strings.Count(credential, ".") == 2 {
		claims, err := r.tokens.DecodeUserToken(credential)
		if err != nil {
			r.logger.WithError(err).Debug("ignoring unverified user token")
			return Identity{}
		}
		return Identity{UserID: claims.Subject, Role: claims.Role}
	}

	if r.keys == nil {
		return Identity{}
	}
	id, ok, err := r.keys.Lookup(ctx, credential)
	if err != nil {
		r.logger.WithError(err).Warn("failed to look up api key")
		return Identity{}
	}
	if !ok {
		return Identity{}
	}
	return Identity{APIKeyID: id}
}
