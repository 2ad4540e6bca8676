package jwt

import (
	"errors"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "trustshield"
	// UserAudience marks tokens that identify API callers. They are never
	// accepted by the admin API.
	UserAudience = "api"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type (
	Manager interface {
		CreateToken(subject string, ttl time.Duration) (string, error)
		ValidateToken(tokenString string) error
		DecodeToken(tokenString string) (*Claims, error)
		CreateUserToken(subject, role string, ttl time.Duration) (string, error)
		DecodeUserToken(tokenString string) (*Claims, error)
	}
	manager struct {
		config *config.ServerConfig
		now    func() time.Time
	}
)

func NewJwtManager(config *config.ServerConfig) Manager {
	return &manager{
		config: config,
		now:    time.Now,
	}
}

// Claims identify an operator of the admin API or, with the user audience,
// an API caller and its role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// CreateToken signs an admin token. A ttl <= 0 produces a token without
// expiry.
func (m *manager) CreateToken(subject string, ttl time.Duration) (string, error) {
	return m.sign(m.claims(subject, ttl))
}

// CreateUserToken signs a token for an API caller.
func (m *manager) CreateUserToken(subject, role string, ttl time.Duration) (string, error) {
	claims := m.claims(subject, ttl)
	claims.Audience = jwt.ClaimStrings{UserAudience}
	claims.Role = role
	return m.sign(claims)
}

func (m *manager) claims(subject string, ttl time.Duration) *Claims {
	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return claims
}

func (m *manager) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

func (m *manager) ValidateToken(tokenString string) error {
	_, err := m.DecodeToken(tokenString)
	return err
}

// DecodeToken accepts admin tokens only.
func (m *manager) DecodeToken(tokenString string) (*Claims, error) {
	claims, err := m.decode(tokenString)
	if err != nil {
		return nil, err
	}
	for _, aud := range claims.Audience {
		if aud == UserAudience {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// DecodeUserToken accepts tokens issued by CreateUserToken only.
func (m *manager) DecodeUserToken(tokenString string) (*Claims, error) {
	return m.decode(tokenString, jwt.WithAudience(UserAudience))
}

func (m *manager) decode(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *manager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return []byte(m.config.SecretKey), nil
}
