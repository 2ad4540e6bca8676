package jwt_test

import (
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/infra/jwt"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})

	token, err := manager.CreateToken("ops@example.com", time.Hour)
	require.NoError(t, err)

	require.NoError(t, manager.ValidateToken(token))
	claims, err := manager.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "trustshield", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
}

func TestManager_WithoutExpiry(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})

	token, err := manager.CreateToken("ops", 0)
	require.NoError(t, err)

	claims, err := manager.DecodeToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestManager_Expired(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Issuer:    "trustshield",
		Subject:   "ops",
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	assert.ErrorIs(t, manager.ValidateToken(token), jwt.ErrExpiredToken)
}

func TestManager_RejectsWrongIssuer(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Issuer:  "someone-else",
		Subject: "ops",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	assert.ErrorIs(t, manager.ValidateToken(token), jwt.ErrInvalidToken)
}

func TestManager_RejectsForeignToken(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})
	other := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "another"})

	token, err := other.CreateToken("ops", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, manager.ValidateToken(token), jwt.ErrInvalidToken)
	assert.ErrorIs(t, manager.ValidateToken("garbage"), jwt.ErrInvalidToken)
}

func TestManager_UserTokens(t *testing.T) {
	manager := jwt.NewJwtManager(&config.ServerConfig{SecretKey: "secret"})

	user, err := manager.CreateUserToken("u-42", "admin", time.Hour)
	require.NoError(t, err)
	admin, err := manager.CreateToken("ops", time.Hour)
	require.NoError(t, err)

	claims, err := manager.DecodeUserToken(user)
	require.NoError(t, err)
	assert.Equal(t, "u-42", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = manager.DecodeToken(user)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	_, err = manager.DecodeUserToken(admin)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}
