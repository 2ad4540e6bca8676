package httpx_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_WrapsErrors(t *testing.T) {
	breaker := httpx.NewCircuitBreaker("geo-lookup", 30*time.Second, 3)
	cause := errors.New("connection reset")

	err := breaker.Execute(func() error { return cause })
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "breaker (geo-lookup)")
	assert.False(t, httpx.IsOpen(err))

	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	breaker := httpx.NewCircuitBreaker("geo-lookup", 30*time.Second, 2)
	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errors.New("failure") })
	}

	calls := 0
	err := breaker.Execute(func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.True(t, httpx.IsOpen(err))
	assert.Zero(t, calls)
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	breaker := httpx.NewCircuitBreaker("geo-lookup", 50*time.Millisecond, 1)
	_ = breaker.Execute(func() error { return errors.New("failure") })
	require.True(t, httpx.IsOpen(breaker.Execute(func() error { return nil })))

	time.Sleep(80 * time.Millisecond)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreaker_LogsStateChanges(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	breaker := httpx.NewCircuitBreaker("geo-lookup", time.Minute, 1, httpx.WithStateLogger(logger))
	_ = breaker.Execute(func() error { return errors.New("failure") })

	assert.Contains(t, buf.String(), `"breaker":"geo-lookup"`)
	assert.Contains(t, buf.String(), `"to":"open"`)
}
