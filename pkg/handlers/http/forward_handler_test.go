package http_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	handlers "github.com/NeuralTrust/TrustShield/pkg/handlers/http"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newForwardApp(cfg config.UpstreamConfig) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		sc := security.NewContext("req-1", "203.0.113.9", "curl/8.0")
		c.SetUserContext(security.WithContext(context.Background(), sc))
		return c.Next()
	})
	app.All("/*", handlers.NewForwardHandler(newLogger(), cfg).Handle)
	return app
}

func TestForwardHandler_NoUpstream(t *testing.T) {
	app := newForwardApp(config.UpstreamConfig{})

	resp := doJSON(t, app, http.MethodGet, "/anything", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "allowed", body["status"])
}

func TestForwardHandler_RelaysToUpstream(t *testing.T) {
	var gotPath, gotRequestID, gotForwarded string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotRequestID = r.Header.Get(common.RequestIDHeader)
		gotForwarded = r.Header.Get("X-Forwarded-For")
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer upstream.Close()

	app := newForwardApp(config.UpstreamConfig{URL: upstream.URL + "/", Timeout: 5 * time.Second})

	resp := doJSON(t, app, http.MethodPost, "/api/orders?page=2", `{"id":1}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `echo:{"id":1}`, string(body))
	assert.Equal(t, "/api/orders?page=2", gotPath)
	assert.Equal(t, "req-1", gotRequestID)
	assert.Equal(t, "203.0.113.9", gotForwarded)
}

func TestForwardHandler_UpstreamUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	app := newForwardApp(config.UpstreamConfig{URL: url, Timeout: time.Second})

	resp := doJSON(t, app, http.MethodGet, "/", nil)

	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "upstream unavailable", body["error"])
}
