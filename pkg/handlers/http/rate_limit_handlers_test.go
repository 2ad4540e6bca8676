package http_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	handlers "github.com/NeuralTrust/TrustShield/pkg/handlers/http"
	"github.com/NeuralTrust/TrustShield/pkg/handlers/http/response"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bucketStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *ratelimit.RulesEngine {
	t.Helper()
	clock := func() time.Time { return bucketStart }
	store := ratelimit.NewBucketStore(
		cache.NewMemoryStore(100, cache.WithClock(clock)),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: clock},
	)
	engine, err := ratelimit.NewRulesEngine(ratelimit.RulesEngineDI{
		Store:   store,
		Default: config.LimitConfig{WindowMs: 60000, Max: 10},
		Rules: []config.RuleConfig{{
			ID: "login", Name: "login", WindowMs: 60000, Max: 3,
			Paths: []string{"/login"}, Priority: 5, Enabled: true,
		}},
		Logger:       newLogger(),
		TimeProvider: clock,
	})
	require.NoError(t, err)
	return engine
}

func TestListRulesHandler(t *testing.T) {
	app := newApp(http.MethodGet, "/api/v1/rules", handlers.NewListRulesHandler(newLogger(), newEngine(t)))

	resp := doJSON(t, app, http.MethodGet, "/api/v1/rules", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out response.ListRulesOutput
	decode(t, resp, &out)
	assert.Equal(t, config.LimitConfig{WindowMs: 60000, Max: 10}, out.Default)
	require.Len(t, out.Rules, 1)
	assert.Equal(t, "login", out.Rules[0].ID)
}

func TestReloadRulesHandler(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		status  int
		ruleIDs []string
	}{
		{
			name: "replaces rules",
			body: map[string]interface{}{"rules": []map[string]interface{}{
				{"id": "api", "name": "api", "window_ms": 1000, "max": 5, "paths": []string{"/api/*"}, "priority": 1, "enabled": true},
				{"id": "admin", "name": "admin", "window_ms": "60000", "max": "100", "roles": []string{"admin"}, "priority": 9, "enabled": true},
			}},
			status:  fiber.StatusOK,
			ruleIDs: []string{"admin", "api"},
		},
		{
			name:    "empty list clears rules",
			body:    map[string]interface{}{"rules": []map[string]interface{}{}},
			status:  fiber.StatusOK,
			ruleIDs: []string{},
		},
		{
			name:    "missing rules",
			body:    map[string]interface{}{},
			status:  fiber.StatusBadRequest,
			ruleIDs: []string{"login"},
		},
		{
			name: "duplicate ids keep previous set",
			body: map[string]interface{}{"rules": []map[string]interface{}{
				{"id": "x", "name": "x", "window_ms": 1000, "max": 1, "enabled": true},
				{"id": "x", "name": "x", "window_ms": 1000, "max": 1, "enabled": true},
			}},
			status:  fiber.StatusBadRequest,
			ruleIDs: []string{"login"},
		},
		{
			name:    "malformed body",
			body:    `{"rules": [`,
			status:  fiber.StatusBadRequest,
			ruleIDs: []string{"login"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(t)
			publisher := &recordingPublisher{}
			app := newApp(http.MethodPost, "/api/v1/rules/reload", handlers.NewReloadRulesHandler(newLogger(), engine, publisher))

			resp := doJSON(t, app, http.MethodPost, "/api/v1/rules/reload", tt.body)

			assert.Equal(t, tt.status, resp.StatusCode)
			ids := make([]string, 0)
			for _, rule := range engine.Rules() {
				ids = append(ids, rule.ID)
			}
			assert.Equal(t, tt.ruleIDs, ids)

			if tt.status != fiber.StatusOK {
				assert.Empty(t, publisher.Events())
				return
			}
			require.Len(t, publisher.Events(), 1)
			reloaded, ok := publisher.Events()[0].(event.RulesReloadedEvent)
			require.True(t, ok)
			assert.Len(t, reloaded.Rules, len(tt.ruleIDs))
		})
	}
}

func TestRateLimitUsageHandler(t *testing.T) {
	engine := newEngine(t)
	req := ratelimit.Request{IP: "203.0.113.5", Method: http.MethodPost, Path: "/login"}
	for i := 0; i < 2; i++ {
		_, err := engine.Apply(context.Background(), req)
		require.NoError(t, err)
	}
	app := newApp(http.MethodPost, "/api/v1/ratelimit/usage", handlers.NewRateLimitUsageHandler(newLogger(), engine))

	resp := doJSON(t, app, http.MethodPost, "/api/v1/ratelimit/usage", map[string]string{
		"ip": "203.0.113.5", "method": "post", "path": "/login",
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var usage ratelimit.Usage
	decode(t, resp, &usage)
	assert.Equal(t, "login", usage.RuleID)
	assert.Equal(t, 3, usage.Limit)
	assert.Equal(t, 2, usage.Current)
	assert.Equal(t, 1, usage.Remaining)

	again := doJSON(t, app, http.MethodPost, "/api/v1/ratelimit/usage", map[string]string{
		"ip": "203.0.113.5", "method": "post", "path": "/login",
	})
	var second ratelimit.Usage
	decode(t, again, &second)
	assert.Equal(t, 2, second.Current)
}

func TestRateLimitUsageHandler_Validation(t *testing.T) {
	app := newApp(http.MethodPost, "/api/v1/ratelimit/usage", handlers.NewRateLimitUsageHandler(newLogger(), newEngine(t)))

	for _, body := range []interface{}{
		map[string]string{},
		map[string]string{"ip": "not-an-ip"},
		map[string]string{"ip": "203.0.113.5", "path": "login"},
		`{`,
	} {
		resp := doJSON(t, app, http.MethodPost, "/api/v1/ratelimit/usage", body)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body %v", body)
	}
}

func TestResetRateLimitHandler(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	first := ratelimit.Request{IP: "203.0.113.5", Method: http.MethodGet, Path: "/"}
	second := ratelimit.Request{IP: "203.0.113.6", Method: http.MethodGet, Path: "/"}
	for _, req := range []ratelimit.Request{first, first, second} {
		_, err := engine.Apply(ctx, req)
		require.NoError(t, err)
	}
	app := newApp(http.MethodDelete, "/api/v1/ratelimit", handlers.NewResetRateLimitHandler(newLogger(), engine))

	resp := doJSON(t, app, http.MethodDelete, "/api/v1/ratelimit", map[string]string{"ip": "203.0.113.5"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, engine.Usage(ctx, first).Current)
	assert.Equal(t, 1, engine.Usage(ctx, second).Current)

	resp = doJSON(t, app, http.MethodDelete, "/api/v1/ratelimit", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, engine.Usage(ctx, second).Current)
}
