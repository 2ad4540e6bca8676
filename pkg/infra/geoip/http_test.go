package geoip_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/infra/geoip"
	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx"
	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func forURL(url string) interface{} {
	return mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.String() == url && req.Method == http.MethodGet
	})
}

func TestHTTPLocator_Locate(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Do", forURL("https://ipapi.co/8.8.8.8/json/")).Return(response(http.StatusOK, `{
		"ip": "8.8.8.8",
		"city": "Mountain View",
		"region": "California",
		"country_code": "us",
		"latitude": 37.42301,
		"longitude": -122.083352,
		"timezone": "America/Los_Angeles"
	}`), nil).Once()

	locator := geoip.NewHTTPLocator("", client, httpx.NewCircuitBreaker("geo", time.Minute, 3))
	geo, err := locator.Locate(context.Background(), net.ParseIP("8.8.8.8"))
	require.NoError(t, err)

	assert.Equal(t, "US", geo.Country)
	assert.Equal(t, "California", geo.Region)
	assert.Equal(t, "Mountain View", geo.City)
	assert.InDelta(t, 37.42301, geo.Latitude, 1e-9)
	assert.InDelta(t, -122.083352, geo.Longitude, 1e-9)
	assert.Equal(t, "America/Los_Angeles", geo.Timezone)
}

func TestHTTPLocator_CustomURL(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Do", forURL("http://geo.internal/lookup/1.1.1.1")).
		Return(response(http.StatusOK, `{"country_code":"AU"}`), nil).Once()

	locator := geoip.NewHTTPLocator("http://geo.internal/lookup/{ip}", client, httpx.NewCircuitBreaker("geo", time.Minute, 3))
	geo, err := locator.Locate(context.Background(), net.ParseIP("1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, "AU", geo.Country)
}

func TestHTTPLocator_ReservedAddressDoesNotTripBreaker(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Do", mock.Anything).
		Return(response(http.StatusOK, `{"ip":"0.1.2.3","error":true,"reason":"Reserved IP Address","reserved":true}`), nil).Times(3)

	locator := geoip.NewHTTPLocator("", client, httpx.NewCircuitBreaker("geo", time.Minute, 1))
	for i := 0; i < 3; i++ {
		_, err := locator.Locate(context.Background(), net.ParseIP("0.1.2.3"))
		assert.ErrorIs(t, err, geoip.ErrNoLocation)
	}
}

func TestHTTPLocator_FailuresOpenBreaker(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Do", mock.Anything).Return(nil, errors.New("dial tcp: i/o timeout")).Once()
	client.On("Do", mock.Anything).Return(response(http.StatusTooManyRequests, `{}`), nil).Once()

	locator := geoip.NewHTTPLocator("", client, httpx.NewCircuitBreaker("geo", time.Minute, 2))
	ctx := context.Background()

	_, err := locator.Locate(ctx, net.ParseIP("8.8.8.8"))
	assert.ErrorContains(t, err, "i/o timeout")
	_, err = locator.Locate(ctx, net.ParseIP("8.8.8.8"))
	assert.ErrorContains(t, err, "status code 429")

	_, err = locator.Locate(ctx, net.ParseIP("8.8.8.8"))
	require.Error(t, err)
	assert.True(t, httpx.IsOpen(err))
}

func TestHTTPLocator_InvalidJSON(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Do", mock.Anything).Return(response(http.StatusOK, `<html>`), nil).Once()

	locator := geoip.NewHTTPLocator("", client, httpx.NewCircuitBreaker("geo", time.Minute, 3))
	_, err := locator.Locate(context.Background(), net.ParseIP("8.8.8.8"))
	assert.ErrorContains(t, err, "invalid geo response")
}

func TestNewMaxMindLocator_MissingDatabase(t *testing.T) {
	_, err := geoip.NewMaxMindLocator(t.TempDir() + "/missing.mmdb")
	assert.Error(t, err)
}
