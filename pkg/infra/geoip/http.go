package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx"
	"github.com/valyala/fastjson"
)

const DefaultLookupURL = "https://ipapi.co/{ip}/json/"

type httpLocator struct {
	url     string
	client  httpx.Client
	breaker httpx.CircuitBreaker
	parsers fastjson.ParserPool
}

// NewHTTPLocator queries an ipapi.co compatible JSON endpoint. The url must
// contain the {ip} placeholder.
func NewHTTPLocator(url string, client httpx.Client, breaker httpx.CircuitBreaker) Locator {
	if url == "" {
		url = DefaultLookupURL
	}
	return &httpLocator{
		url:     url,
		client:  client,
		breaker: breaker,
	}
}

func (l *httpLocator) Locate(ctx context.Context, ip net.IP) (*security.GeoInfo, error) {
	var (
		geo      *security.GeoInfo
		notFound bool
	)
	err := l.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.ReplaceAll(l.url, "{ip}", ip.String()), nil)
		if err != nil {
			return fmt.Errorf("failed to create geo request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		res, err := l.client.Do(req)
		if err != nil {
			return fmt.Errorf("geo request failed: %w", err)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("failed to read geo response: %w", err)
		}
		if res.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("geo service returned status code %d", res.StatusCode)
		}

		geo, err = l.parse(body)
		if errors.Is(err, ErrNoLocation) {
			// A reserved or unknown address is an answer, not a failure.
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNoLocation
	}
	return geo, nil
}

func (l *httpLocator) parse(body []byte) (*security.GeoInfo, error) {
	p := l.parsers.Get()
	defer l.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("invalid geo response: %w", err)
	}
	if v.GetBool("error") || v.GetBool("reserved") {
		return nil, ErrNoLocation
	}
	country := strings.ToUpper(string(v.GetStringBytes("country_code")))
	if country == "" {
		return nil, ErrNoLocation
	}
	return &security.GeoInfo{
		Country:   country,
		Region:    string(v.GetStringBytes("region")),
		City:      string(v.GetStringBytes("city")),
		Latitude:  v.GetFloat64("latitude"),
		Longitude: v.GetFloat64("longitude"),
		Timezone:  string(v.GetStringBytes("timezone")),
	}, nil
}

func (l *httpLocator) Close() error {
	return nil
}
