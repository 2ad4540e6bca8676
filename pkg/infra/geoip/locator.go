package geoip

import (
	"context"
	"errors"
	"net"

	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
)

// ErrNoLocation is returned when the source has no country for an address.
var ErrNoLocation = errors.New("geoip: no location for address")

// Locator maps a public IP address to its location.
type Locator interface {
	Locate(ctx context.Context, ip net.IP) (*security.GeoInfo, error)
	Close() error
}
