package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/oschwald/geoip2-golang"
)

type maxMindLocator struct {
	db *geoip2.Reader
}

// NewMaxMindLocator opens a GeoIP2 or GeoLite2 City database.
func NewMaxMindLocator(path string) (Locator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &maxMindLocator{db: db}, nil
}

func (l *maxMindLocator) Locate(_ context.Context, ip net.IP) (*security.GeoInfo, error) {
	record, err := l.db.City(ip)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" {
		return nil, ErrNoLocation
	}
	geo := &security.GeoInfo{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		Timezone:  record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].IsoCode
	}
	return geo, nil
}

func (l *maxMindLocator) Close() error {
	return l.db.Close()
}
