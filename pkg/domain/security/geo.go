package security

import (
	"strconv"
	"strings"
)

const LocalCountry = "LOCAL"

type GeoInfo struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
}

func (g *GeoInfo) IsLocal() bool {
	return g != nil && g.Country == LocalCountry
}

// GeoFromEdgeHeaders builds geo info from CDN edge headers. It returns nil
// when the edge did not provide a country.
func GeoFromEdgeHeaders(header func(key string) string) *GeoInfo {
	country := strings.ToUpper(strings.TrimSpace(header("cf-ipcountry")))
	if country == "" || country == "XX" {
		return nil
	}
	geo := &GeoInfo{
		Country:  country,
		Region:   header("cf-ipregion"),
		City:     header("cf-ipcity"),
		Timezone: header("cf-timezone"),
	}
	if lat, err := strconv.ParseFloat(header("cf-iplatitude"), 64); err == nil {
		geo.Latitude = lat
	}
	if lon, err := strconv.ParseFloat(header("cf-iplongitude"), 64); err == nil {
		geo.Longitude = lon
	}
	return geo
}
