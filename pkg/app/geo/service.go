package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/geoip"
	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	cachePrefix      = "geo:"
	defaultCacheSize = 10000
)

var (
	ErrInvalidCountry = errors.New("country code must be two letters")

	countryCode = regexp.MustCompile(`^[A-Z]{2}$`)
)

type policy struct {
	enabled bool
	allowed map[string]struct{}
	blocked map[string]struct{}
}

func newPolicy(cfg config.GeoBlockingConfig) *policy {
	return &policy{
		enabled: cfg.Enabled,
		allowed: toSet(cfg.AllowedCountries),
		blocked: toSet(cfg.BlockedCountries),
	}
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *policy) config() config.GeoBlockingConfig {
	return config.GeoBlockingConfig{
		Enabled:          p.enabled,
		AllowedCountries: keys(p.allowed),
		BlockedCountries: keys(p.blocked),
	}
}

type ServiceDI struct {
	Store     cache.Store
	Locator   geoip.Locator
	Config    config.GeoBlockingConfig
	CacheSize int
	Logger    *logrus.Logger
}

// Service resolves client locations and applies the country policy. The
// policy is replaced as a whole, so readers never see a partial update.
type Service struct {
	store   cache.Store
	locator geoip.Locator
	local   *expirable.LRU[string, *security.GeoInfo]
	policy  atomic.Pointer[policy]
	mu      sync.Mutex
	logger  *logrus.Logger
}

func NewService(di ServiceDI) *Service {
	size := di.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	s := &Service{
		store:   di.Store,
		locator: di.Locator,
		local:   expirable.NewLRU[string, *security.GeoInfo](size, nil, common.GeoCacheTTL),
		logger:  di.Logger,
	}
	s.policy.Store(newPolicy(di.Config))
	return s
}

// IsLocalIP reports loopback, private, link-local and unspecified addresses.
func IsLocalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// Resolve returns the location of ip, or nil when nothing is known. Edge
// data wins over every other source but only applies to the request that
// carried it. Caches hold locator results alone.
func (s *Service) Resolve(ctx context.Context, ip string, edge *security.GeoInfo) *security.GeoInfo {
	if edge != nil && edge.Country != "" {
		return edge
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}
	if IsLocalIP(parsed) {
		return &security.GeoInfo{Country: security.LocalCountry, City: "Local Network"}
	}
	if geo, ok := s.local.Get(ip); ok {
		return geo
	}
	if geo := s.cached(ctx, ip); geo != nil {
		s.local.Add(ip, geo)
		return geo
	}
	if s.locator == nil {
		return nil
	}

	geo, err := s.locator.Locate(ctx, parsed)
	if err != nil {
		entry := s.logger.WithError(err).WithField("ip", ip)
		if errors.Is(err, geoip.ErrNoLocation) || httpx.IsOpen(err) {
			entry.Debug("no geo location")
		} else {
			entry.Warn("geo lookup failed")
		}
		return nil
	}
	s.local.Add(ip, geo)
	s.remember(ctx, ip, geo)
	return geo
}

func (s *Service) cached(ctx context.Context, ip string) *security.GeoInfo {
	raw, err := s.store.Get(ctx, cachePrefix+ip)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.WithError(err).WithField("ip", ip).Debug("failed to read geo cache")
		}
		return nil
	}
	var geo security.GeoInfo
	if err := json.Unmarshal([]byte(raw), &geo); err != nil || geo.Country == "" {
		return nil
	}
	return &geo
}

func (s *Service) remember(ctx context.Context, ip string, geo *security.GeoInfo) {
	raw, err := json.Marshal(geo)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, cachePrefix+ip, string(raw), common.GeoCacheTTL); err != nil {
		s.logger.WithError(err).WithField("ip", ip).Debug("failed to write geo cache")
	}
}

func (s *Service) Enabled() bool {
	return s.policy.Load().enabled
}

// ShouldBlock applies the country policy. The allow-list, when set, takes
// precedence over the block-list. Local addresses and unknown locations are
// never blocked.
func (s *Service) ShouldBlock(ip string, geo *security.GeoInfo) bool {
	p := s.policy.Load()
	if !p.enabled || geo == nil || geo.Country == "" || geo.IsLocal() {
		return false
	}
	if parsed := net.ParseIP(ip); parsed != nil && IsLocalIP(parsed) {
		return false
	}
	country := strings.ToUpper(geo.Country)
	if len(p.allowed) > 0 {
		_, ok := p.allowed[country]
		return !ok
	}
	_, blocked := p.blocked[country]
	return blocked
}

func (s *Service) Config() config.GeoBlockingConfig {
	return s.policy.Load().config()
}

func (s *Service) UpdateConfig(cfg config.GeoBlockingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Store(newPolicy(cfg))
}

func (s *Service) modify(code string, fn func(p *policy, code string)) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !countryCode.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCountry, code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newPolicy(s.policy.Load().config())
	fn(next, code)
	s.policy.Store(next)
	s.logger.WithField("country", code).Info("geo policy updated")
	return nil
}

func (s *Service) BlockCountry(code string) error {
	return s.modify(code, func(p *policy, c string) { p.blocked[c] = struct{}{} })
}

func (s *Service) UnblockCountry(code string) error {
	return s.modify(code, func(p *policy, c string) { delete(p.blocked, c) })
}

func (s *Service) AllowCountry(code string) error {
	return s.modify(code, func(p *policy, c string) { p.allowed[c] = struct{}{} })
}

func (s *Service) DisallowCountry(code string) error {
	return s.modify(code, func(p *policy, c string) { delete(p.allowed, c) })
}
