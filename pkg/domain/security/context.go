package security

import (
	"context"
	"sort"
	"sync"

	"github.com/NeuralTrust/TrustShield/pkg/common"
)

type Flag string

const (
	FlagRateLimited Flag = "rate_limited"
	FlagGeoBlocked  Flag = "geo_blocked"
	FlagBlacklist   Flag = "blacklist"
	FlagWhitelist   Flag = "whitelist"
	FlagAPIKeyUsed  Flag = "api_key_used"
	FlagVerified    Flag = "verified"
	FlagChallenged  Flag = "challenged"
	FlagSuspicious  Flag = "suspicious"
)

const (
	MinThreatScore = 0
	MaxThreatScore = 100
	DefaultIP      = "127.0.0.1"
)

// RateLimitInfo is recomputed on every limiter check.
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	TotalHits int   `json:"total_hits"`
	ResetTime int64 `json:"reset_time"`
}

// Context carries identity and threat data for a single request. It is
// created once at request entry and mutated only through its methods.
type Context struct {
	RequestID string
	IP        string
	UserAgent string
	Method    string
	Path      string
	UserID    string
	APIKeyID  string
	Role      string

	mu            sync.RWMutex
	threatScore   int
	rateLimitInfo *RateLimitInfo
	geoInfo       *GeoInfo
	flags         map[Flag]struct{}
}

func NewContext(requestID, ip, userAgent string) *Context {
	if ip == "" {
		ip = DefaultIP
	}
	return &Context{
		RequestID: requestID,
		IP:        ip,
		UserAgent: userAgent,
		flags:     make(map[Flag]struct{}),
	}
}

func (c *Context) AddFlag(flag Flag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[flag] = struct{}{}
}

func (c *Context) HasFlag(flag Flag) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.flags[flag]
	return ok
}

// Flags returns the flags in lexical order.
func (c *Context) Flags() []Flag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Flag, 0, len(c.flags))
	for f := range c.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UpdateThreatScore adds delta to the score and clamps it to [0,100].
func (c *Context) UpdateThreatScore(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threatScore = ClampScore(c.threatScore + delta)
	return c.threatScore
}

func (c *Context) ThreatScore() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threatScore
}

func (c *Context) SetRateLimitInfo(info RateLimitInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitInfo = &info
}

func (c *Context) RateLimitInfo() *RateLimitInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rateLimitInfo == nil {
		return nil
	}
	info := *c.rateLimitInfo
	return &info
}

func (c *Context) SetGeoInfo(geo *GeoInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.geoInfo = geo
}

func (c *Context) GeoInfo() *GeoInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geoInfo
}

func ClampScore(score int) int {
	if score < MinThreatScore {
		return MinThreatScore
	}
	if score > MaxThreatScore {
		return MaxThreatScore
	}
	return score
}

func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, common.SecurityContextKey, sc)
}

// FromContext returns nil when no security context was attached.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	sc, ok := ctx.Value(common.SecurityContextKey).(*Context)
	if !ok {
		return nil
	}
	return sc
}
