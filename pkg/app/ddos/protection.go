package ddos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	"github.com/NeuralTrust/TrustShield/pkg/app/monitoring"
	"github.com/NeuralTrust/TrustShield/pkg/app/threat"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

var ErrInvalidIPList = errors.New("invalid ip list entry")

type ThreatAnalyzer interface {
	Analyze(ctx context.Context, p security.RequestPattern) (*security.ThreatAnalysis, error)
}

// GeoPolicy decides whether a resolved location is refused.
type GeoPolicy interface {
	Enabled() bool
	ShouldBlock(ip string, geo *security.GeoInfo) bool
}

type Challenges interface {
	Create(ctx context.Context, ip string, typ challenge.Type, score int) (*challenge.Challenge, error)
	Verify(ctx context.Context, ip, id string, resp challenge.Response) (challenge.Result, error)
	IsChallenged(ctx context.Context, ip string) (bool, error)
	IsVerified(ctx context.Context, ip string) (bool, error)
	Active(ctx context.Context, ip string) (*challenge.Challenge, error)
	ClearActive(ctx context.Context, ip string) error
}

var (
	_ ThreatAnalyzer = (*threat.Detector)(nil)
	_ Challenges     = (*challenge.System)(nil)
)

type ipList struct {
	exact map[string]struct{}
	nets  []*net.IPNet
}

func newIPList(entries []string) (ipList, error) {
	list := ipList{exact: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return ipList{}, fmt.Errorf("%w: %s", ErrInvalidIPList, entry)
			}
			list.nets = append(list.nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return ipList{}, fmt.Errorf("%w: %s", ErrInvalidIPList, entry)
		}
		list.exact[ip.String()] = struct{}{}
	}
	return list, nil
}

func (l ipList) contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		_, ok := l.exact[ip]
		return ok
	}
	if _, ok := l.exact[parsed.String()]; ok {
		return true
	}
	for _, network := range l.nets {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

type settings struct {
	cfg       config.DDoSConfig
	blacklist ipList
	whitelist ipList
	types     map[challenge.Type]struct{}
}

func compile(cfg config.DDoSConfig) (*settings, error) {
	blacklist, err := newIPList(cfg.BlacklistedIPs)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	whitelist, err := newIPList(cfg.WhitelistedIPs)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	types := make(map[challenge.Type]struct{}, len(cfg.Challenges.Types))
	for _, raw := range cfg.Challenges.Types {
		typ, ok := challenge.ParseType(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s", challenge.ErrUnknownType, raw)
		}
		types[typ] = struct{}{}
	}
	return &settings{cfg: cfg, blacklist: blacklist, whitelist: whitelist, types: types}, nil
}

func (s *settings) typeEnabled(typ challenge.Type) bool {
	_, ok := s.types[typ]
	return ok
}

type ProtectionDI struct {
	Config       config.DDoSConfig
	Geo          GeoPolicy
	Challenges   Challenges
	Analyzer     ThreatAnalyzer
	Store        cache.Store
	Events       monitoring.EventLogger
	Logger       *logrus.Logger
	TimeProvider func() time.Time
}

// Protection runs the per-request defense pipeline.
type Protection struct {
	settings   atomic.Pointer[settings]
	geo        GeoPolicy
	challenges Challenges
	analyzer   ThreatAnalyzer
	store      cache.Store
	events     monitoring.EventLogger
	logger     *logrus.Logger
	now        func() time.Time
	parsers    fastjson.ParserPool
}

func NewProtection(di ProtectionDI) (*Protection, error) {
	s, err := compile(di.Config)
	if err != nil {
		return nil, err
	}
	events := di.Events
	if events == nil {
		events = monitoring.NewNoopEventLogger()
	}
	now := di.TimeProvider
	if now == nil {
		now = time.Now
	}
	logger := di.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Protection{
		geo:        di.Geo,
		challenges: di.Challenges,
		analyzer:   di.Analyzer,
		store:      di.Store,
		events:     events,
		logger:     logger,
		now:        now,
	}
	p.settings.Store(s)
	return p, nil
}

// UpdateConfig swaps the configuration. The previous one stays in effect
// when cfg does not compile.
func (p *Protection) UpdateConfig(cfg config.DDoSConfig) error {
	s, err := compile(cfg)
	if err != nil {
		return err
	}
	p.settings.Store(s)
	return nil
}

func (p *Protection) Config() config.DDoSConfig {
	return p.settings.Load().cfg
}

func connectionKey(ip string) string {
	return "ddos:connections:" + ip
}

// Protect evaluates req against the pipeline. The security context must be
// attached to ctx.
func (p *Protection) Protect(ctx context.Context, req Request) (*Verdict, error) {
	s := p.settings.Load()
	if !s.cfg.Enabled {
		return allow(), nil
	}
	sc := security.FromContext(ctx)
	if sc == nil {
		sc = security.NewContext("", "", req.Header("user-agent"))
		ctx = security.WithContext(ctx, sc)
	}
	ip := sc.IP

	if p.geo != nil && p.geo.Enabled() && p.geo.ShouldBlock(ip, sc.GeoInfo()) {
		sc.AddFlag(security.FlagGeoBlocked)
		country := ""
		if geo := sc.GeoInfo(); geo != nil {
			country = geo.Country
		}
		p.events.Log(ctx, security.EventGeoBlocked, security.SeverityMedium,
			map[string]interface{}{"country": country},
			&security.Resolution{Action: security.ResolutionBlocked, Reason: string(domain.ReasonGeoBlocked)})
		return nil, p.deny(domain.ReasonGeoBlocked, "access denied from your location")
	}

	if s.blacklist.contains(ip) {
		sc.AddFlag(security.FlagBlacklist)
		p.events.Log(ctx, security.EventIPBlocked, security.SeverityHigh,
			map[string]interface{}{"reason": "blacklisted"},
			&security.Resolution{Action: security.ResolutionBlocked, Reason: string(domain.ReasonIPBlocked)})
		return nil, p.deny(domain.ReasonIPBlocked, "access denied")
	}

	if s.whitelist.contains(ip) {
		sc.AddFlag(security.FlagWhitelist)
		return p.decided(allow()), nil
	}

	verified, err := p.challenges.IsVerified(ctx, ip)
	if err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to read verification state")
	}
	if verified {
		sc.AddFlag(security.FlagVerified)
		return p.decided(allow()), nil
	}

	if verdict := p.pendingChallenge(ctx, sc, req); verdict != nil {
		return p.decided(verdict), nil
	}

	analysis := p.analyze(ctx, sc, req)
	score := riskScore(analysis)

	connections := p.connections(ctx, ip)
	if limit := s.cfg.MaxConcurrentConnections; limit > 0 && connections > int64(limit) {
		p.events.Log(ctx, security.EventDDoSAttackDetected, security.SeverityCritical,
			map[string]interface{}{"connections": connections, "threat_score": score},
			&security.Resolution{Action: security.ResolutionChallenged, Reason: "too many concurrent connections"})
		if verdict := p.issue(ctx, sc, challenge.TypeRateLimit, score, analysis); verdict != nil {
			return p.decided(verdict), nil
		}
	}

	if analysis != nil {
		if verdict := p.recommend(ctx, s, sc, score, analysis); verdict != nil {
			return p.decided(verdict), nil
		}
	}

	verdict := allow()
	verdict.Analysis = analysis
	verdict.Tracked = p.track(ctx, ip)
	return p.decided(verdict), nil
}

func (p *Protection) deny(reason domain.DenyReason, message string) error {
	prometheus.ProtectionDecisionsTotal.WithLabelValues("deny", string(reason)).Inc()
	return domain.NewSecurityDenied(reason, message)
}

func (p *Protection) decided(v *Verdict) *Verdict {
	prometheus.ProtectionDecisionsTotal.WithLabelValues(string(v.Action), string(v.Reason)).Inc()
	return v
}

// pendingChallenge handles an IP that already holds a challenge. It returns
// nil when the pipeline should continue. A block is served until it expires
// and never reaches verification.
func (p *Protection) pendingChallenge(ctx context.Context, sc *security.Context, req Request) *Verdict {
	ip := sc.IP
	challengedIP, err := p.challenges.IsChallenged(ctx, ip)
	if err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to read challenge state")
		return nil
	}
	if !challengedIP {
		return nil
	}

	active, err := p.challenges.Active(ctx, ip)
	if err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to load active challenge")
		return nil
	}
	if active != nil && active.Type == challenge.TypeBlock {
		return p.serve(ctx, sc, active)
	}

	if id, resp, ok := p.submission(req); ok {
		return p.verify(ctx, ip, id, resp)
	}

	if active == nil {
		if err := p.challenges.ClearActive(ctx, ip); err != nil {
			p.logger.WithError(err).WithField("ip", ip).Warn("failed to clear stale challenges")
		}
		return nil
	}
	return p.serve(ctx, sc, active)
}

func (p *Protection) serve(ctx context.Context, sc *security.Context, active *challenge.Challenge) *Verdict {
	sc.AddFlag(security.FlagChallenged)
	action := security.ResolutionChallenged
	if active.Type == challenge.TypeBlock {
		action = security.ResolutionBlocked
	}
	p.events.Log(ctx, security.EventChallengeServed, security.SeverityLow,
		map[string]interface{}{"challenge_id": active.ID, "type": active.Type},
		&security.Resolution{Action: action, Reason: "pending challenge"})
	return challenged(active, nil)
}

// submission reports whether req is a challenge response: a POST whose JSON
// body carries challengeId.
func (p *Protection) submission(req Request) (string, challenge.Response, bool) {
	if !strings.EqualFold(req.Method, "POST") || len(req.Body) == 0 {
		return "", challenge.Response{}, false
	}
	parser := p.parsers.Get()
	defer p.parsers.Put(parser)

	v, err := parser.ParseBytes(req.Body)
	if err != nil {
		return "", challenge.Response{}, false
	}
	id := string(v.GetStringBytes("challengeId"))
	if id == "" {
		return "", challenge.Response{}, false
	}
	return id, challenge.Response{
		Answer: scalar(v.Get("answer")),
		Token:  string(v.GetStringBytes("token")),
	}, true
}

func scalar(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.String()
	default:
		return ""
	}
}

func (p *Protection) verify(ctx context.Context, ip, id string, resp challenge.Response) *Verdict {
	result, err := p.challenges.Verify(ctx, ip, id, resp)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"ip":           ip,
			"challenge_id": id,
		}).Error("failed to verify challenge")
		return verification(challenge.Result{Error: "verification unavailable"})
	}
	if result.Success {
		p.events.Log(ctx, security.EventChallengePassed, security.SeverityLow,
			map[string]interface{}{"challenge_id": id, "attempts": result.Attempts},
			&security.Resolution{Action: security.ResolutionAllowed, Reason: "challenge passed"})
	} else {
		p.events.Log(ctx, security.EventChallengeFailed, security.SeverityMedium,
			map[string]interface{}{"challenge_id": id, "attempts": result.Attempts, "state": result.State},
			&security.Resolution{Action: security.ResolutionChallenged, Reason: result.Error})
	}
	return verification(result)
}

func (p *Protection) analyze(ctx context.Context, sc *security.Context, req Request) *security.ThreatAnalysis {
	if p.analyzer == nil {
		return nil
	}
	pattern := security.RequestPattern{
		IP:        sc.IP,
		UserAgent: sc.UserAgent,
		Path:      req.Path,
		Method:    req.Method,
		Timestamp: p.now(),
		Headers:   req.Headers,
	}
	analysis, err := p.analyzer.Analyze(ctx, pattern)
	if err != nil {
		p.logger.WithError(err).WithField("ip", sc.IP).Warn("threat analysis failed")
		return nil
	}
	if analysis.Pattern != nil {
		sc.UpdateThreatScore(analysis.Pattern.Score)
	}
	if injection := injectionIndicators(analysis); len(injection) > 0 {
		p.events.Log(ctx, security.EventInjectionAttempt, security.SeverityHigh,
			map[string]interface{}{"indicators": injection, "confidence": analysis.Confidence},
			&security.Resolution{Action: security.ResolutionLogged, Reason: "signature match"})
	}
	return analysis
}

func injectionIndicators(analysis *security.ThreatAnalysis) []string {
	var out []string
	for _, indicator := range analysis.Indicators {
		switch indicator.Type {
		case threat.IndicatorSQLInjection, threat.IndicatorXSS,
			threat.IndicatorPathTraversal, threat.IndicatorCommandInjection:
			out = append(out, indicator.Type)
		}
	}
	return out
}

// riskScore is the pattern score, raised to the detector confidence when
// that is higher.
func riskScore(analysis *security.ThreatAnalysis) int {
	if analysis == nil {
		return 0
	}
	score := 0
	if analysis.Pattern != nil {
		score = analysis.Pattern.Score
	}
	if c := int(analysis.Confidence * 100); c > score {
		score = c
	}
	return security.ClampScore(score)
}

func patternScore(analysis *security.ThreatAnalysis) int {
	if analysis == nil || analysis.Pattern == nil {
		return 0
	}
	return analysis.Pattern.Score
}

func (p *Protection) recommend(
	ctx context.Context,
	s *settings,
	sc *security.Context,
	score int,
	analysis *security.ThreatAnalysis,
) *Verdict {
	recommendation := security.RecommendAllow
	if analysis.Pattern != nil {
		recommendation = analysis.Pattern.Recommendation
	}

	details := map[string]interface{}{
		"threat_score": score,
		"level":        analysis.Level,
	}
	if analysis.Pattern != nil {
		details["factors"] = analysis.Pattern.Factors
	}

	switch {
	case analysis.ShouldBlock || recommendation == security.RecommendBlock:
		sc.AddFlag(security.FlagSuspicious)
		p.events.Log(ctx, security.EventSuspiciousPattern, security.SeverityHigh, details,
			&security.Resolution{Action: security.ResolutionBlocked, Reason: string(domain.ReasonDDoSBlock)})
		return p.issue(ctx, sc, challenge.TypeBlock, score, analysis)
	case analysis.ShouldChallenge || recommendation == security.RecommendChallenge:
		sc.AddFlag(security.FlagSuspicious)
		typ := selectType(s, patternScore(analysis))
		p.events.Log(ctx, security.EventSuspiciousPattern, security.SeverityMedium, details,
			&security.Resolution{Action: security.ResolutionChallenged, Reason: string(typ)})
		return p.issue(ctx, sc, typ, score, analysis)
	}
	return nil
}

func selectType(s *settings, score int) challenge.Type {
	if !s.cfg.Challenges.Enabled {
		return challenge.TypeRateLimit
	}
	switch {
	case score > 70 && s.typeEnabled(challenge.TypeCaptcha):
		return challenge.TypeCaptcha
	case score > 50 && s.typeEnabled(challenge.TypeJS):
		return challenge.TypeJS
	case s.typeEnabled(challenge.TypeRateLimit):
		return challenge.TypeRateLimit
	default:
		return challenge.TypeBlock
	}
}

// issue creates a challenge. A nil verdict means creation failed and the
// request is let through.
func (p *Protection) issue(
	ctx context.Context,
	sc *security.Context,
	typ challenge.Type,
	score int,
	analysis *security.ThreatAnalysis,
) *Verdict {
	ch, err := p.challenges.Create(ctx, sc.IP, typ, score)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"ip":   sc.IP,
			"type": typ,
		}).Error("failed to issue challenge, allowing request")
		return nil
	}
	sc.AddFlag(security.FlagChallenged)
	return challenged(ch, analysis)
}

func (p *Protection) connections(ctx context.Context, ip string) int64 {
	raw, err := p.store.Get(ctx, connectionKey(ip))
	if errors.Is(err, cache.ErrNotFound) {
		return 0
	}
	if err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to read connection count")
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p *Protection) track(ctx context.Context, ip string) bool {
	if _, err := p.store.IncrWithExpiry(ctx, connectionKey(ip), common.ConnectionTrackTTL); err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to track connection")
		return false
	}
	if prometheus.Config.EnableConnections {
		prometheus.TrackedConnections.Inc()
	}
	return true
}

// Release gives back the connection slot taken by a tracked request.
func (p *Protection) Release(ctx context.Context, ip string) {
	n, err := p.store.Decr(ctx, connectionKey(ip))
	if err != nil {
		p.logger.WithError(err).WithField("ip", ip).Warn("failed to release connection")
		return
	}
	if prometheus.Config.EnableConnections {
		prometheus.TrackedConnections.Dec()
	}
	if n <= 0 {
		if err := p.store.Delete(ctx, connectionKey(ip)); err != nil {
			p.logger.WithError(err).WithField("ip", ip).Debug("failed to drop connection counter")
		}
	}
}
