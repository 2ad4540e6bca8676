package pattern

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/avct/uasurfer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	FactorFrequency = "frequency"
	FactorUserAgent = "user_agent"
	FactorPath      = "path_pattern"
	FactorHeaders   = "headers"
	FactorMethodMix = "method_mix"

	freqPrefix    = "pattern:freq:"
	pathsPrefix   = "pattern:paths:"
	methodsPrefix = "pattern:methods:"

	freqHistory    = 1000
	pathHistory    = 100
	methodHistory  = 50
	frequencyRange = time.Minute

	blockScore                = 80
	DefaultChallengeThreshold = 50
)

var (
	attackToolUA = regexp.MustCompile(`(?i)sqlmap|nikto|havij|commix|metasploit|arachni|joomla|libwww-perl|masscan|nmap`)
	genericBotUA = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|curl|wget|python|java|ruby|go-http-client`)

	sensitivePath = regexp.MustCompile(`(?i)/admin|/api/internal|/\.env|/config|/\.git|/wp-admin|/phpmyadmin`)

	headerInjection = regexp.MustCompile(`(?i)<script|javascript:|onerror=|select.*from|union.*select`)

	expectedHeaders = []string{"host", "accept", "accept-language"}
)

type Analyzer interface {
	Analyze(ctx context.Context, p security.RequestPattern) (*security.ThreatScore, error)
}

type AnalyzerDI struct {
	Store              cache.Store
	Logger             *logrus.Logger
	ChallengeThreshold int
	TimeProvider       func() time.Time
}

type analyzer struct {
	store              cache.Store
	logger             *logrus.Logger
	challengeThreshold int
	now                func() time.Time
}

// NewAnalyzer returns a heuristic scorer that keeps short per-IP histories of
// request times, paths and methods in the store.
func NewAnalyzer(di AnalyzerDI) Analyzer {
	threshold := di.ChallengeThreshold
	if threshold <= 0 {
		threshold = DefaultChallengeThreshold
	}
	now := di.TimeProvider
	if now == nil {
		now = time.Now
	}
	return &analyzer{
		store:              di.Store,
		logger:             di.Logger,
		challengeThreshold: threshold,
		now:                now,
	}
}

func (a *analyzer) Analyze(ctx context.Context, p security.RequestPattern) (*security.ThreatScore, error) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	var (
		mu      sync.Mutex
		factors = make(map[string]security.ThreatFactor, 5)
	)
	collect := func(f security.ThreatFactor) {
		if f.Weight <= 0 {
			return
		}
		mu.Lock()
		factors[f.Name] = f
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collect(a.frequency(gctx, p.IP, ts))
		return nil
	})
	g.Go(func() error {
		collect(a.paths(gctx, p.IP, p.Path))
		return nil
	})
	g.Go(func() error {
		collect(a.methods(gctx, p.IP, p.Method))
		return nil
	})
	collect(userAgentFactor(p.UserAgent))
	collect(headerFactor(p.Headers))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	score := &security.ThreatScore{Factors: make([]security.ThreatFactor, 0, len(factors))}
	total := 0
	for _, name := range []string{FactorFrequency, FactorUserAgent, FactorPath, FactorHeaders, FactorMethodMix} {
		if f, ok := factors[name]; ok {
			score.Factors = append(score.Factors, f)
			total += f.Weight
		}
	}
	score.Score = security.ClampScore(total)
	score.Recommendation = a.recommend(score.Score)
	prometheus.ThreatScore.Observe(float64(score.Score))
	return score, nil
}

func (a *analyzer) recommend(score int) security.Recommendation {
	switch {
	case score >= blockScore:
		return security.RecommendBlock
	case score >= a.challengeThreshold:
		return security.RecommendChallenge
	default:
		return security.RecommendAllow
	}
}

// history records value and returns the newest limit entries. A store
// failure yields no history.
func (a *analyzer) history(ctx context.Context, key, value string, limit int64) []string {
	if err := a.store.PushCapped(ctx, key, value, limit, common.PatternHistoryTTL); err != nil {
		a.logger.WithError(err).WithField("key", key).Debug("failed to record pattern history")
		return nil
	}
	entries, err := a.store.Range(ctx, key, limit)
	if err != nil {
		a.logger.WithError(err).WithField("key", key).Debug("failed to read pattern history")
		return nil
	}
	return entries
}

func (a *analyzer) frequency(ctx context.Context, ip string, ts time.Time) security.ThreatFactor {
	entries := a.history(ctx, freqPrefix+ip, strconv.FormatInt(ts.UnixMilli(), 10), freqHistory)
	windowStart := ts.Add(-frequencyRange).UnixMilli()
	inWindow := 0
	for _, e := range entries {
		v, err := strconv.ParseInt(e, 10, 64)
		if err == nil && v > windowStart {
			inWindow++
		}
	}
	rps := float64(inWindow) / frequencyRange.Seconds()

	f := security.ThreatFactor{Name: FactorFrequency}
	switch {
	case rps > 10:
		f.Weight, f.Description = 40, fmt.Sprintf("very high request rate: %.1f req/s", rps)
	case rps > 5:
		f.Weight, f.Description = 20, fmt.Sprintf("high request rate: %.1f req/s", rps)
	case rps > 2:
		f.Weight, f.Description = 10, fmt.Sprintf("elevated request rate: %.1f req/s", rps)
	}
	return f
}

func (a *analyzer) paths(ctx context.Context, ip, path string) security.ThreatFactor {
	entries := a.history(ctx, pathsPrefix+ip, path, pathHistory)
	unique := make(map[string]struct{}, len(entries))
	sensitive := 0
	for _, e := range entries {
		unique[e] = struct{}{}
		if sensitivePath.MatchString(e) {
			sensitive++
		}
	}

	f := security.ThreatFactor{Name: FactorPath}
	var issues []string
	if len(unique) > 50 {
		f.Weight += 30
		issues = append(issues, fmt.Sprintf("path scanning: %d unique paths", len(unique)))
	}
	if sensitive >= 5 {
		f.Weight += 40
		issues = append(issues, fmt.Sprintf("sensitive path attempts: %d", sensitive))
	}
	f.Description = strings.Join(issues, "; ")
	return f
}

func (a *analyzer) methods(ctx context.Context, ip, method string) security.ThreatFactor {
	entries := a.history(ctx, methodsPrefix+ip, strings.ToUpper(method), methodHistory)
	unusual := 0
	for _, m := range entries {
		if m != "GET" && m != "POST" {
			unusual++
		}
	}
	f := security.ThreatFactor{Name: FactorMethodMix}
	if unusual > 10 {
		f.Weight = 30
		f.Description = fmt.Sprintf("excessive unusual methods: %d", unusual)
	}
	return f
}

func userAgentFactor(ua string) security.ThreatFactor {
	f := security.ThreatFactor{Name: FactorUserAgent}
	ua = strings.TrimSpace(ua)
	switch {
	case ua == "":
		f.Weight, f.Description = 30, "missing user agent"
	case attackToolUA.MatchString(ua):
		f.Weight, f.Description = 40, "attack tool user agent"
	case genericBotUA.MatchString(ua) || uasurfer.Parse(ua).IsBot():
		f.Weight, f.Description = 20, "bot user agent"
	}
	return f
}

func headerFactor(headers map[string]string) security.ThreatFactor {
	f := security.ThreatFactor{Name: FactorHeaders}
	var issues []string

	var missing []string
	for _, h := range expectedHeaders {
		if headers[h] == "" {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		f.Weight += 10 * len(missing)
		issues = append(issues, "missing headers: "+strings.Join(missing, ", "))
	}

	if xff := headers["x-forwarded-for"]; xff != "" && len(strings.Split(xff, ",")) > 5 {
		f.Weight += 20
		issues = append(issues, "excessive proxy chain")
	}

	for name, value := range headers {
		if headerInjection.MatchString(value) {
			f.Weight += 50
			issues = append(issues, "injection attempt in header "+name)
			break
		}
	}

	f.Description = strings.Join(issues, "; ")
	return f
}
