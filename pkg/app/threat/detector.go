package threat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/pattern"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/sirupsen/logrus"
)

const (
	ratePrefix       = "threat:rate:"
	pathsPrefix      = "threat:paths:"
	reputationPrefix = "threat:reputation:"

	rateHistory = 1000
	pathHistory = 100
	rateWindow  = time.Minute

	DefaultStdDevs = 3
)

type DetectorDI struct {
	Analyzer       pattern.Analyzer
	Store          cache.Store
	Baseline       BaselineProvider
	Logger         *logrus.Logger
	AnomalyStdDevs float64
	TimeProvider   func() time.Time
}

// Detector combines the pattern score with signature, anomaly and reputation
// indicators.
type Detector struct {
	analyzer pattern.Analyzer
	store    cache.Store
	baseline BaselineProvider
	logger   *logrus.Logger
	stdDevs  float64
	now      func() time.Time
}

func NewDetector(di DetectorDI) *Detector {
	d := &Detector{
		analyzer: di.Analyzer,
		store:    di.Store,
		baseline: di.Baseline,
		logger:   di.Logger,
		stdDevs:  di.AnomalyStdDevs,
		now:      di.TimeProvider,
	}
	if d.baseline == nil {
		d.baseline = DefaultBaseline
	}
	if d.stdDevs <= 0 {
		d.stdDevs = DefaultStdDevs
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

func reputationKeys(ip string) (total, adverse string) {
	return reputationPrefix + ip + ":total", reputationPrefix + ip + ":adverse"
}

func (d *Detector) Analyze(ctx context.Context, p security.RequestPattern) (*security.ThreatAnalysis, error) {
	score, err := d.analyzer.Analyze(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze request pattern: %w", err)
	}

	indicators := make([]security.ThreatIndicator, 0)
	indicators = append(indicators, signatureIndicators(p)...)
	indicators = append(indicators, d.anomalyIndicators(ctx, p)...)
	if rep, ok := d.reputation(ctx, p.IP); ok {
		indicators = append(indicators, rep)
	}

	confidence := float64(score.Score) / 100
	for _, i := range indicators {
		confidence = math.Max(confidence, i.Confidence)
	}
	level := levelFor(confidence)

	return &security.ThreatAnalysis{
		Pattern:         score,
		Indicators:      indicators,
		Confidence:      confidence,
		Level:           level,
		ShouldBlock:     level == security.ThreatCritical || confidence >= 0.9,
		ShouldChallenge: level == security.ThreatHigh || confidence >= 0.7,
		ShouldAlert:     level == security.ThreatHigh || level == security.ThreatCritical,
		Recommendations: recommendations(indicators, level),
	}, nil
}

func levelFor(confidence float64) security.ThreatLevel {
	switch {
	case confidence >= 0.9:
		return security.ThreatCritical
	case confidence >= 0.7:
		return security.ThreatHigh
	case confidence >= 0.5:
		return security.ThreatMedium
	default:
		return security.ThreatLow
	}
}

func signatureIndicators(p security.RequestPattern) []security.ThreatIndicator {
	paths := pathVariants(p.Path)
	headers := make([]string, 0, len(p.Headers))
	for _, v := range p.Headers {
		headers = append(headers, v)
	}

	var out []security.ThreatIndicator
	for _, family := range signatureFamilies {
		hit := family.matches(paths)
		if !hit && !family.pathOnly {
			hit = family.matches(headers)
		}
		if hit {
			out = append(out, security.ThreatIndicator{
				Type:        family.name,
				Confidence:  family.confidence,
				Description: family.description,
			})
		}
	}
	return out
}

func (d *Detector) anomalyIndicators(ctx context.Context, p security.RequestPattern) []security.ThreatIndicator {
	var out []security.ThreatIndicator

	baseline, err := d.baseline.Baseline(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("failed to load traffic baseline")
	} else {
		rate := d.requestRate(ctx, p.IP)
		if limit := baseline.AvgRequestRate + d.stdDevs*baseline.StdRequestRate; rate > limit {
			out = append(out, security.ThreatIndicator{
				Type:        IndicatorRateAnomaly,
				Confidence:  0.6,
				Description: fmt.Sprintf("request rate %.1f req/s exceeds %.1f", rate, limit),
			})
		}
		diversity := d.pathDiversity(ctx, p.IP)
		if limit := baseline.AvgPathDiversity + d.stdDevs*baseline.StdPathDiversity; float64(diversity) > limit {
			out = append(out, security.ThreatIndicator{
				Type:        IndicatorPathScanning,
				Confidence:  0.7,
				Description: fmt.Sprintf("%d distinct paths exceeds %.1f", diversity, limit),
			})
		}
	}

	if p.UserAgent != "" && len(p.UserAgent) < 10 {
		out = append(out, security.ThreatIndicator{
			Type:        IndicatorUserAgent,
			Confidence:  0.5,
			Description: "unusually short user agent",
		})
	}
	return out
}

func (d *Detector) requestRate(ctx context.Context, ip string) float64 {
	entries, err := d.store.Range(ctx, ratePrefix+ip, rateHistory)
	if err != nil {
		d.logger.WithError(err).WithField("ip", ip).Debug("failed to read request rate history")
		return 0
	}
	windowStart := d.now().Add(-rateWindow).UnixMilli()
	n := 0
	for _, e := range entries {
		if ts, err := strconv.ParseInt(e, 10, 64); err == nil && ts > windowStart {
			n++
		}
	}
	return float64(n) / rateWindow.Seconds()
}

func (d *Detector) pathDiversity(ctx context.Context, ip string) int {
	entries, err := d.store.Range(ctx, pathsPrefix+ip, pathHistory)
	if err != nil {
		d.logger.WithError(err).WithField("ip", ip).Debug("failed to read path history")
		return 0
	}
	unique := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		unique[e] = struct{}{}
	}
	return len(unique)
}

// reputation reads the per-IP event counters kept by Learn.
func (d *Detector) reputation(ctx context.Context, ip string) (security.ThreatIndicator, bool) {
	totalKey, adverseKey := reputationKeys(ip)
	total, err := d.counter(ctx, totalKey)
	if err != nil {
		d.logger.WithError(err).WithField("ip", ip).Debug("failed to read reputation")
		return security.ThreatIndicator{}, false
	}
	if total <= 10 {
		return security.ThreatIndicator{}, false
	}
	adverse, err := d.counter(ctx, adverseKey)
	if err != nil {
		d.logger.WithError(err).WithField("ip", ip).Debug("failed to read reputation")
		return security.ThreatIndicator{}, false
	}
	if adverse <= 5 {
		return security.ThreatIndicator{}, false
	}
	return security.ThreatIndicator{
		Type:        IndicatorReputation,
		Confidence:  math.Min(0.9, float64(adverse)/float64(total)),
		Description: fmt.Sprintf("%d of %d recent events are violations", adverse, total),
	}, true
}

func (d *Detector) counter(ctx context.Context, key string) (int64, error) {
	raw, err := d.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func recommendations(indicators []security.ThreatIndicator, level security.ThreatLevel) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(items ...string) {
		for _, item := range items {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}

	for _, i := range indicators {
		switch i.Type {
		case IndicatorSQLInjection:
			add("enable SQL injection protection in the WAF", "review and parameterize SQL queries")
		case IndicatorXSS:
			add("enable XSS protection headers", "apply a content security policy")
		case IndicatorRateAnomaly:
			add("apply stricter rate limits to this IP")
		case IndicatorReputation:
			add("consider blocking this IP permanently")
		}
	}

	switch level {
	case security.ThreatCritical:
		add("immediate action required", "enable maximum security measures")
	case security.ThreatHigh:
		add("monitor closely and prepare incident response", "enable additional security challenges")
	}
	return out
}

// Learn feeds a logged event back into the per-IP rate and path histories
// and the reputation counters.
func (d *Detector) Learn(ctx context.Context, event security.Event) error {
	if event.IP == "" {
		return nil
	}
	totalKey, adverseKey := reputationKeys(event.IP)
	if _, err := d.store.IncrWithExpiry(ctx, totalKey, common.ReputationTTL); err != nil {
		return fmt.Errorf("failed to record reputation: %w", err)
	}
	if event.Type.IsAdverse() {
		if _, err := d.store.IncrWithExpiry(ctx, adverseKey, common.ReputationTTL); err != nil {
			return fmt.Errorf("failed to record reputation: %w", err)
		}
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	err := d.store.PushCapped(ctx, ratePrefix+event.IP, strconv.FormatInt(ts.UnixMilli(), 10), rateHistory, common.ThreatHistoryTTL)
	if err != nil {
		return fmt.Errorf("failed to record request rate: %w", err)
	}
	if event.Path == "" {
		return nil
	}
	if err := d.store.PushCapped(ctx, pathsPrefix+event.IP, event.Path, pathHistory, common.ThreatHistoryTTL); err != nil {
		return fmt.Errorf("failed to record path: %w", err)
	}
	return nil
}
