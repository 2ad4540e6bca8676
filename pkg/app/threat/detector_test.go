package threat_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/threat"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type staticAnalyzer struct {
	score int
	err   error
}

func (a staticAnalyzer) Analyze(context.Context, security.RequestPattern) (*security.ThreatScore, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &security.ThreatScore{Score: a.score, Recommendation: security.RecommendAllow}, nil
}

type detectorOpts struct {
	score   int
	stdDevs float64
}

func newDetector(store cache.Store, opts detectorOpts) *threat.Detector {
	return threat.NewDetector(threat.DetectorDI{
		Analyzer:       staticAnalyzer{score: opts.score},
		Store:          store,
		Logger:         newLogger(),
		AnomalyStdDevs: opts.stdDevs,
		TimeProvider:   clock,
	})
}

func browserPattern(path string) security.RequestPattern {
	return security.RequestPattern{
		IP:        "1.2.3.4",
		UserAgent: browserUA,
		Path:      path,
		Method:    "GET",
		Timestamp: now,
		Headers: map[string]string{
			"host":            "example.com",
			"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"accept-language": "en-US,en;q=0.5",
			"user-agent":      browserUA,
		},
	}
}

func types(a *security.ThreatAnalysis) []string {
	out := make([]string, 0, len(a.Indicators))
	for _, i := range a.Indicators {
		out = append(out, i.Type)
	}
	return out
}

func TestDetector_CleanRequest(t *testing.T) {
	d := newDetector(cache.NewMemoryStore(100), detectorOpts{})

	analysis, err := d.Analyze(context.Background(), browserPattern("/products/42"))
	require.NoError(t, err)
	assert.Empty(t, analysis.Indicators)
	assert.Equal(t, security.ThreatLow, analysis.Level)
	assert.False(t, analysis.ShouldBlock)
	assert.False(t, analysis.ShouldChallenge)
	assert.False(t, analysis.ShouldAlert)
	assert.Empty(t, analysis.Recommendations)
}

func TestDetector_Signatures(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		header    string
		indicator string
		level     security.ThreatLevel
	}{
		{"sql in path", "/items/1 OR 1=1", "", threat.IndicatorSQLInjection, security.ThreatHigh},
		{"encoded sql in path", "/search/1%20OR%201%3D1", "", threat.IndicatorSQLInjection, security.ThreatHigh},
		{"union select in header", "/", "1 UNION SELECT name FROM users", threat.IndicatorSQLInjection, security.ThreatHigh},
		{"xss in header", "/", "<script>alert(1)</script>", threat.IndicatorXSS, security.ThreatHigh},
		{"event handler in path", "/img%20onerror=alert(1)", "", threat.IndicatorXSS, security.ThreatHigh},
		{"traversal", "/static/../../etc/passwd", "", threat.IndicatorPathTraversal, security.ThreatHigh},
		{"encoded traversal", "/static/..%2F..%2Fetc/passwd", "", threat.IndicatorPathTraversal, security.ThreatHigh},
		{"command chain", "/ping;cat%20/etc/passwd", "", threat.IndicatorCommandInjection, security.ThreatHigh},
		{"command substitution", "/", "$(whoami)", threat.IndicatorCommandInjection, security.ThreatHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := browserPattern(tt.path)
			if tt.header != "" {
				p.Headers["referer"] = tt.header
			}
			analysis, err := newDetector(cache.NewMemoryStore(100), detectorOpts{}).Analyze(context.Background(), p)
			require.NoError(t, err)
			assert.True(t, analysis.HasIndicator(tt.indicator), "indicators: %v", types(analysis))
			assert.Equal(t, tt.level, analysis.Level)
			assert.True(t, analysis.ShouldChallenge)
			assert.True(t, analysis.ShouldAlert)
			assert.False(t, analysis.ShouldBlock)
		})
	}
}

func TestDetector_TraversalIsOnlyCheckedInPath(t *testing.T) {
	p := browserPattern("/")
	p.Headers["referer"] = "../../etc/passwd"

	analysis, err := newDetector(cache.NewMemoryStore(100), detectorOpts{}).Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, analysis.HasIndicator(threat.IndicatorPathTraversal))
}

func TestDetector_OneIndicatorPerFamily(t *testing.T) {
	p := browserPattern("/q/1 or 1=1 union select a from b")
	p.Headers["referer"] = "' or ''='"
	p.Headers["x-other"] = "drop table users"

	analysis, err := newDetector(cache.NewMemoryStore(100), detectorOpts{}).Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{threat.IndicatorSQLInjection}, types(analysis))
	assert.Equal(t, []string{
		"enable SQL injection protection in the WAF",
		"review and parameterize SQL queries",
		"monitor closely and prepare incident response",
		"enable additional security challenges",
	}, analysis.Recommendations)
}

func TestDetector_PatternScoreDrivesLevel(t *testing.T) {
	tests := []struct {
		score int
		level security.ThreatLevel
		block bool
	}{
		{score: 20, level: security.ThreatLow},
		{score: 50, level: security.ThreatMedium},
		{score: 70, level: security.ThreatHigh},
		{score: 90, level: security.ThreatCritical, block: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.score), func(t *testing.T) {
			d := newDetector(cache.NewMemoryStore(100), detectorOpts{score: tt.score})
			analysis, err := d.Analyze(context.Background(), browserPattern("/"))
			require.NoError(t, err)
			assert.Equal(t, tt.level, analysis.Level)
			assert.Equal(t, tt.block, analysis.ShouldBlock)
			assert.InDelta(t, float64(tt.score)/100, analysis.Confidence, 1e-9)
		})
	}
}

func TestDetector_ShortUserAgent(t *testing.T) {
	d := newDetector(cache.NewMemoryStore(100), detectorOpts{})

	p := browserPattern("/")
	p.UserAgent = "curl/8"
	analysis, err := d.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, analysis.HasIndicator(threat.IndicatorUserAgent))
	assert.Equal(t, security.ThreatMedium, analysis.Level)

	p.UserAgent = ""
	analysis, err = d.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, analysis.HasIndicator(threat.IndicatorUserAgent))
}

func learn(t *testing.T, d *threat.Detector, n int, path func(i int) string) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, d.Learn(context.Background(), security.Event{
			Type:      security.EventChallengeIssued,
			IP:        "1.2.3.4",
			Path:      path(i),
			Timestamp: now.Add(-time.Duration(i) * 100 * time.Millisecond),
		}))
	}
}

func TestDetector_RateAnomaly(t *testing.T) {
	samePath := func(int) string { return "/" }

	d := newDetector(cache.NewMemoryStore(100, cache.WithClock(clock)), detectorOpts{})
	learn(t, d, 150, samePath)
	analysis, err := d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.False(t, analysis.HasIndicator(threat.IndicatorRateAnomaly))

	learn(t, d, 1, samePath)
	analysis, err = d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.True(t, analysis.HasIndicator(threat.IndicatorRateAnomaly))
	assert.Contains(t, analysis.Recommendations, "apply stricter rate limits to this IP")
}

func TestDetector_AnomalyThresholdIsConfigurable(t *testing.T) {
	d := newDetector(cache.NewMemoryStore(100, cache.WithClock(clock)), detectorOpts{stdDevs: 1})
	learn(t, d, 91, func(int) string { return "/" })

	analysis, err := d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.True(t, analysis.HasIndicator(threat.IndicatorRateAnomaly))
}

func TestDetector_PathScanning(t *testing.T) {
	d := newDetector(cache.NewMemoryStore(100, cache.WithClock(clock)), detectorOpts{})
	learn(t, d, 11, func(i int) string { return fmt.Sprintf("/p/%d", i) })

	analysis, err := d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.False(t, analysis.HasIndicator(threat.IndicatorPathScanning))

	learn(t, d, 1, func(int) string { return "/p/new" })
	analysis, err = d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.True(t, analysis.HasIndicator(threat.IndicatorPathScanning))
	assert.Equal(t, security.ThreatHigh, analysis.Level)
}

func seed(t *testing.T, d *threat.Detector, ip string, adverse, benign int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < adverse; i++ {
		require.NoError(t, d.Learn(ctx, security.Event{IP: ip, Type: security.EventRateLimitExceeded, Timestamp: now.Add(-time.Hour)}))
	}
	for i := 0; i < benign; i++ {
		require.NoError(t, d.Learn(ctx, security.Event{IP: ip, Type: security.EventChallengePassed, Timestamp: now.Add(-time.Hour)}))
	}
}

func TestDetector_Reputation(t *testing.T) {
	tests := []struct {
		name       string
		seed       func(t *testing.T, d *threat.Detector)
		fires      bool
		confidence float64
	}{
		{"too few events", func(t *testing.T, d *threat.Detector) { seed(t, d, "1.2.3.4", 10, 0) }, false, 0},
		{"too few adverse", func(t *testing.T, d *threat.Detector) { seed(t, d, "1.2.3.4", 5, 20) }, false, 0},
		{"ratio", func(t *testing.T, d *threat.Detector) { seed(t, d, "1.2.3.4", 6, 6) }, true, 0.5},
		{"capped", func(t *testing.T, d *threat.Detector) { seed(t, d, "1.2.3.4", 30, 0) }, true, 0.9},
		{"other ips ignored", func(t *testing.T, d *threat.Detector) {
			seed(t, d, "9.9.9.9", 30, 0)
			seed(t, d, "1.2.3.4", 2, 0)
		}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(cache.NewMemoryStore(100, cache.WithClock(clock)), detectorOpts{})
			tt.seed(t, d)
			analysis, err := d.Analyze(context.Background(), browserPattern("/"))
			require.NoError(t, err)
			require.Equal(t, tt.fires, analysis.HasIndicator(threat.IndicatorReputation))
			if tt.fires {
				assert.InDelta(t, tt.confidence, analysis.Confidence, 1e-9)
			}
		})
	}
}

func TestDetector_ReputationCanBlock(t *testing.T) {
	d := newDetector(cache.NewMemoryStore(100, cache.WithClock(clock)), detectorOpts{})
	seed(t, d, "1.2.3.4", 30, 0)

	analysis, err := d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.True(t, analysis.ShouldBlock)
	assert.Equal(t, security.ThreatCritical, analysis.Level)
	assert.Contains(t, analysis.Recommendations, "consider blocking this IP permanently")
}

// countingStore counts the reads one analysis issues.
type countingStore struct {
	*cache.MemoryStore
	gets   atomic.Int32
	ranges atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) (string, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) Range(ctx context.Context, key string, limit int64) ([]string, error) {
	s.ranges.Add(1)
	return s.MemoryStore.Range(ctx, key, limit)
}

func TestDetector_StoreReadsDoNotGrowWithHistory(t *testing.T) {
	store := &countingStore{MemoryStore: cache.NewMemoryStore(100, cache.WithClock(clock))}
	d := newDetector(store, detectorOpts{})
	seed(t, d, "1.2.3.4", 500, 500)
	store.gets.Store(0)
	store.ranges.Store(0)

	analysis, err := d.Analyze(context.Background(), browserPattern("/"))
	require.NoError(t, err)
	assert.True(t, analysis.HasIndicator(threat.IndicatorReputation))
	assert.Equal(t, int32(2), store.gets.Load())
	assert.Equal(t, int32(2), store.ranges.Load())
}

func TestDetector_AnalyzerError(t *testing.T) {
	d := threat.NewDetector(threat.DetectorDI{
		Analyzer: staticAnalyzer{err: errors.New("boom")},
		Store:    cache.NewMemoryStore(10),
		Logger:   newLogger(),
	})
	_, err := d.Analyze(context.Background(), browserPattern("/"))
	assert.Error(t, err)
}

func TestDetector_Learn(t *testing.T) {
	store := cache.NewMemoryStore(100)
	d := newDetector(store, detectorOpts{})
	ctx := context.Background()

	require.NoError(t, d.Learn(ctx, security.Event{IP: "5.5.5.5", Path: "/a", Timestamp: now}))
	require.NoError(t, d.Learn(ctx, security.Event{IP: "5.5.5.5", Timestamp: now}))
	require.NoError(t, d.Learn(ctx, security.Event{Path: "/ignored"}))

	rates, err := store.Range(ctx, "threat:rate:5.5.5.5", 0)
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	paths, err := store.Range(ctx, "threat:paths:5.5.5.5", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, paths)
}
