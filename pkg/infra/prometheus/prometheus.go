package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	latencyBuckets = []float64{
		1, 5, 10, 25,
		50, 100, 250,
		500, 1000, 2500,
	}

	scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	RequestsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "status"},
	)

	RequestLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustshield_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: latencyBuckets,
		},
		[]string{"method"},
	)

	ProtectionDecisionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_protection_decisions_total",
			Help: "DDoS protection verdicts by action and reason",
		},
		[]string{"action", "reason"},
	)

	RateLimitDecisionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_rate_limit_decisions_total",
			Help: "Rate limit decisions by rule",
		},
		[]string{"rule", "allowed"},
	)

	StoreFallbackTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_store_fallback_total",
			Help: "Operations served by the in-process fallback after a store failure",
		},
		[]string{"component"},
	)

	SecurityEventsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_security_events_total",
			Help: "Security events logged by type and severity",
		},
		[]string{"type", "severity"},
	)

	ChallengesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustshield_challenges_total",
			Help: "Challenges issued and verified by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ThreatScore = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustshield_threat_score",
			Help:    "Distribution of pattern threat scores",
			Buckets: scoreBuckets,
		},
	)

	TrackedConnections = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "trustshield_tracked_connections",
			Help: "Requests currently tracked by the concurrency guard on this instance",
		},
	)
)

type MetricsConfig struct {
	EnableConnections bool
}

var (
	Config   MetricsConfig
	initOnce sync.Once
)

// Initialize adds the runtime collectors and makes the private registry the
// default one served by promhttp.
func Initialize(cfg MetricsConfig) {
	Config = cfg
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
		prometheus.DefaultRegisterer = registry
		prometheus.DefaultGatherer = registry
	})
}
