package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/monitoring"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRuleID = "default"
	defaultPrefix = "default:"
)

type ruleSet struct {
	rules []*Rule
}

func (s *ruleSet) match(req Request) *Rule {
	for _, rule := range s.rules {
		if rule.Matches(req) {
			return rule
		}
	}
	return nil
}

type Decision struct {
	RuleID string
	Key    string
	Result Result
}

type Usage struct {
	RuleID    string `json:"rule_id"`
	Key       string `json:"key"`
	Limit     int    `json:"limit"`
	Current   int    `json:"current"`
	Remaining int    `json:"remaining"`
	ResetTime int64  `json:"reset_time"`
}

// RulesEngine picks the limiter for a request from a prioritized rule set.
// The active set is swapped atomically on reload, so a request always sees
// one complete set.
type RulesEngine struct {
	store  *BucketStore
	def    *Limiter
	active atomic.Pointer[ruleSet]
	events monitoring.EventLogger
	logger *logrus.Logger
	now    func() time.Time
}

type RulesEngineDI struct {
	Store        *BucketStore
	Default      config.LimitConfig
	Rules        []config.RuleConfig
	Events       monitoring.EventLogger
	Logger       *logrus.Logger
	TimeProvider func() time.Time
}

func NewRulesEngine(di RulesEngineDI) (*RulesEngine, error) {
	if di.Default.WindowMs <= 0 || di.Default.Max <= 0 {
		return nil, fmt.Errorf("%w: default limiter needs positive window_ms and max", ErrInvalidRule)
	}
	now := di.TimeProvider
	if now == nil {
		now = time.Now
	}
	events := di.Events
	if events == nil {
		events = monitoring.NewNoopEventLogger()
	}
	e := &RulesEngine{
		store:  di.Store,
		events: events,
		logger: di.Logger,
		now:    now,
	}
	e.def = NewLimiter(di.Store, LimiterOpts{
		WindowMs:     di.Default.WindowMs,
		Max:          di.Default.Max,
		Prefix:       defaultPrefix,
		TimeProvider: now,
	})
	set, err := e.build(di.Rules)
	if err != nil {
		return nil, err
	}
	e.active.Store(set)
	return e, nil
}

func (e *RulesEngine) build(configs []config.RuleConfig) (*ruleSet, error) {
	seen := make(map[string]struct{}, len(configs))
	rules := make([]*Rule, 0, len(configs))
	for i, cfg := range configs {
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		if !cfg.Enabled {
			continue
		}
		rule, err := compileRule(cfg, i)
		if err != nil {
			return nil, err
		}
		rule.limiter = NewLimiter(e.store, LimiterOpts{
			WindowMs:     cfg.WindowMs,
			Max:          cfg.Max,
			Prefix:       "rule:" + cfg.ID + ":",
			TimeProvider: e.now,
		})
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].order < rules[j].order
	})
	return &ruleSet{rules: rules}, nil
}

// Evaluate returns the highest priority matching rule, or nil when the
// default limiter applies.
func (e *RulesEngine) Evaluate(req Request) *Rule {
	return e.active.Load().match(req)
}

func (e *RulesEngine) limiterFor(req Request) (string, *Limiter) {
	if rule := e.Evaluate(req); rule != nil {
		return rule.ID, rule.limiter
	}
	return DefaultRuleID, e.def
}

// Apply counts the request against its limiter and returns
// *domain.RateLimitExceeded when the limit is exceeded.
func (e *RulesEngine) Apply(ctx context.Context, req Request) (*Decision, error) {
	ruleID, limiter := e.limiterFor(req)
	key := identity(req)

	result, err := limiter.Consume(ctx, key)
	prometheus.RateLimitDecisionsTotal.WithLabelValues(ruleID, strconv.FormatBool(result.Allowed)).Inc()

	decision := &Decision{
		RuleID: ruleID,
		Key:    limiter.key(key),
		Result: result,
	}
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"rule_id": ruleID,
			"key":     decision.Key,
			"current": result.Info.TotalHits,
			"limit":   result.Info.Limit,
		}).Info("rate limit exceeded")
		e.events.Log(ctx, security.EventRateLimitExceeded, security.SeverityMedium, map[string]interface{}{
			"rule_id": ruleID,
			"key":     decision.Key,
			"limit":   result.Info.Limit,
			"current": result.Info.TotalHits,
			"path":    req.Path,
			"method":  req.Method,
		}, &security.Resolution{Action: security.ResolutionBlocked, Reason: "rate limit exceeded"})
		return decision, err
	}
	return decision, nil
}

// Usage reports the request's current standing without consuming quota.
func (e *RulesEngine) Usage(ctx context.Context, req Request) Usage {
	ruleID, limiter := e.limiterFor(req)
	key := identity(req)
	result := limiter.Peek(ctx, key)
	return Usage{
		RuleID:    ruleID,
		Key:       limiter.key(key),
		Limit:     result.Info.Limit,
		Current:   result.Info.TotalHits,
		Remaining: result.Remaining,
		ResetTime: result.Info.ResetTime,
	}
}

func (e *RulesEngine) Reset(ctx context.Context, req Request) error {
	_, limiter := e.limiterFor(req)
	return limiter.Reset(ctx, identity(req))
}

func (e *RulesEngine) ResetAll(ctx context.Context) error {
	return e.store.ResetAll(ctx)
}

// Reload replaces the active rule set. On error the previous set stays.
func (e *RulesEngine) Reload(configs []config.RuleConfig) error {
	set, err := e.build(configs)
	if err != nil {
		return err
	}
	e.active.Store(set)
	e.logger.WithField("rules", len(set.rules)).Info("rate limit rules reloaded")
	return nil
}

func (e *RulesEngine) Default() config.LimitConfig {
	return config.LimitConfig{WindowMs: e.def.WindowMs(), Max: e.def.Max()}
}

// Rules lists the enabled rules in evaluation order.
func (e *RulesEngine) Rules() []config.RuleConfig {
	set := e.active.Load()
	out := make([]config.RuleConfig, 0, len(set.rules))
	for _, rule := range set.rules {
		out = append(out, rule.RuleConfig)
	}
	return out
}
