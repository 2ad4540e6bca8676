package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/common"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
)

const (
	defaultRetryAfter = 60
	threatPenalty     = 10
)

type Result struct {
	Allowed   bool
	Info      security.RateLimitInfo
	Remaining int
	Fallback  bool
}

// Limiter turns bucket counts into allow/deny decisions for one window and
// limit.
type Limiter struct {
	store    *BucketStore
	windowMs int64
	max      int
	prefix   string
	now      func() time.Time
}

type LimiterOpts struct {
	WindowMs     int64
	Max          int
	Prefix       string
	TimeProvider func() time.Time
}

func NewLimiter(store *BucketStore, opts LimiterOpts) *Limiter {
	now := opts.TimeProvider
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:    store,
		windowMs: opts.WindowMs,
		max:      opts.Max,
		prefix:   opts.Prefix,
		now:      now,
	}
}

func (l *Limiter) WindowMs() int64 { return l.windowMs }

func (l *Limiter) Max() int { return l.max }

func (l *Limiter) key(key string) string {
	return l.prefix + key
}

// Check counts a hit and never fails. A security context found in ctx is
// updated with the result, and penalized when the request is denied.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	hits := l.store.Increment(ctx, l.key(key), l.windowMs)
	result := l.result(hits)

	if sc := security.FromContext(ctx); sc != nil {
		sc.SetRateLimitInfo(result.Info)
		if !result.Allowed {
			sc.AddFlag(security.FlagRateLimited)
			sc.UpdateThreatScore(threatPenalty)
		}
	}
	if !result.Allowed {
		l.store.RecordViolation(ctx, l.key(key), common.ViolationCounterTTL)
	}
	return result
}

// Consume is Check that reports a denial as *domain.RateLimitExceeded.
func (l *Limiter) Consume(ctx context.Context, key string) (Result, error) {
	result := l.Check(ctx, key)
	if result.Allowed {
		return result, nil
	}
	return result, domain.NewRateLimitExceeded(
		l.retryAfter(result.Info.ResetTime),
		l.max,
		result.Info.TotalHits,
		result.Info.ResetTime,
	)
}

// Peek reports the current usage without counting a hit.
func (l *Limiter) Peek(ctx context.Context, key string) Result {
	return l.result(l.store.Snapshot(ctx, l.key(key), l.windowMs))
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.ResetKey(ctx, l.key(key), l.windowMs)
}

func (l *Limiter) result(hits Hits) Result {
	remaining := l.max - hits.TotalHits
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed: hits.TotalHits <= l.max,
		Info: security.RateLimitInfo{
			Limit:     l.max,
			TotalHits: hits.TotalHits,
			ResetTime: hits.ResetTime,
		},
		Remaining: remaining,
		Fallback:  hits.Fallback,
	}
}

func (l *Limiter) retryAfter(resetTime int64) int {
	remainingMs := resetTime - l.now().UnixMilli()
	if remainingMs <= 0 {
		return defaultRetryAfter
	}
	return int(math.Ceil(float64(remainingMs) / 1000))
}
