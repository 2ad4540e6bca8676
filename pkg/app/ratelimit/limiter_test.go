package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(clock func() time.Time, windowMs int64, max int) *ratelimit.Limiter {
	store := ratelimit.NewBucketStore(
		cache.NewMemoryStore(1000, cache.WithClock(clock)),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: clock},
	)
	return ratelimit.NewLimiter(store, ratelimit.LimiterOpts{
		WindowMs:     windowMs,
		Max:          max,
		TimeProvider: clock,
	})
}

func TestLimiter_SixtyFirstRequestIsDenied(t *testing.T) {
	now := bucketStart
	limiter := newLimiter(fixedClock(now), minute, 60)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		result := limiter.Check(ctx, "ip:10.0.0.1")
		require.True(t, result.Allowed, "request %d should be allowed", i+1)
	}

	result := limiter.Check(ctx, "ip:10.0.0.1")
	assert.False(t, result.Allowed)
	assert.Equal(t, 61, result.Info.TotalHits)
	assert.Equal(t, now.UnixMilli()+60000, result.Info.ResetTime)
	assert.Equal(t, 0, result.Remaining)
}

func TestLimiter_TwoChecksAddExactlyTwoHits(t *testing.T) {
	clock := fixedClock(bucketStart.Add(17 * time.Second))
	limiter := newLimiter(clock, minute, 100)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		limiter.Check(ctx, "user:42")
	}
	before := limiter.Peek(ctx, "user:42").Info.TotalHits

	limiter.Check(ctx, "user:42")
	after := limiter.Check(ctx, "user:42").Info.TotalHits

	assert.Equal(t, before+2, after)
}

func TestLimiter_Consume_ReturnsRateLimitExceeded(t *testing.T) {
	now := bucketStart.Add(20 * time.Second)
	limiter := newLimiter(fixedClock(now), minute, 2)
	ctx := context.Background()

	_, err := limiter.Consume(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	_, err = limiter.Consume(ctx, "ip:1.1.1.1")
	require.NoError(t, err)

	_, err = limiter.Consume(ctx, "ip:1.1.1.1")
	require.Error(t, err)

	var exceeded *domain.RateLimitExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, 40, exceeded.RetryAfter)
	assert.Equal(t, 2, exceeded.Limit)
	assert.Equal(t, 3, exceeded.Current)
	assert.Equal(t, 429, exceeded.StatusCode())
}

func TestLimiter_Check_UpdatesSecurityContext(t *testing.T) {
	limiter := newLimiter(fixedClock(bucketStart), minute, 1)
	sc := security.NewContext("req-1", "5.5.5.5", "agent")
	ctx := security.WithContext(context.Background(), sc)

	limiter.Check(ctx, "ip:5.5.5.5")
	require.NotNil(t, sc.RateLimitInfo())
	assert.Equal(t, 1, sc.RateLimitInfo().TotalHits)
	assert.False(t, sc.HasFlag(security.FlagRateLimited))
	assert.Equal(t, 0, sc.ThreatScore())

	limiter.Check(ctx, "ip:5.5.5.5")
	assert.True(t, sc.HasFlag(security.FlagRateLimited))
	assert.Equal(t, 10, sc.ThreatScore())
	assert.Equal(t, 2, sc.RateLimitInfo().TotalHits)
}

func TestLimiter_NewWindowStartsFromPreviousWeight(t *testing.T) {
	now := bucketStart
	clock := func() time.Time { return now }
	limiter := newLimiter(clock, minute, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		limiter.Check(ctx, "k")
	}

	// Halfway into the next bucket half of the previous bucket still counts.
	now = bucketStart.Add(90 * time.Second)
	result := limiter.Check(ctx, "k")
	assert.Equal(t, 6, result.Info.TotalHits)
	assert.True(t, result.Allowed)

	// Two buckets later nothing is left.
	now = bucketStart.Add(3 * time.Minute)
	result = limiter.Check(ctx, "k")
	assert.Equal(t, 1, result.Info.TotalHits)
}

// A sustained rate above the limit never lets more than max requests plus
// one bucket's worth of two-bucket error through in any window.
func TestLimiter_SustainedOverloadStaysWithinTolerance(t *testing.T) {
	const max = 60
	now := bucketStart
	clock := func() time.Time { return now }
	limiter := newLimiter(clock, minute, max)
	ctx := context.Background()

	var allowed []time.Time
	for i := 0; i < 1200; i++ {
		if limiter.Check(ctx, "k").Allowed {
			allowed = append(allowed, now)
		}
		now = now.Add(250 * time.Millisecond)
	}

	require.NotEmpty(t, allowed)
	for i, start := range allowed {
		end := start.Add(time.Minute)
		count := 0
		for _, ts := range allowed[i:] {
			if ts.Before(end) {
				count++
			}
		}
		assert.LessOrEqual(t, count, 2*max)
	}
	assert.Less(t, len(allowed), 1200)
}
