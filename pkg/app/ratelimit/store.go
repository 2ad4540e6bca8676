package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	KeyPrefix          = "ratelimit:"
	violationKeyPrefix = "ratelimit:violations:"
	bucketExpiryBuffer = 60
	defaultFallbackMax = 10000
)

// Hits is the weighted view of a key's recent traffic.
//
// TotalHits approximates a continuous sliding window with two fixed buckets:
// prev*(1-progress) + curr, rounded up. The estimate assumes requests in the
// previous bucket were evenly spread, so it may differ from an exact sliding
// log by at most the previous bucket's count. ResetTime is the end of the
// current bucket in unix milliseconds.
type Hits struct {
	TotalHits int
	ResetTime int64
	Fallback  bool
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// BucketStore keeps per-key, per-bucket counters in the shared store and
// degrades to process-local fixed windows when the store fails.
type BucketStore struct {
	store  cache.Store
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	fallback *lru.Cache[string, *fixedWindow]
}

type BucketStoreOpts struct {
	TimeProvider func() time.Time
	FallbackSize int
}

func NewBucketStore(store cache.Store, logger *logrus.Logger, opts *BucketStoreOpts) *BucketStore {
	now := time.Now
	size := defaultFallbackMax
	if opts != nil {
		if opts.TimeProvider != nil {
			now = opts.TimeProvider
		}
		if opts.FallbackSize > 0 {
			size = opts.FallbackSize
		}
	}
	fallback, _ := lru.New[string, *fixedWindow](size) //nolint:errcheck // size is positive
	return &BucketStore{
		store:    store,
		logger:   logger,
		now:      now,
		fallback: fallback,
	}
}

func bucketKey(key string, bucket int64) string {
	return fmt.Sprintf("%s%s:%d", KeyPrefix, key, bucket)
}

func bucketTTL(windowMs int64) time.Duration {
	seconds := int64(math.Ceil(float64(windowMs)/1000)) + bucketExpiryBuffer
	return time.Duration(seconds) * time.Second
}

// Increment counts one hit for key and returns the weighted total.
func (s *BucketStore) Increment(ctx context.Context, key string, windowMs int64) Hits {
	now := s.now()
	nowMs := now.UnixMilli()
	bucket := nowMs / windowMs

	current, err := s.store.IncrWithExpiry(ctx, bucketKey(key, bucket), bucketTTL(windowMs))
	if err != nil {
		s.warnFallback(err, key, "increment")
		return s.fallbackAdd(key, windowMs, now, 1)
	}
	previous, err := s.readCount(ctx, bucketKey(key, bucket-1))
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to read previous rate limit bucket")
	}
	return weigh(previous, current, nowMs, windowMs)
}

// Snapshot computes the same weighted total as Increment without counting a
// hit.
func (s *BucketStore) Snapshot(ctx context.Context, key string, windowMs int64) Hits {
	now := s.now()
	nowMs := now.UnixMilli()
	bucket := nowMs / windowMs

	current, err := s.readCount(ctx, bucketKey(key, bucket))
	if err != nil {
		s.warnFallback(err, key, "snapshot")
		return s.fallbackAdd(key, windowMs, now, 0)
	}
	previous, err := s.readCount(ctx, bucketKey(key, bucket-1))
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to read previous rate limit bucket")
	}
	return weigh(previous, current, nowMs, windowMs)
}

func (s *BucketStore) Decrement(ctx context.Context, key string, windowMs int64) {
	now := s.now()
	current := bucketKey(key, now.UnixMilli()/windowMs)
	n, err := s.store.Decr(ctx, current)
	if err != nil {
		s.warnFallback(err, key, "decrement")
		s.fallbackAdd(key, windowMs, now, -1)
		return
	}
	if n <= 0 {
		if err := s.store.Delete(ctx, current); err != nil {
			s.logger.WithError(err).WithField("key", key).Debug("failed to delete empty rate limit bucket")
		}
	}
}

func (s *BucketStore) ResetKey(ctx context.Context, key string, windowMs int64) error {
	bucket := s.now().UnixMilli() / windowMs
	s.mu.Lock()
	s.fallback.Remove(fallbackKey(key, windowMs))
	s.mu.Unlock()
	return s.store.Delete(ctx, bucketKey(key, bucket), bucketKey(key, bucket-1))
}

func (s *BucketStore) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	s.fallback.Purge()
	s.mu.Unlock()
	return s.store.DeletePrefix(ctx, KeyPrefix)
}

// RecordViolation counts a denied request for key. Failures are logged only.
func (s *BucketStore) RecordViolation(ctx context.Context, key string, ttl time.Duration) {
	if _, err := s.store.IncrWithExpiry(ctx, violationKeyPrefix+key, ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("failed to record rate limit violation")
	}
}

func (s *BucketStore) readCount(ctx context.Context, key string) (int64, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value for %s: %w", key, err)
	}
	return n, nil
}

func weigh(previous, current, nowMs, windowMs int64) Hits {
	bucket := nowMs / windowMs
	progress := float64(nowMs%windowMs) / float64(windowMs)
	weighted := float64(previous)*(1-progress) + float64(current)
	return Hits{
		TotalHits: int(math.Ceil(weighted)),
		ResetTime: (bucket + 1) * windowMs,
	}
}

func fallbackKey(key string, windowMs int64) string {
	return key + ":" + strconv.FormatInt(windowMs, 10)
}

// fallbackAdd applies delta to a fixed window that starts at the key's first
// hit and resets independently of the distributed buckets.
func (s *BucketStore) fallbackAdd(key string, windowMs int64, now time.Time, delta int) Hits {
	s.mu.Lock()
	defer s.mu.Unlock()

	fk := fallbackKey(key, windowMs)
	w, ok := s.fallback.Get(fk)
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(time.Duration(windowMs) * time.Millisecond)}
		s.fallback.Add(fk, w)
	}
	w.count += delta
	if w.count < 0 {
		w.count = 0
	}
	return Hits{
		TotalHits: w.count,
		ResetTime: w.resetAt.UnixMilli(),
		Fallback:  true,
	}
}

func (s *BucketStore) warnFallback(err error, key, op string) {
	prometheus.StoreFallbackTotal.WithLabelValues("rate_limiter").Inc()
	s.logger.WithError(err).WithFields(logrus.Fields{
		"key":       key,
		"operation": op,
	}).Warn("rate limit store unavailable, using in-memory fallback")
}
