package ratelimit_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minute = int64(60000)

// 1_699_999_980_000 is the start of bucket 28333333 for a one minute window.
var bucketStart = time.UnixMilli(1_699_999_980_000)

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBucketStore_Increment_WeighsPreviousBucket(t *testing.T) {
	client, mock := redismock.NewClientMock()
	now := bucketStart.Add(30 * time.Second)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:ip:1.2.3.4:28333333").SetVal(5)
	mock.ExpectExpire("ratelimit:ip:1.2.3.4:28333333", 120*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()
	mock.ExpectGet("ratelimit:ip:1.2.3.4:28333332").SetVal("10")

	store := ratelimit.NewBucketStore(
		cache.NewRedisStoreFromClient(client),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: fixedClock(now)},
	)

	hits := store.Increment(context.Background(), "ip:1.2.3.4", minute)

	assert.Equal(t, 10, hits.TotalHits)
	assert.Equal(t, bucketStart.UnixMilli()+minute, hits.ResetTime)
	assert.False(t, hits.Fallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBucketStore_Increment_RoundsUp(t *testing.T) {
	client, mock := redismock.NewClientMock()
	now := bucketStart.Add(45 * time.Second)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:k:28333333").SetVal(1)
	mock.ExpectExpire("ratelimit:k:28333333", 120*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()
	mock.ExpectGet("ratelimit:k:28333332").SetVal("3")

	store := ratelimit.NewBucketStore(
		cache.NewRedisStoreFromClient(client),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: fixedClock(now)},
	)

	// 3*0.25 + 1 = 1.75
	hits := store.Increment(context.Background(), "k", minute)
	assert.Equal(t, 2, hits.TotalHits)
}

func TestBucketStore_Increment_FallsBackOnStoreError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	now := bucketStart.Add(10 * time.Second)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:k:28333333").SetErr(errors.New("connection refused"))

	store := ratelimit.NewBucketStore(
		cache.NewRedisStoreFromClient(client),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: fixedClock(now)},
	)

	hits := store.Increment(context.Background(), "k", minute)
	assert.True(t, hits.Fallback)
	assert.Equal(t, 1, hits.TotalHits)
	assert.Equal(t, now.UnixMilli()+minute, hits.ResetTime)
}

func TestBucketStore_Snapshot_DoesNotCount(t *testing.T) {
	now := bucketStart.Add(time.Second)
	store := ratelimit.NewBucketStore(
		cache.NewMemoryStore(100),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: fixedClock(now)},
	)
	ctx := context.Background()

	store.Increment(ctx, "k", minute)
	store.Increment(ctx, "k", minute)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, store.Snapshot(ctx, "k", minute).TotalHits)
	}
}

func TestBucketStore_DecrementAndReset(t *testing.T) {
	now := bucketStart.Add(time.Second)
	store := ratelimit.NewBucketStore(
		cache.NewMemoryStore(100),
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: fixedClock(now)},
	)
	ctx := context.Background()

	store.Increment(ctx, "k", minute)
	store.Increment(ctx, "k", minute)
	store.Decrement(ctx, "k", minute)
	assert.Equal(t, 1, store.Snapshot(ctx, "k", minute).TotalHits)

	require.NoError(t, store.ResetKey(ctx, "k", minute))
	assert.Equal(t, 0, store.Snapshot(ctx, "k", minute).TotalHits)

	store.Increment(ctx, "a", minute)
	store.Increment(ctx, "b", minute)
	require.NoError(t, store.ResetAll(ctx))
	assert.Equal(t, 0, store.Snapshot(ctx, "a", minute).TotalHits)
	assert.Equal(t, 0, store.Snapshot(ctx, "b", minute).TotalHits)
}

type unavailableStore struct {
	cache.Store
}

func (unavailableStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store unavailable")
}

func (unavailableStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store unavailable")
}

func TestBucketStore_FallbackWindowResetsIndependently(t *testing.T) {
	now := bucketStart.Add(50 * time.Second)
	clock := func() time.Time { return now }

	store := ratelimit.NewBucketStore(
		unavailableStore{},
		newLogger(),
		&ratelimit.BucketStoreOpts{TimeProvider: clock},
	)
	ctx := context.Background()

	store.Increment(ctx, "k", minute)
	store.Increment(ctx, "k", minute)

	// Crossing the distributed bucket boundary does not reset the fallback.
	now = now.Add(15 * time.Second)
	assert.Equal(t, 3, store.Increment(ctx, "k", minute).TotalHits)
	assert.Equal(t, 3, store.Snapshot(ctx, "k", minute).TotalHits)

	// The fallback window started at the first hit and ends a minute later.
	now = bucketStart.Add(50*time.Second + time.Minute)
	assert.Equal(t, 1, store.Increment(ctx, "k", minute).TotalHits)
}
