package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store is the shared key/value store every protection component keeps its
// state in. Implementations must make IncrWithExpiry, PushCapped and
// AddMember atomic per key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error

	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// PushCapped prepends value and keeps only the newest max entries.
	PushCapped(ctx context.Context, key string, value string, max int64, ttl time.Duration) error
	// Range returns up to limit entries, newest first. limit <= 0 returns all.
	Range(ctx context.Context, key string, limit int64) ([]string, error)

	AddMember(ctx context.Context, key string, member string, ttl time.Duration) error
	RemoveMember(ctx context.Context, key string, member string) error
	Members(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
}
