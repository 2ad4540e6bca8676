package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoryStoreSize = 10000

type memoryEntry struct {
	value     string
	list      []string
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a process-local Store bounded by an LRU. It backs the rate
// limiter fallback and single-instance deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *memoryEntry]
	now     func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(size int, opts ...MemoryStoreOption) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	entries, _ := lru.New[string, *memoryEntry](size) //nolint:errcheck // size is positive
	s := &MemoryStore{
		entries: entries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(s.now()) {
		s.entries.Remove(key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(key, &memoryEntry{value: value, expiresAt: s.expiry(ttl)})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.entries.Remove(key)
	}
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.entries.Remove(key)
		}
	}
	return nil
}

func (s *MemoryStore) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	return s.add(key, 1, ttl)
}

func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	return s.add(key, -1, 0)
}

func (s *MemoryStore) add(key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		entry = &memoryEntry{value: "0"}
		s.entries.Add(key, entry)
	}
	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current += delta
	entry.value = strconv.FormatInt(current, 10)
	if ttl > 0 {
		entry.expiresAt = s.expiry(ttl)
	}
	return current, nil
}

func (s *MemoryStore) PushCapped(
	_ context.Context,
	key string,
	value string,
	max int64,
	ttl time.Duration,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		entry = &memoryEntry{}
		s.entries.Add(key, entry)
	}
	entry.list = append([]string{value}, entry.list...)
	if max > 0 && int64(len(entry.list)) > max {
		entry.list = entry.list[:max]
	}
	if ttl > 0 {
		entry.expiresAt = s.expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		return []string{}, nil
	}
	n := int64(len(entry.list))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, n)
	copy(out, entry.list[:n])
	return out, nil
}

func (s *MemoryStore) AddMember(_ context.Context, key string, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		entry = &memoryEntry{}
		s.entries.Add(key, entry)
	}
	if entry.members == nil {
		entry.members = make(map[string]struct{})
	}
	entry.members[member] = struct{}{}
	if ttl > 0 {
		entry.expiresAt = s.expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		return nil
	}
	delete(entry.members, member)
	if len(entry.members) == 0 {
		s.entries.Remove(key)
	}
	return nil
}

func (s *MemoryStore) Members(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(entry.members))
	for m := range entry.members {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
