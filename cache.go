package helpdesk

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maypok86/otter"
)

// CachedStore is a read-through cache over a KeyValueStore.
// Only keys with one of the configured prefixes are cached; all writes go to the store
// and invalidate the cached value. Values written by other processes become visible after ttl.
type CachedStore struct {
	KeyValueStore

	cache    otter.Cache[string, string]
	prefixes []string

	// gen is bumped by every write, so a read that raced with a write does not fill the cache.
	mu  sync.Mutex
	gen uint64
}

// CachedKeyPrefixes are the key families that are safe to read stale for a short time:
// message links are immutable and thread index entries are validated against the ticket record.
var CachedKeyPrefixes = []string{keyLink, keyThread, keyLanguage}

// NewCachedStore wraps store with an in-process cache of the given capacity and ttl.
func NewCachedStore(store KeyValueStore, capacity int, ttl time.Duration, prefixes ...string) (*CachedStore, error) {
	cache, err := otter.MustBuilder[string, string](max(capacity, 1)).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, errm.Wrap(err, "build cache")
	}
	if len(prefixes) == 0 {
		prefixes = CachedKeyPrefixes
	}
	return &CachedStore{
		KeyValueStore: store,
		cache:         cache,
		prefixes:      prefixes,
	}, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (string, error) {
	if !s.cacheable(key) {
		return s.KeyValueStore.Get(ctx, key)
	}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	v, err := s.KeyValueStore.Get(ctx, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache.Set(key, v)
	}
	s.mu.Unlock()

	return v, nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer s.invalidate(key)
	return s.KeyValueStore.Set(ctx, key, value, ttl)
}

func (s *CachedStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer s.invalidate(key)
	return s.KeyValueStore.SetIfAbsent(ctx, key, value, ttl)
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	defer s.invalidate(key)
	return s.KeyValueStore.Delete(ctx, key)
}

func (s *CachedStore) Increment(ctx context.Context, key string) (int64, error) {
	defer s.invalidate(key)
	return s.KeyValueStore.Increment(ctx, key)
}

func (s *CachedStore) invalidate(key string) {
	s.mu.Lock()
	s.gen++
	s.cache.Delete(key)
	s.mu.Unlock()
}

// Size returns the number of cached entries.
func (s *CachedStore) Size() int {
	return s.cache.Size()
}

func (s *CachedStore) cacheable(key string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
