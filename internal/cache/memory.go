package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is the default Cache Store: an in-process, size-bounded,
// TTL-aware store built on hashicorp/golang-lru/v2's expirable LRU. The
// pipeline only ever asks for one of exactly two TTL classes: zero
// (never expires) or the configured maxAge (time-bound). expirable.LRU
// bakes a single TTL in at construction, so rather than one cache with
// per-key TTL we keep two, sized independently.
type MemoryStore struct {
	mu       sync.Mutex
	finite   *lru.LRU[string, Entry]
	infinite *lru.LRU[string, Entry]
}

// NewMemoryStore constructs a store where TIME_CACHEABLE entries expire
// after maxAge and INFINITELY_CACHEABLE entries never expire (bounded only
// by maxSize, evicted LRU-first under pressure).
func NewMemoryStore(maxSize int, maxAge time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		finite:   lru.NewLRU[string, Entry](maxSize, nil, maxAge),
		infinite: lru.NewLRU[string, Entry](maxSize, nil, 0),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.infinite.Get(key); ok {
		return e, true, nil
	}
	if e, ok := s.finite.Get(key); ok {
		return e, true, nil
	}
	return Entry{}, false, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		s.infinite.Add(key, entry)
		return nil
	}
	s.finite.Add(key, entry)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finite.Remove(key)
	s.infinite.Remove(key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finite.Purge()
	s.infinite.Purge()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
