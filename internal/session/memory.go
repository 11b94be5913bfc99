package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. Each write slides the session TTL.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore creates an in-process store whose sessions expire after ttl
// without writes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{cache: cache.New(ttl, ttl)}
}

func (s *MemoryStore) values(sessionID string) map[string]string {
	if v, ok := s.cache.Get(sessionID); ok {
		return v.(map[string]string)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values(sessionID)[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(ctx context.Context, sessionID, key, value string) error {
	return s.SetMany(ctx, sessionID, map[string]string{key: value})
}

func (s *MemoryStore) SetMany(_ context.Context, sessionID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.values(sessionID)
	next := make(map[string]string, len(cur)+len(values))
	for k, v := range cur {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	s.cache.Set(sessionID, next, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.values(sessionID)
	if cur == nil {
		return nil
	}
	next := make(map[string]string, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	for _, k := range keys {
		delete(next, k)
	}
	s.cache.Set(sessionID, next, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) All(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.values(sessionID)
	out := make(map[string]string, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out, nil
}
