package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps entries in process memory. Expired entries are dropped
// lazily on Get or through ClearExpired.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     Clock
	logger  *zap.Logger
}

// NewMemoryStore creates a store with the given TTL. A nil clock uses time.Now.
func NewMemoryStore(ttl time.Duration, now Clock, logger *zap.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     now,
		logger:  logger,
	}
}

func (s *MemoryStore) expired(e *Entry) bool {
	return s.now().Sub(e.CreatedAt) > s.ttl
}

// Get returns a copy of the live entry for (question, tenant).
func (s *MemoryStore) Get(_ context.Context, question, tenant string) (*Entry, error) {
	key := Key(question, tenant)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if s.expired(e) {
		delete(s.entries, key)
		s.logger.Debug("cache entry expired", zap.String("key", key))
		return nil, ErrMiss
	}
	cp := *e
	return &cp, nil
}

// Set stores entry, overwriting any previous value for the key.
func (s *MemoryStore) Set(_ context.Context, question, tenant string, entry *Entry) error {
	key := Key(question, tenant)
	cp := *entry
	cp.Key = key
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.entries[key] = &cp
	s.mu.Unlock()
	return nil
}

// Clear empties the store.
func (s *MemoryStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	return n, nil
}

// ClearExpired drops expired entries.
func (s *MemoryStore) ClearExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len counts stored entries, expired ones included.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
