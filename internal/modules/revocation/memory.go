package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local fallback. A revocation recorded here is only effective
// on the process that performed the logout.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Kind() string { return KindMemory }

func (s *MemoryStore) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 || token == "" {
		return nil
	}
	key := Key(token)
	until := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok && prev.After(until) {
		return nil
	}
	s.entries[key] = until
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	s.mu.RLock()
	until, ok := s.entries[Key(token)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	// expired entries are absent even before Sweep reclaims them
	return !s.now().After(until), nil
}

// Sweep drops entries whose revokedUntil has passed and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, until := range s.entries {
		if now.After(until) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of physically stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
