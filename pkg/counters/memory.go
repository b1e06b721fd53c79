package counters

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store and Deduplicator. Expired entries are
// reset lazily on access; Sweep reclaims memory for keys never touched again.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]entry
	claims  map[string]time.Time
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryStore{
		clock:   clock,
		entries: make(map[string]entry),
		claims:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.live(key.String())
	if !ok {
		return 0, nil
	}

	return current.value, nil
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, key Key, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()

	current, ok := s.live(id)
	if !ok {
		current = entry{expiresAt: s.clock.Now().Add(ttl)}
	}

	current.value++
	s.entries[id] = current

	return current.value, nil
}

func (s *MemoryStore) Expire(_ context.Context, key Key, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()

	current, ok := s.live(id)
	if !ok {
		return nil
	}

	if ttl <= 0 {
		delete(s.entries, id)

		return nil
	}

	current.expiresAt = s.clock.Now().Add(ttl)
	s.entries[id] = current

	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	id := dedupKey(key)

	if expiresAt, ok := s.claims[id]; ok && now.Before(expiresAt) {
		return false, nil
	}

	s.claims[id] = now.Add(ttl)

	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, dedupKey(key))

	return nil
}

// Sweep drops expired counters and claims, returning how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0

	for id, current := range s.entries {
		if !now.Before(current.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}

	for id, expiresAt := range s.claims {
		if !now.Before(expiresAt) {
			delete(s.claims, id)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked counters and claims, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries) + len(s.claims)
}

// live returns the entry for id, deleting it if its window has elapsed. Callers hold mu.
func (s *MemoryStore) live(id string) (entry, bool) {
	current, ok := s.entries[id]
	if !ok {
		return entry{}, false
	}

	if !s.clock.Now().Before(current.expiresAt) {
		delete(s.entries, id)

		return entry{}, false
	}

	return current, true
}
