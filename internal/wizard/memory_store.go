package wizard

import (
	"context"
	"sync"
	"time"
)

const defaultStateTTL = 24 * time.Hour

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore keeps state in process. Suitable for a single instance and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets the idle expiry of each visitor's state.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMemoryClock overrides the clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     defaultStateTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (State, error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || !now.Before(entry.expiresAt) {
		delete(s.entries, id)
		return State{}, ErrNotFound
	}
	return entry.state, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	current := entry.state
	if !ok || !now.Before(entry.expiresAt) {
		current = NewState(now)
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next.UpdatedAt = now
	s.entries[id] = memoryEntry{state: next, expiresAt: now.Add(s.ttl)}
	return next, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CleanupExpired drops expired entries and reports how many were removed.
func (s *MemoryStore) CleanupExpired(_ context.Context) int {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
