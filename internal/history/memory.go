package history

import (
	"context"
	"sync"
)

const defaultPerSession = 20

// MemoryRepository keeps a bounded list of records per session.
type MemoryRepository struct {
	mu         sync.RWMutex
	perSession int
	records    map[string][]Record
}

// NewMemoryRepository keeps at most perSession records per visitor.
func NewMemoryRepository(perSession int) *MemoryRepository {
	if perSession <= 0 {
		perSession = defaultPerSession
	}
	return &MemoryRepository{
		perSession: perSession,
		records:    make(map[string][]Record),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// Append implements Repository. The oldest record is evicted once the session is full.
func (r *MemoryRepository) Append(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.records[rec.SessionID], rec)
	if len(list) > r.perSession {
		list = append([]Record(nil), list[len(list)-r.perSession:]...)
	}
	r.records[rec.SessionID] = list
	return nil
}

// ListBySession implements Repository.
func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.records[sessionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Record, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Latest implements Repository.
func (r *MemoryRepository) Latest(_ context.Context, sessionID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.records[sessionID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Succeeded() {
			return list[i], nil
		}
	}
	return Record{}, ErrNotFound
}

// Ping implements Repository.
func (r *MemoryRepository) Ping(context.Context) error { return nil }
