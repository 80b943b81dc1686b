package session

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of the Store interface.
// Entries older than the configured lifetime are dropped lazily on Get.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry
	lifetime time.Duration
	now      func() time.Time
}

type entry struct {
	rec     *Record
	touched time.Time
}

// NewInMemoryStore creates a store whose sessions live for the given
// lifetime after their last write.
func NewInMemoryStore(lifetime time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]entry),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Put stores or replaces the record for a session.
func (s *InMemoryStore) Put(ctx context.Context, sessionID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = entry{rec: rec, touched: s.now()}
	return nil
}

// Get retrieves the record for a session.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if s.now().Sub(e.touched) > s.lifetime {
		// The Cleaner sweeps proactively; this is the lazy backstop.
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return e.rec, nil
}

// Delete removes a session.
func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired removes sessions past their lifetime in one sweep.
func (s *InMemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	now := s.now()
	for id, e := range s.sessions {
		if now.Sub(e.touched) > s.lifetime {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
