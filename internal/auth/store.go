package auth

import (
	"context"
	"sync"
	"time"
)

// FlowStore holds the in-flight PkceRecord for each session context. At most
// one authorization attempt is in flight per context: Put overwrites any
// prior unconsumed record.
type FlowStore interface {
	Put(ctx context.Context, sessionID string, rec *PkceRecord) error
	// Get returns ErrFlowNotFound when no record exists and ErrFlowExpired
	// when the stored record is older than the configured max age.
	Get(ctx context.Context, sessionID string) (*PkceRecord, error)
	Clear(ctx context.Context, sessionID string) error
}

// InMemoryFlowStore is the default FlowStore. Records past maxAge are
// reported as expired on Get rather than silently served.
type InMemoryFlowStore struct {
	mu      sync.Mutex
	records map[string]*PkceRecord
	maxAge  time.Duration
	now     func() time.Time
}

// NewInMemoryFlowStore creates a store that expires records after maxAge.
func NewInMemoryFlowStore(maxAge time.Duration) *InMemoryFlowStore {
	return &InMemoryFlowStore{
		records: make(map[string]*PkceRecord),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Put stores the record for a session, replacing any in-flight attempt.
func (s *InMemoryFlowStore) Put(ctx context.Context, sessionID string, rec *PkceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = rec
	return nil
}

// Get returns the in-flight record for a session.
func (s *InMemoryFlowStore) Get(ctx context.Context, sessionID string) (*PkceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, ErrFlowNotFound
	}

	if rec.Age(s.now()) > s.maxAge {
		delete(s.records, sessionID)
		return nil, ErrFlowExpired
	}

	return rec, nil
}

// Clear removes the record for a session.
func (s *InMemoryFlowStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}
