package ratelimit

import (
	"sync"
	"time"
)

// AttemptStore keeps the per-username attempt timestamps the login
// gate counts. account.Repository satisfies it for deployments that
// need the counters shared across instances; MemoryStore serves a
// single instance.
type AttemptStore interface {
	RecordLoginAttempt(username string, at time.Time) error
	RecentAttempts(username string, since time.Time) ([]time.Time, error)
}

// MemoryStore is an in-process AttemptStore. Counters live and die
// with the process, so with more than one instance each counts
// independently; that is an explicit deployment choice, not an
// accident (select the postgres store in config instead).
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryStore creates an empty in-process attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]time.Time)}
}

// RecordLoginAttempt appends an attempt timestamp for the username.
func (s *MemoryStore) RecordLoginAttempt(username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[username] = append(s.attempts[username], at)
	return nil
}

// RecentAttempts returns attempts at or after since, dropping older
// entries on the way.
func (s *MemoryStore) RecentAttempts(username string, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[username][:0]
	for _, at := range s.attempts[username] {
		if !at.Before(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, username)
		return nil, nil
	}
	s.attempts[username] = kept

	out := make([]time.Time, len(kept))
	copy(out, kept)
	return out, nil
}
