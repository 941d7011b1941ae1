// Package dedup records which messages have already been processed.
//
// A consumer claims a key before running its side effect and releases it
// when the side effect fails, so that a redelivery can retry. A successful
// claim is kept for the TTL; duplicates arriving within it are skipped.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store claims and releases idempotency keys.
type Store interface {
	// Claim records key for ttl. It returns false if key is already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets key.
	Release(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim implements Store. Expired keys are purged on the way.
func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
		}
	}
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, exp := range s.keys {
		if now.Before(exp) {
			n++
		}
	}
	return n
}
