package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is a single-process Store for development and tests. Entries
// are bounded by an LRU and by their own expiry.
type MemoryStore struct {
	cache *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most size subjects.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{
		// per-entry expiry is tracked on the entry; the LRU itself never expires
		cache: expirable.NewLRU[string, memoryEntry](size, nil, 0),
		now:   time.Now,
	}
}

// Put stores token for subject, replacing any previous one.
func (s *MemoryStore) Put(_ context.Context, subject, token string, ttl time.Duration) error {
	s.cache.Add(Key(subject), memoryEntry{token: token, expiresAt: s.now().Add(ttl)})
	return nil
}

// Get returns the stored token for subject.
func (s *MemoryStore) Get(_ context.Context, subject string) (string, bool, error) {
	e, ok := s.lookup(subject)
	if !ok {
		return "", false, nil
	}
	return e.token, true, nil
}

// Delete removes the token for subject.
func (s *MemoryStore) Delete(_ context.Context, subject string) error {
	s.cache.Remove(Key(subject))
	return nil
}

// TTL returns the remaining lifetime of the stored token, or zero if absent.
func (s *MemoryStore) TTL(_ context.Context, subject string) (time.Duration, error) {
	e, ok := s.lookup(subject)
	if !ok {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) lookup(subject string) (memoryEntry, bool) {
	e, ok := s.cache.Get(Key(subject))
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		s.cache.Remove(Key(subject))
		return memoryEntry{}, false
	}
	return e, true
}
