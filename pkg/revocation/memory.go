package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback revocation store. Entries expire
// lazily on lookup; StartJanitor sweeps the map so abandoned entries do
// not accumulate.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		delete(s.entries, id)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Sweep removes expired entries.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, id)
		}
	}
}

// StartJanitor sweeps periodically until the context is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
