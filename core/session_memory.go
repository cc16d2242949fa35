package core

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      SessionData
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory. It is meant for
// development and single-instance deployments; restarts drop every session.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]memoryEntry
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return SessionData{}, ErrSessionNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		return SessionData{}, ErrSessionNotFound
	}
	return e.data, nil
}

func (s *MemorySessionStore) Save(_ context.Context, id string, data SessionData) error {
	s.mu.Lock()
	s.entries[id] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.expiresAt = s.now().Add(s.ttl)
	s.entries[id] = e
	return nil
}

func (s *MemorySessionStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeper removes expired sessions every interval until ctx is done or
// Stop is called.
func (s *MemorySessionStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemorySessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemorySessionStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
