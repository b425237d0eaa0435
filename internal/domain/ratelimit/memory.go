package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSweepInterval = time.Minute

type memoryEntry struct {
	at      time.Time
	expires time.Time
}

// MemoryStore is an in-process Store with per-key expiry.
// Expired entries are invisible to Get and are removed by a periodic sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	size    atomic.Int64
	now     func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSweepInterval sets how often expired entries are purged. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweepInterval = d
	}
}

// WithMemoryClock overrides the expiry clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its sweeper.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.expires) {
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists {
		s.size.Add(1)
	}
	s.entries[key] = memoryEntry{at: at, expires: s.now().Add(ttl)}
	return nil
}

// Size returns the number of entries held, including expired ones not yet swept.
func (s *MemoryStore) Size() int64 {
	return s.size.Load()
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			removed++
		}
	}
	s.size.Add(int64(-removed))
	return removed
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
