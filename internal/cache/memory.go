// Package cache provides the in-process report result cache.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"fleet-reports/internal/domain"
)

// MemoryStore is a TTL cache of report results held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.ReportCacheEntry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

var _ domain.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. When sweepInterval is positive a
// background goroutine drops expired entries until Close is called.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*domain.ReportCacheEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Get returns the live entry for key, or (nil, nil).
func (s *MemoryStore) Get(_ context.Context, key string) (*domain.ReportCacheEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.Expired(s.now()) {
		return nil, nil
	}
	out := *e
	return &out, nil
}

// Put stores entry for ttl, replacing any previous value.
func (s *MemoryStore) Put(_ context.Context, entry *domain.ReportCacheEntry, ttl time.Duration) error {
	now := s.now()
	e := *entry
	e.CreatedAt = now
	e.ExpiresAt = now.Add(ttl)

	s.mu.Lock()
	s.entries[e.Key] = &e
	s.mu.Unlock()
	return nil
}

// Forget drops key.
func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// ForgetMatching drops every entry of tenantID and table whose key starts
// with keyPrefix.
func (s *MemoryStore) ForgetMatching(_ context.Context, tenantID, table, keyPrefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.TenantID == tenantID && e.Table == table && strings.HasPrefix(k, keyPrefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the sweeper.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
		}
	}
}
