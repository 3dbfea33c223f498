// Package snapshot persists the last successfully rendered dashboard state
// per (path mode, tenant, principal) so a cold start can paint instantly and
// reconcile with a live fetch afterwards.
package snapshot

import (
	"context"
	"sync"
	"time"
)

// Store is the string key-value surface the cache persists through. Entries
// outlive sessions; the TTL here is a storage-level bound, the cache applies
// its own freshness check on top.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryStore is an in-memory Store for tests and the dev environment.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the stored value and whether the key exists.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

// Set stores the value. The storage TTL is ignored in memory; the cache's
// own timestamp check governs freshness.
func (m *MemoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}
