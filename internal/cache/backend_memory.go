// Copyright 2025 James Ross
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	hasTTL    bool
}

// MemoryBackend is an in-process Backend bounded by MaxEntries with LRU
// eviction on overflow.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memoryEntry]
}

// NewMemoryBackend builds a bounded in-memory backend. maxEntries<=0
// defaults to 10000.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, _ := lru.New[string, memoryEntry](maxEntries)
	return &MemoryBackend{cache: c}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.hasTTL && time.Now().After(entry.expiresAt) {
		m.cache.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.cache.Add(key, entry)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	now := time.Now()
	for _, key := range m.cache.Keys() {
		entry, ok := m.cache.Peek(key)
		if !ok || (entry.hasTTL && now.After(entry.expiresAt)) {
			continue
		}
		matched, err := globMatch(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, key)
		}
	}
	return out, nil
}

// Clear removes every key prefixed by "namespace:" (every key, if
// namespace is "").
func (m *MemoryBackend) Clear(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := namespace + ":"
	for _, key := range m.cache.Keys() {
		if namespace == "" || strings.HasPrefix(key, prefix) {
			m.cache.Remove(key)
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
