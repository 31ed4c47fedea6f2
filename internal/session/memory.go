package session

import (
	"context"
	"sync"
	"time"

	"github.com/starford/galleria/internal/apperr"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store. Entries vanish on restart.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemory creates an in-memory store whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func memoryKey(sessionID, key string) string {
	return sessionID + "\x00" + key
}

func (m *Memory) Get(_ context.Context, sessionID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(sessionID, key)
	e, ok := m.entries[k]
	if !ok {
		return "", apperr.ErrNotFound
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, k)
		return "", apperr.ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoryKey(sessionID, key)] = memoryEntry{value: value, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memoryKey(sessionID, key))
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *Memory) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
