package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store is the key-value persistence boundary for incident and baseline
// state. Implementations must provide read-your-writes consistency per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrKeyNotFound signals that a key is absent from the store.
var ErrKeyNotFound = errors.New("key not found")

// Memory is an in-process Store for tests and single-node deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryItem)}
}

// Get returns the value for key or ErrKeyNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || item.expired() {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores the value with an optional TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = newMemoryItem(value, ttl)
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.data[key]; ok && !item.expired() {
		return false, nil
	}
	m.data[key] = newMemoryItem(value, ttl)
	return true, nil
}

// Del removes the key.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func newMemoryItem(value []byte, ttl time.Duration) memoryItem {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	return memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
}

func (i memoryItem) expired() bool {
	return !i.expiresAt.IsZero() && time.Now().After(i.expiresAt)
}
