package storage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrKeyNotFound is returned when a slot has never been written
var ErrKeyNotFound = errors.New("key not found")

// ErrClosed is returned by a backend used after Close
var ErrClosed = errors.New("store closed")

// Store defines the interface for durable slot storage.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Get retrieves the value stored under key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Put replaces the value stored under key
	// The write is durable when Put returns nil
	Put(key string, value []byte) error

	// Close releases the backend
	Close() error
}

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// Open creates the store for the named backend rooted at dir.
// The memory backend ignores dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(dir)
	case BackendPebble:
		return NewPebbleStore(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// MemoryStore implements Store with in-memory storage.
// Nothing survives the process; used by tests and throwaway nodes.
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Key-value storage
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of value under key
func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored

	return nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
