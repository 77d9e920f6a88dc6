package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/systematics/examclient/internal/store"
)

// KVStore implements store.KVStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type KVStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		entries: make(map[string]string),
	}
}

// Get retrieves the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.entries[key]
	if !exists {
		return "", store.ErrKeyNotFound
	}

	return value, nil
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = value
	return nil
}

// SetMany stores all entries under a single lock.
func (s *KVStore) SetMany(ctx context.Context, entries map[string]string) error {
	for key := range entries {
		if err := store.ValidateKey(key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.entries, entries)
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Keys returns every stored key in sorted order.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.entries)), nil
}
