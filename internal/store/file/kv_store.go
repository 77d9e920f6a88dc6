package file

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/store"
)

const storageFile = "storage.json"

// document is the on-disk layout of the store.
type document struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// KVStore implements store.KVStore as a single JSON document on the local
// filesystem. Every write replaces the document atomically.
type KVStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewKVStore creates a new file-backed store.
// If baseDir is empty, uses ~/.examclient/
func NewKVStore(baseDir string) (*KVStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".examclient")
	}

	// Session data includes the bearer token, keep it private
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &KVStore{baseDir: baseDir}

	if err := s.ensureDocument(); err != nil {
		return nil, err
	}

	log.Debug().Str("baseDir", baseDir).Msg("file store initialized")

	return s, nil
}

// Get retrieves the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := doc.Entries[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}

	return value, nil
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany stores all entries with one document write.
func (s *KVStore) SetMany(ctx context.Context, entries map[string]string) error {
	for key := range entries {
		if err := store.ValidateKey(key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	maps.Copy(doc.Entries, entries)

	return s.save(doc)
}

// Delete removes keys; missing keys are ignored.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	changed := false
	for _, key := range keys {
		if _, ok := doc.Entries[key]; ok {
			delete(doc.Entries, key)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return s.save(doc)
}

// Keys returns every stored key in sorted order.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	return slices.Sorted(maps.Keys(doc.Entries)), nil
}

// ensureDocument creates an empty document if it doesn't exist.
func (s *KVStore) ensureDocument() error {
	if _, err := os.Stat(s.path()); err == nil {
		return nil
	}

	return s.save(&document{
		Version: 1,
		Entries: make(map[string]string),
	})
}

func (s *KVStore) path() string {
	return filepath.Join(s.baseDir, storageFile)
}

// load reads the document file.
func (s *KVStore) load() (*document, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse storage: %w", err)
	}

	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}

	return &doc, nil
}

// save writes the document file atomically.
func (s *KVStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	tempPath := s.path() + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}

	if err := os.Rename(tempPath, s.path()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save storage: %w", err)
	}

	return nil
}
