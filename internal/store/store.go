package store

import (
	"context"
	"errors"
)

// Sentinel errors for common error conditions
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrInvalidKey  = errors.New("invalid key")
)

// KVStore is the durable, process-external key-value store the session is
// persisted into. Values are strings, the same way a browser's local storage
// holds them.
type KVStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// SetMany stores every entry in one write.
	SetMany(ctx context.Context, entries map[string]string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}

// ValidateKey rejects keys the backends cannot store.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
