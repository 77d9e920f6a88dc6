package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/systematics/examclient/internal/store"
)

// Registry tracks ephemeral storage keys (exam drafts and similar scratch
// state) by owner so logout can remove them without scanning key names.
// The registry is persisted so keys written by an earlier process are still
// purged.
type Registry struct {
	mu     sync.Mutex
	kv     store.KVStore
	owners map[string]map[string]struct{}
}

func newRegistry(kv store.KVStore) *Registry {
	return &Registry{
		kv:     kv,
		owners: make(map[string]map[string]struct{}),
	}
}

// Register records key as owned by owner.
func (r *Registry) Register(ctx context.Context, owner, key string) error {
	if owner == "" {
		return fmt.Errorf("owner is required")
	}
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.owners[owner]
	if !ok {
		keys = make(map[string]struct{})
		r.owners[owner] = keys
	}
	if _, exists := keys[key]; exists {
		return nil
	}
	keys[key] = struct{}{}

	return r.saveLocked(ctx)
}

// Deregister forgets key; the caller is responsible for deleting it.
func (r *Registry) Deregister(ctx context.Context, owner, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.owners[owner]
	if !ok {
		return nil
	}
	if _, exists := keys[key]; !exists {
		return nil
	}

	delete(keys, key)
	if len(keys) == 0 {
		delete(r.owners, owner)
	}

	return r.saveLocked(ctx)
}

// Keys returns every registered key in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keysLocked()
}

// Owned returns the keys registered by owner in sorted order.
func (r *Registry) Owned(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.owners[owner]))
}

func (r *Registry) keysLocked() []string {
	var keys []string
	for _, owned := range r.owners {
		for key := range owned {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// forget drops keys that have been removed from storage. Keys registered
// after the list was taken are kept and persisted again.
func (r *Registry) forget(ctx context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for owner, owned := range r.owners {
		for _, key := range keys {
			delete(owned, key)
		}
		if len(owned) == 0 {
			delete(r.owners, owner)
		}
	}

	if len(r.owners) == 0 {
		return nil
	}
	return r.saveLocked(ctx)
}

// load restores the registry from storage.
func (r *Registry) load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.kv.Get(ctx, KeyEphemeralKeys)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read ephemeral key registry: %w", err)
	}

	var persisted map[string][]string
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return fmt.Errorf("failed to parse ephemeral key registry: %w", err)
	}

	r.owners = make(map[string]map[string]struct{}, len(persisted))
	for owner, keys := range persisted {
		set := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			set[key] = struct{}{}
		}
		r.owners[owner] = set
	}

	return nil
}

func (r *Registry) saveLocked(ctx context.Context) error {
	if len(r.owners) == 0 {
		return r.kv.Delete(ctx, KeyEphemeralKeys)
	}

	persisted := make(map[string][]string, len(r.owners))
	for owner, keys := range r.owners {
		persisted[owner] = slices.Sorted(maps.Keys(keys))
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to marshal ephemeral key registry: %w", err)
	}

	if err := r.kv.Set(ctx, KeyEphemeralKeys, string(data)); err != nil {
		return fmt.Errorf("failed to save ephemeral key registry: %w", err)
	}

	return nil
}
