package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/store"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "default"

// KVStore implements store.KVStore using PostgreSQL. Entries are partitioned
// by namespace so several client installations can share one database.
type KVStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewKVStore creates a PostgreSQL-backed key-value store and applies pending
// migrations.
func NewKVStore(ctx context.Context, pool *pgxpool.Pool, namespace string) (*KVStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	if err := runMigrations(ctx, pool); err != nil {
		return nil, err
	}

	log.Debug().Str("namespace", namespace).Msg("postgres store initialized")

	return &KVStore{pool: pool, namespace: namespace}, nil
}

// Get retrieves the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`,
		s.namespace, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get %q: %w", key, mapPostgresError(err))
	}

	return value, nil
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany upserts all entries in one transaction.
func (s *KVStore) SetMany(ctx context.Context, entries map[string]string) error {
	for key := range entries {
		if err := store.ValidateKey(key); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for key, value := range entries {
		batch.Queue(`
			INSERT INTO kv_entries (namespace, key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (namespace, key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`, s.namespace, key, value)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to store entries: %w", mapPostgresError(err))
	}

	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = ANY($2)`,
		s.namespace, keys,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entries: %w", mapPostgresError(err))
	}

	return nil
}

// Keys returns every key in the namespace in sorted order.
func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_entries WHERE namespace = $1 ORDER BY key`,
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", mapPostgresError(err))
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", mapPostgresError(err))
	}

	return keys, nil
}
