package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systematics/examclient/internal/store"
)

func TestNewKVStore(t *testing.T) {
	t.Run("creates directory with correct permissions", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "storage")

		s, err := NewKVStore(dir)
		require.NoError(t, err)
		assert.NotNil(t, s)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("creates storage.json on initialization", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewKVStore(dir)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(dir, storageFile))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		doc, err := s.load()
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Version)
		assert.Empty(t, doc.Entries)
	})

	t.Run("keeps existing entries", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewKVStore(dir)
		require.NoError(t, err)
		require.NoError(t, s.Set(context.Background(), "theme", "dark"))

		reopened, err := NewKVStore(dir)
		require.NoError(t, err)

		value, err := reopened.Get(context.Background(), "theme")
		require.NoError(t, err)
		assert.Equal(t, "dark", value)
	})
}

func TestKVStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewKVStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "token")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.SetMany(ctx, map[string]string{
		"token":    "abc",
		"userRole": "student",
	}))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token", "userRole"}, keys)

	require.NoError(t, s.Delete(ctx, "token", "missing"))

	_, err = s.Get(ctx, "token")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	role, err := s.Get(ctx, "userRole")
	require.NoError(t, err)
	assert.Equal(t, "student", role)
}

func TestKVStore_RejectsEmptyKey(t *testing.T) {
	s, err := NewKVStore(t.TempDir())
	require.NoError(t, err)

	err = s.Set(context.Background(), "", "value")
	require.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestKVStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewKVStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), "token", "abc"))

	_, err = os.Stat(filepath.Join(dir, storageFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}
