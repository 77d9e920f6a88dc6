package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systematics/examclient/internal/store"
	"github.com/systematics/examclient/internal/store/memory"
)

func TestRegistry_RegisterDeregister(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKVStore()
	r := newRegistry(kv)

	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-b"))
	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-a"))
	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-a"))
	require.NoError(t, r.Register(ctx, "timers", "exam-start-a"))

	assert.Equal(t, []string{"exam-draft-a", "exam-draft-b", "exam-start-a"}, r.Keys())
	assert.Equal(t, []string{"exam-draft-a", "exam-draft-b"}, r.Owned("drafts"))

	persisted, err := kv.Get(ctx, KeyEphemeralKeys)
	require.NoError(t, err)
	assert.JSONEq(t, `{"drafts":["exam-draft-a","exam-draft-b"],"timers":["exam-start-a"]}`, persisted)

	require.NoError(t, r.Deregister(ctx, "timers", "exam-start-a"))
	require.NoError(t, r.Deregister(ctx, "timers", "exam-start-a"))
	require.NoError(t, r.Deregister(ctx, "unknown", "exam-draft-a"))
	assert.Equal(t, []string{"exam-draft-a", "exam-draft-b"}, r.Keys())

	require.NoError(t, r.Deregister(ctx, "drafts", "exam-draft-a"))
	require.NoError(t, r.Deregister(ctx, "drafts", "exam-draft-b"))
	assert.Empty(t, r.Keys())

	_, err = kv.Get(ctx, KeyEphemeralKeys)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := newRegistry(memory.NewKVStore())

	require.Error(t, r.Register(context.Background(), "", "exam-draft-a"))
	require.ErrorIs(t, r.Register(context.Background(), "drafts", ""), store.ErrInvalidKey)
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKVStore()
	require.NoError(t, kv.Set(ctx, KeyEphemeralKeys, `{"drafts":["exam-draft-x"]}`))

	r := newRegistry(kv)
	require.NoError(t, r.load(ctx))
	assert.Equal(t, []string{"exam-draft-x"}, r.Keys())
}

func TestRegistry_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKVStore()
	require.NoError(t, kv.Set(ctx, KeyEphemeralKeys, "not json"))

	r := newRegistry(kv)
	require.Error(t, r.load(ctx))
	assert.Empty(t, r.Keys())
}

func TestRegistry_Forget(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKVStore()
	r := newRegistry(kv)
	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-a"))

	listed := r.Keys()
	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-b"))
	require.NoError(t, kv.Delete(ctx, KeyEphemeralKeys))

	require.NoError(t, r.forget(ctx, listed))

	assert.Equal(t, []string{"exam-draft-b"}, r.Keys())

	persisted, err := kv.Get(ctx, KeyEphemeralKeys)
	require.NoError(t, err)
	assert.JSONEq(t, `{"drafts":["exam-draft-b"]}`, persisted)
}

func TestRegistry_ForgetAll(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(memory.NewKVStore())
	require.NoError(t, r.Register(ctx, "drafts", "exam-draft-a"))

	require.NoError(t, r.forget(ctx, r.Keys()))
	assert.Empty(t, r.Keys())
}
