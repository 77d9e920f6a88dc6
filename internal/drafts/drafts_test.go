package drafts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/session"
	"github.com/systematics/examclient/internal/store/memory"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestDrafts(t *testing.T) (*Store, *session.Store, *memory.KVStore) {
	t.Helper()

	kv := memory.NewKVStore()
	sess, err := session.NewStore(kv, session.Options{Metrics: telemetry.NewMetrics(noop.NewMeterProvider())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	require.NoError(t, sess.Login(context.Background(), models.LoginResponse{AccessToken: "tok", Role: models.RoleStudent}))

	return New(kv, sess.Ephemeral()), sess, kv
}

func TestParseAttemptID(t *testing.T) {
	id := uuid.New()

	parsed, err := ParseAttemptID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseAttemptID("a")
	require.ErrorIs(t, err, ErrInvalidAttemptID)
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	d, sess, _ := newTestDrafts(t)
	id := uuid.New()

	_, err := d.Load(ctx, id)
	require.ErrorIs(t, err, ErrNoDraft)

	require.NoError(t, d.Save(ctx, id, map[string]any{"q1": "b", "q2": []any{"a", "c"}}))

	draft, err := d.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, draft.AttemptID)
	assert.Equal(t, "b", draft.Answers["q1"])
	assert.Equal(t, []any{"a", "c"}, draft.Answers["q2"])
	assert.False(t, draft.SavedAt.IsZero())

	assert.Equal(t, []string{DraftKey(id)}, sess.Ephemeral().Owned(owner))
}

func TestStore_StartKeepsFirstTime(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDrafts(t)
	id := uuid.New()

	first := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return first }

	started, err := d.Start(ctx, id)
	require.NoError(t, err)
	assert.True(t, started.Equal(first))

	d.now = func() time.Time { return first.Add(time.Hour) }
	started, err = d.Start(ctx, id)
	require.NoError(t, err)
	assert.True(t, started.Equal(first))

	got, err := d.Started(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Equal(first))
}

func TestStore_Discard(t *testing.T) {
	ctx := context.Background()
	d, sess, kv := newTestDrafts(t)
	id := uuid.New()

	require.NoError(t, d.Save(ctx, id, nil))
	_, err := d.Start(ctx, id)
	require.NoError(t, err)

	require.NoError(t, d.Discard(ctx, id))

	_, err = d.Load(ctx, id)
	require.ErrorIs(t, err, ErrNoDraft)
	assert.Empty(t, sess.Ephemeral().Keys())

	_, err = kv.Get(ctx, StartKey(id))
	require.Error(t, err)
}

func TestStore_LogoutPurgesDrafts(t *testing.T) {
	ctx := context.Background()
	d, sess, kv := newTestDrafts(t)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, kv.Set(ctx, "theme", "dark"))
	require.NoError(t, d.Save(ctx, a, map[string]any{"q1": "a"}))
	require.NoError(t, d.Save(ctx, b, map[string]any{"q1": "b"}))
	_, err := d.Start(ctx, a)
	require.NoError(t, err)

	require.NoError(t, sess.Logout(ctx, session.ReasonUserLogout))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, keys)
}
