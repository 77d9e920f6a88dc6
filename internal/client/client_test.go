package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/session"
	"github.com/systematics/examclient/internal/store/memory"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/metric/noop"
)

type fakeNavigator struct {
	mu      sync.Mutex
	current string
}

func (n *fakeNavigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *fakeNavigator) Replace(ctx context.Context, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	return nil
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
			return
		}
		if req.Password != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "tok-123",
			"token_type": "bearer",
			"user": {
				"id": "6b0b4b0e-1111-4a4a-9f9f-000000000001",
				"email": "` + req.Email + `",
				"full_name": "Ada Lovelace",
				"user_major": "Mathematics",
				"roles": ["student"],
				"avatar_url": null
			}
		}`))
	})
	mux.HandleFunc("GET /api/exams", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-version") != APIVersion {
			http.Error(w, `{"detail":"Unsupported API version"}`, http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, `{"detail":"Not authenticated"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"e1","title":"Algebra"}]`))
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Not enough permissions"}`, http.StatusForbidden)
	})
	mux.HandleFunc("POST /api/exams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","title"],"msg":"field required"},{"loc":["body","duration"],"msg":"must be positive"}]}`))
	})
	mux.HandleFunc("POST /api/users/me/avatar", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("avatar_file")
		if err != nil {
			http.Error(w, `{"detail":"missing file"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		_, _ = io.Copy(io.Discard, file)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"avatar_url":"/static/avatars/` + header.Filename + `"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, serverURL string, nav *fakeNavigator) *Client {
	t.Helper()
	metrics := telemetry.NewMetrics(noop.NewMeterProvider())

	store, err := session.NewStore(memory.NewKVStore(), session.Options{Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.Metrics = metrics

	c, err := New(cfg, store, nav)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	store, err := session.NewStore(memory.NewKVStore(), session.Options{Metrics: telemetry.NewMetrics(noop.NewMeterProvider())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = New(Config{ServerURL: "http://localhost"}, nil, nil)
	require.Error(t, err)

	_, err = New(Config{ServerURL: "ftp://localhost"}, store, nil)
	require.Error(t, err)
}

func TestClient_URL(t *testing.T) {
	c := newTestClient(t, "http://localhost:8000", nil)

	u, err := c.URL("/api/exams?status=active")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/exams?api-version=1.0&status=active", u)

	u, err = c.URL("/api/exams?api-version=2.0")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/exams?api-version=2.0", u)
}

func TestClient_LoginAndAuthenticatedGet(t *testing.T) {
	ctx := context.Background()
	server := newAPIServer(t)
	c := newTestClient(t, server.URL, &fakeNavigator{current: "/login"})

	resp, err := c.Login(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.Role)

	snap := c.Session().Snapshot()
	assert.Equal(t, "tok-123", snap.Token)
	assert.Equal(t, "Ada Lovelace", snap.Identity.FullName)
	require.NotNil(t, snap.Identity.Major)
	assert.Equal(t, "Mathematics", snap.Identity.Major.Name)

	var exams []map[string]string
	require.NoError(t, c.GetJSON(ctx, "/api/exams", &exams))
	require.Len(t, exams, 1)
	assert.Equal(t, "Algebra", exams[0]["title"])
}

func TestClient_LoginRejected(t *testing.T) {
	server := newAPIServer(t)
	c := newTestClient(t, server.URL, &fakeNavigator{current: "/login"})

	_, err := c.Login(context.Background(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrAuthExpired)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Incorrect email or password", apiErr.Detail)
	assert.Equal(t, "/api/auth/login", apiErr.Path)
	assert.False(t, c.Session().Authenticated())
}

func TestClient_LoginRejectedKeepsExistingSession(t *testing.T) {
	ctx := context.Background()
	server := newAPIServer(t)
	nav := &fakeNavigator{current: "/exams"}
	c := newTestClient(t, server.URL, nav)

	require.NoError(t, c.Session().Login(ctx, models.LoginResponse{AccessToken: "current", Role: models.RoleStudent}))

	_, err := c.Login(ctx, "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrAuthExpired)

	assert.True(t, c.Session().Authenticated())
	assert.Equal(t, "current", c.Session().Token())
	assert.Equal(t, "/exams", nav.Current())
}

func TestClient_UnauthorizedTearsDownAndSurfaces(t *testing.T) {
	ctx := context.Background()
	server := newAPIServer(t)
	nav := &fakeNavigator{current: "/exams"}
	c := newTestClient(t, server.URL, nav)

	require.NoError(t, c.Session().Login(ctx, models.LoginResponse{AccessToken: "stale", Role: models.RoleStudent}))

	err := c.GetJSON(ctx, "/api/exams", nil)
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.False(t, c.Session().Authenticated())
	assert.Equal(t, "/login", nav.Current())
}

func TestClient_ForbiddenSurfacesAndKeepsSession(t *testing.T) {
	ctx := context.Background()
	server := newAPIServer(t)
	nav := &fakeNavigator{current: "/dashboard"}
	c := newTestClient(t, server.URL, nav)

	require.NoError(t, c.Session().Login(ctx, models.LoginResponse{AccessToken: "tok-123", Role: models.RoleStudent}))

	err := c.GetJSON(ctx, "/api/users", nil)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.NotErrorIs(t, err, ErrAuthExpired)
	assert.True(t, c.Session().Authenticated())
	assert.Equal(t, "/forbidden", nav.Current())
}

func TestClient_DomainErrorDetail(t *testing.T) {
	server := newAPIServer(t)
	c := newTestClient(t, server.URL, nil)

	err := c.PostJSON(context.Background(), "/api/exams", map[string]string{}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "field required; must be positive", apiErr.Detail)
	assert.NotErrorIs(t, err, ErrAuthExpired)
	assert.NotErrorIs(t, err, ErrAccessDenied)
}

func TestClient_Logout(t *testing.T) {
	ctx := context.Background()
	nav := &fakeNavigator{current: "/exams"}
	c := newTestClient(t, "http://localhost:8000", nav)

	require.NoError(t, c.Session().Login(ctx, models.LoginResponse{AccessToken: "tok", Role: models.RoleStudent}))
	require.NoError(t, c.Logout(ctx))

	assert.False(t, c.Session().Authenticated())
	assert.Equal(t, "/login", nav.Current())

	// Second logout is a no-op
	require.NoError(t, c.Logout(ctx))
}

func TestClient_UploadAvatar(t *testing.T) {
	ctx := context.Background()
	server := newAPIServer(t)
	c := newTestClient(t, server.URL, nil)

	require.NoError(t, c.Session().Login(ctx, models.LoginResponse{AccessToken: "tok-123", Role: models.RoleStudent}))

	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0600))

	avatarURL, err := c.UploadAvatar(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "/static/avatars/me.png", avatarURL)
	assert.Equal(t, "/static/avatars/me.png", c.Session().Snapshot().Identity.AvatarURL)
	assert.Equal(t, "tok-123", c.Session().Token())
}

func TestParseDetail(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"string detail", `{"detail":"Exam not found"}`, "Exam not found"},
		{"validation list", `{"detail":[{"msg":"a"},{"msg":"b"}]}`, "a; b"},
		{"plain text", "Internal Server Error\n", "Internal Server Error"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseDetail([]byte(tt.body)))
		})
	}
}

func TestAssetClient_CachesPublicAssets(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(server.Close)

	a := NewAssetClient(t.TempDir())

	data, cached, err := a.Fetch(context.Background(), server.URL+"/static/avatars/ada.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.False(t, cached)

	data, cached, err = a.Fetch(context.Background(), server.URL+"/static/avatars/ada.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.True(t, cached)
	assert.Equal(t, int32(1), hits.Load())

	dest := filepath.Join(t.TempDir(), "out", "ada.png")
	require.NoError(t, a.Download(context.Background(), server.URL+"/static/avatars/ada.png", dest))
	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(written))
}

func TestAssetClient_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, _, err := NewAssetClient("").Fetch(context.Background(), server.URL+"/missing.png")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
