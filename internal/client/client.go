// Package client talks to the exam platform API through the session-aware
// transport chain.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/logger"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/session"
	"github.com/systematics/examclient/internal/telemetry"
	"github.com/systematics/examclient/internal/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// APIVersion is sent as the api-version query parameter.
	APIVersion = "1.0"

	loginPath  = "/api/auth/login"
	avatarPath = "/api/users/me/avatar"

	maxErrorBody = 64 << 10
)

// Config holds common client configuration
type Config struct {
	ServerURL      string
	Timeout        time.Duration
	LandingRoute   string
	ForbiddenRoute string
	Metrics        *telemetry.Metrics
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8000",
		Timeout:   30 * time.Second,
	}
}

// Client calls the API on behalf of the current session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	public  *http.Client
	session *session.Store
	nav     transport.Navigator
	landing string
}

// New creates a client. Requests go through the request logger, the auth
// interceptor, OpenTelemetry instrumentation and gzip negotiation, in that
// order. The login call skips the auth interceptor: its 401 means wrong
// credentials, not an expired session.
func New(cfg Config, sess *session.Store, nav transport.Navigator) (*Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("session store is required")
	}

	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", cfg.ServerURL)
	}

	shared := otelhttp.NewTransport(gzhttp.Transport(http.DefaultTransport))

	var rt http.RoundTripper = transport.NewAuthInterceptor(sess, nav, shared, transport.Config{
		LandingRoute:   cfg.LandingRoute,
		ForbiddenRoute: cfg.ForbiddenRoute,
		Metrics:        cfg.Metrics,
	})
	rt = logger.NewRequestLogger(log.Logger, rt)

	landing := cfg.LandingRoute
	if landing == "" {
		landing = "/login"
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Transport: rt, Timeout: cfg.Timeout},
		public:  &http.Client{Transport: logger.NewRequestLogger(log.Logger, shared), Timeout: cfg.Timeout},
		session: sess,
		nav:     nav,
		landing: landing,
	}, nil
}

// Session returns the session store the client authenticates with.
func (c *Client) Session() *session.Store {
	return c.session
}

// Login exchanges credentials for a session and starts it.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	data, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp models.LoginResponse
	if err := c.send(ctx, c.public, http.MethodPost, loginPath, bytes.NewReader(data), "application/json", &resp); err != nil {
		return nil, err
	}

	if err := c.session.Login(ctx, resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Logout ends the session and returns to the landing route.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.session.Logout(ctx, session.ReasonUserLogout); err != nil {
		return err
	}

	if c.nav != nil && c.nav.Current() != c.landing {
		if err := c.nav.Replace(ctx, c.landing); err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", c.landing, err)
		}
	}

	return nil
}

// GetJSON sends a GET to path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

// PostJSON sends in as JSON to path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

// UploadAvatar uploads the image at filePath as the signed-in user's avatar
// and records the new URL in the session.
func (c *Client) UploadAvatar(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open avatar: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar_file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read avatar: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	var resp struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.do(ctx, http.MethodPost, avatarPath, &buf, mw.FormDataContentType(), &resp); err != nil {
		return "", err
	}

	if err := c.session.UpdateIdentityField(ctx, session.FieldAvatarURL, resp.AvatarURL); err != nil {
		return "", err
	}

	return resp.AvatarURL, nil
}

// URL resolves path against the server URL and adds the API version.
func (c *Client) URL(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}

	u := c.baseURL.ResolveReference(ref)
	q := u.Query()
	if q.Get("api-version") == "" {
		q.Set("api-version", APIVersion)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	return c.send(ctx, c.http, method, path, body, contentType, out)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body io.Reader, contentType string, out any) error {
	target, err := c.URL(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       stripQuery(path),
			Detail:     parseDetail(data),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}

	return nil
}

func stripQuery(path string) string {
	before, _, _ := strings.Cut(path, "?")
	return before
}
