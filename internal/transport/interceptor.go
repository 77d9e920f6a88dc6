// Package transport attaches the session credential to outbound HTTP
// requests and reacts to authorization failures.
package transport

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/systematics/examclient/internal/authz"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/session"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
)

// Session is the part of session.Store the interceptor depends on.
type Session interface {
	Snapshot() models.Snapshot
	Logout(ctx context.Context, reason session.Reason) error
}

// Navigator moves the application to another route.
type Navigator interface {
	Current() string
	Replace(ctx context.Context, path string) error
}

// Config configures an AuthInterceptor.
type Config struct {
	LandingRoute   string
	ForbiddenRoute string
	Metrics        *telemetry.Metrics
}

var _ http.RoundTripper = (*AuthInterceptor)(nil)

// AuthInterceptor is an http.RoundTripper that sends the current bearer
// token and handles 401 and 403 responses. Responses are always returned to
// the caller unchanged.
type AuthInterceptor struct {
	session   Session
	nav       Navigator
	next      http.RoundTripper
	landing   string
	forbidden string
	metrics   *telemetry.Metrics
}

// NewAuthInterceptor wraps next. nav may be nil when nothing navigates, in
// which case 401 still tears down the session.
func NewAuthInterceptor(sess Session, nav Navigator, next http.RoundTripper, cfg Config) *AuthInterceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.LandingRoute == "" {
		cfg.LandingRoute = authz.DefaultLandingRoute
	}
	if cfg.ForbiddenRoute == "" {
		cfg.ForbiddenRoute = authz.DefaultForbiddenRoute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.GetMetrics()
	}

	return &AuthInterceptor{
		session:   sess,
		nav:       nav,
		next:      next,
		landing:   cfg.LandingRoute,
		forbidden: cfg.ForbiddenRoute,
		metrics:   cfg.Metrics,
	}
}

// RoundTrip implements http.RoundTripper.
func (i *AuthInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Read at send time so a logout between building and sending the
	// request is honoured
	snap := i.session.Snapshot()
	if snap.Authenticated() {
		req = req.Clone(ctx)
		tok := &oauth2.Token{AccessToken: snap.Token, TokenType: snap.TokenType}
		tok.SetAuthHeader(req)
	}

	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Teardown and redirect complete even if the caller gives up on the request
	ctx = context.WithoutCancel(ctx)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		i.recordFailure(ctx, resp.StatusCode)
		i.handleUnauthorized(ctx)
	case http.StatusForbidden:
		i.recordFailure(ctx, resp.StatusCode)
		i.redirect(ctx, i.forbidden)
	}

	return resp, nil
}

func (i *AuthInterceptor) handleUnauthorized(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	if err := i.session.Logout(ctx, session.ReasonAuthExpired); err != nil {
		logger.Error().Err(err).Msg("failed to tear down rejected session")
	}

	i.redirect(ctx, i.landing)
}

// redirect navigates to path unless the application is already there.
func (i *AuthInterceptor) redirect(ctx context.Context, path string) {
	if i.nav == nil {
		return
	}

	logger := zerolog.Ctx(ctx)

	current := i.nav.Current()
	if current == path {
		logger.Debug().Str("route", path).Msg("already on redirect target")
		return
	}

	if err := i.nav.Replace(ctx, path); err != nil {
		logger.Warn().Err(err).Str("from", current).Str("to", path).Msg("failed to redirect")
	}
}

func (i *AuthInterceptor) recordFailure(ctx context.Context, status int) {
	i.metrics.AuthFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", status)))
}
