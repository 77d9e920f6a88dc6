package authz

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultLandingRoute   = "/login"
	DefaultForbiddenRoute = "/forbidden"
)

// DenyReason explains a refused navigation.
type DenyReason string

const (
	DenyUnauthenticated DenyReason = "unauthenticated"
	DenyForbidden       DenyReason = "forbidden"
)

// Decision is the outcome of a guard check. A denied decision with an empty
// Redirect means stay where you are.
type Decision struct {
	Allow    bool
	Redirect string
	Reason   DenyReason
}

// SessionReader is the read-only view of the session the guard needs.
type SessionReader interface {
	Snapshot() models.Snapshot
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	LandingRoute   string
	ForbiddenRoute string
	Matrix         *RoleMatrix
	Metrics        *telemetry.Metrics
}

// Guard runs before every navigation. Check never blocks and has no side
// effects besides logging and metrics.
type Guard struct {
	session   SessionReader
	matrix    *RoleMatrix
	landing   string
	forbidden string
	metrics   *telemetry.Metrics
}

// NewGuard creates a guard reading from session.
func NewGuard(session SessionReader, cfg GuardConfig) *Guard {
	g := &Guard{
		session:   session,
		matrix:    cfg.Matrix,
		landing:   cfg.LandingRoute,
		forbidden: cfg.ForbiddenRoute,
		metrics:   cfg.Metrics,
	}
	if g.matrix == nil {
		g.matrix = NewRoleMatrix()
	}
	if g.landing == "" {
		g.landing = DefaultLandingRoute
	}
	if g.forbidden == "" {
		g.forbidden = DefaultForbiddenRoute
	}
	if g.metrics == nil {
		g.metrics = telemetry.GetMetrics()
	}
	return g
}

// Matrix returns the role matrix used by the guard.
func (g *Guard) Matrix() *RoleMatrix {
	return g.matrix
}

// Check decides whether navigation from the location from to route to may
// proceed.
func (g *Guard) Check(to Route, from string) Decision {
	snap := g.session.Snapshot()

	if to.RequiresAuth && !snap.Authenticated() {
		return g.deny(DenyUnauthenticated, g.landing, to, from)
	}

	if to.Restricted() && !g.matrix.Allows(snap.Role, to) {
		return g.deny(DenyForbidden, g.forbidden, to, from)
	}

	return Decision{Allow: true}
}

func (g *Guard) deny(reason DenyReason, redirect string, to Route, from string) Decision {
	g.metrics.GuardDenialsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", string(reason)),
		attribute.String("path", to.Path),
	))

	// Already on the redirect target, stay put
	if from == redirect {
		redirect = ""
	}

	log.Debug().
		Str("reason", string(reason)).
		Str("to", to.Path).
		Str("from", from).
		Str("redirect", redirect).
		Msg("navigation denied")

	return Decision{Reason: reason, Redirect: redirect}
}
