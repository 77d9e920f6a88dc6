package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systematics/examclient/internal/models"
	"github.com/systematics/examclient/internal/telemetry"
	"go.opentelemetry.io/otel/metric/noop"
)

type staticSession struct {
	snap models.Snapshot
}

func (s staticSession) Snapshot() models.Snapshot { return s.snap }

func signedIn(role models.Role) staticSession {
	return staticSession{snap: models.Snapshot{Token: "tok", Role: role}}
}

var (
	teacherRoute = Route{
		Path:         "/courses/:id/exams",
		Name:         "course-exams",
		RequiresAuth: true,
		RequiresRole: []models.Role{models.RoleTeacher},
	}
	dashboardRoute = Route{
		Path:         "/dashboard",
		Name:         "dashboard",
		RequiresAuth: true,
		RequiresRole: []models.Role{models.RoleStudent},
	}
	profileRoute = Route{Path: "/profile", Name: "profile", RequiresAuth: true}
	loginRoute   = Route{Path: "/login", Name: "login"}
)

func newTestGuard(session SessionReader) *Guard {
	return NewGuard(session, GuardConfig{
		Matrix:  NewRoleMatrix("/dashboard"),
		Metrics: telemetry.NewMetrics(noop.NewMeterProvider()),
	})
}

func TestRoleMatrix_Allows(t *testing.T) {
	m := NewRoleMatrix("/dashboard")

	tests := []struct {
		name     string
		role     models.Role
		route    Route
		expected bool
	}{
		{"teacher enters teacher route", models.RoleTeacher, teacherRoute, true},
		{"student refused teacher route", models.RoleStudent, teacherRoute, false},
		{"supervisor refused teacher route", models.RoleSupervisor, teacherRoute, false},
		{"shared route admits any role", models.RoleSupervisor, dashboardRoute, true},
		{"unrestricted route admits any role", models.RoleStudent, profileRoute, true},
		{"empty role refused restricted route", "", teacherRoute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Allows(tt.role, tt.route))
		})
	}
}

func TestRoleMatrix_CanAccess(t *testing.T) {
	m := NewRoleMatrix()

	assert.False(t, m.CanAccess(models.Anonymous, profileRoute))
	assert.True(t, m.CanAccess(models.Anonymous, loginRoute))

	teacher := &models.Snapshot{Token: "tok", Role: models.RoleTeacher}
	assert.True(t, m.CanAccess(teacher, teacherRoute))

	student := &models.Snapshot{Token: "tok", Role: models.RoleStudent}
	assert.False(t, m.CanAccess(student, teacherRoute))
}

func TestHasAnyRole(t *testing.T) {
	teacher := &models.Snapshot{Token: "tok", Role: models.RoleTeacher}

	assert.True(t, HasAnyRole(teacher, models.RoleTeacher, models.RoleSupervisor))
	assert.False(t, HasAnyRole(teacher, models.RoleStudent))
	assert.False(t, HasAnyRole(models.Anonymous, models.RoleStudent))
}

func TestGuard_AnonymousAlwaysRedirectedToLanding(t *testing.T) {
	g := newTestGuard(staticSession{})

	for _, route := range []Route{teacherRoute, dashboardRoute, profileRoute} {
		t.Run(route.Name, func(t *testing.T) {
			d := g.Check(route, "/")
			assert.False(t, d.Allow)
			assert.Equal(t, DenyUnauthenticated, d.Reason)
			assert.Equal(t, "/login", d.Redirect)
		})
	}
}

func TestGuard_PublicRouteAllowsAnonymous(t *testing.T) {
	g := newTestGuard(staticSession{})

	d := g.Check(loginRoute, "/")
	assert.True(t, d.Allow)
	assert.Empty(t, d.Redirect)
}

func TestGuard_RoleChecks(t *testing.T) {
	tests := []struct {
		name     string
		role     models.Role
		route    Route
		expected Decision
	}{
		{
			name:     "student to teacher route is forbidden",
			role:     models.RoleStudent,
			route:    teacherRoute,
			expected: Decision{Reason: DenyForbidden, Redirect: "/forbidden"},
		},
		{
			name:     "teacher to teacher route",
			role:     models.RoleTeacher,
			route:    teacherRoute,
			expected: Decision{Allow: true},
		},
		{
			name:     "supervisor to shared dashboard",
			role:     models.RoleSupervisor,
			route:    dashboardRoute,
			expected: Decision{Allow: true},
		},
		{
			name:     "student to unrestricted route",
			role:     models.RoleStudent,
			route:    profileRoute,
			expected: Decision{Allow: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(signedIn(tt.role))
			assert.Equal(t, tt.expected, g.Check(tt.route, "/dashboard"))
		})
	}
}

func TestGuard_EveryRoleOutsideRequirementIsForbidden(t *testing.T) {
	for _, required := range models.Roles {
		route := Route{Path: "/only-" + string(required), RequiresAuth: true, RequiresRole: []models.Role{required}}

		for _, role := range models.Roles {
			d := newTestGuard(signedIn(role)).Check(route, "/dashboard")
			if role == required {
				require.True(t, d.Allow, "%s -> %s", role, route.Path)
				continue
			}
			require.False(t, d.Allow, "%s -> %s", role, route.Path)
			require.Equal(t, "/forbidden", d.Redirect)
		}
	}
}

func TestGuard_NoRedirectLoop(t *testing.T) {
	t.Run("already on forbidden", func(t *testing.T) {
		d := newTestGuard(signedIn(models.RoleStudent)).Check(teacherRoute, "/forbidden")
		assert.False(t, d.Allow)
		assert.Equal(t, DenyForbidden, d.Reason)
		assert.Empty(t, d.Redirect)
	})

	t.Run("already on landing", func(t *testing.T) {
		d := newTestGuard(staticSession{}).Check(profileRoute, "/login")
		assert.False(t, d.Allow)
		assert.Equal(t, DenyUnauthenticated, d.Reason)
		assert.Empty(t, d.Redirect)
	})
}

func TestNewGuard_Defaults(t *testing.T) {
	g := NewGuard(staticSession{}, GuardConfig{})

	require.NotNil(t, g.Matrix())
	assert.Equal(t, DefaultLandingRoute, g.Check(profileRoute, "").Redirect)
}

func TestNewGuard_CustomRoutes(t *testing.T) {
	g := NewGuard(signedIn(models.RoleStudent), GuardConfig{
		LandingRoute:   "/signin",
		ForbiddenRoute: "/denied",
		Metrics:        telemetry.NewMetrics(noop.NewMeterProvider()),
	})

	assert.Equal(t, "/denied", g.Check(teacherRoute, "").Redirect)
}
