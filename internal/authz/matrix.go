// Package authz decides which routes a session may navigate to.
//
// RoleMatrix is the one capability predicate shared by the route guard and
// any conditional rendering, so the role policy lives in a single place.
package authz

import (
	"slices"

	"github.com/systematics/examclient/internal/models"
)

// Route describes a navigable location and its access requirements.
type Route struct {
	// Path is the route pattern, segments starting with ':' are parameters.
	Path  string
	Name  string
	Title string

	RequiresAuth bool

	// RequiresRole lists the roles that may enter. Empty means any
	// authenticated role.
	RequiresRole []models.Role
}

// Restricted returns true if the route declares a role requirement.
func (r Route) Restricted() bool {
	return len(r.RequiresRole) > 0
}

// RoleMatrix maps route role requirements to the roles allowed through.
type RoleMatrix struct {
	shared map[string]struct{}
}

// NewRoleMatrix creates a matrix where the given route patterns are shared
// across all roles regardless of their declared requirement.
func NewRoleMatrix(shared ...string) *RoleMatrix {
	m := &RoleMatrix{shared: make(map[string]struct{}, len(shared))}
	for _, path := range shared {
		m.shared[path] = struct{}{}
	}
	return m
}

// Shared returns true if path is allowlisted for every role.
func (m *RoleMatrix) Shared(path string) bool {
	_, ok := m.shared[path]
	return ok
}

// Allows returns true if role may enter route as far as role requirements
// go. Authentication is checked separately.
func (m *RoleMatrix) Allows(role models.Role, route Route) bool {
	if !route.Restricted() {
		return true
	}
	if m.Shared(route.Path) {
		return true
	}
	return slices.Contains(route.RequiresRole, role)
}

// CanAccess combines the authentication and role checks for snap, for
// deciding whether to render a link or action.
func (m *RoleMatrix) CanAccess(snap *models.Snapshot, route Route) bool {
	if route.RequiresAuth && !snap.Authenticated() {
		return false
	}
	if route.Restricted() && !m.Allows(snap.Role, route) {
		return false
	}
	return true
}

// HasAnyRole returns true if snap is authenticated with one of roles.
func HasAnyRole(snap *models.Snapshot, roles ...models.Role) bool {
	if !snap.Authenticated() {
		return false
	}
	return slices.Contains(roles, snap.Role)
}
