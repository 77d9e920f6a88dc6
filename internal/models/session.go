package models

import (
	"time"
)

// Role is the closed set of roles a signed-in user can hold.
type Role string

const (
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleSupervisor Role = "supervisor"
)

// Roles lists every valid role.
var Roles = []Role{RoleStudent, RoleTeacher, RoleSupervisor}

// Valid returns true if r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleSupervisor:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Major is the academic major attached to a student profile.
type Major struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Identity holds presentation-only profile attributes.
type Identity struct {
	FullName  string
	AvatarURL string
	Major     *Major
}

// Snapshot is an immutable view of the session at one point in time.
// Token and Role are either both set or both empty.
type Snapshot struct {
	Token     string
	TokenType string
	Role      Role
	Identity  Identity

	// ExpiresAt is read from the bearer token's exp claim when it is a JWT.
	// Zero when unknown.
	ExpiresAt time.Time
}

// Anonymous is the snapshot of a signed-out session.
var Anonymous = &Snapshot{}

// Authenticated returns true if the snapshot carries a credential.
func (s *Snapshot) Authenticated() bool {
	return s != nil && s.Token != "" && s.Role != ""
}

// IsExpired returns true if the token's expiry is known and in the past.
func (s *Snapshot) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}
