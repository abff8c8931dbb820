package storage

import (
	"fmt"
	"strings"

	"github.com/giantswarm/team-broker/apperrors"
)

// Role is a membership role. Roles are ordered viewer < member < admin < owner
// and each implies the permissions of the roles below it.
type Role string

// Membership roles.
const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Rank returns the role's position in the hierarchy, or 0 for an unknown role.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r grants everything min grants.
// Unknown roles never satisfy a check.
func (r Role) AtLeast(minRole Role) bool {
	return r.Valid() && minRole.Valid() && r.Rank() >= minRole.Rank()
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}
