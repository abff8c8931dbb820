package storage

import (
	"context"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	// CreateUserWithTeam atomically creates the user, their personal team, the
	// owner membership and an empty credential record. IDs are assigned by
	// the store and written back into user and team.
	CreateUserWithTeam(ctx context.Context, user *User, team *Team) error

	GetUser(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail matches email case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetUserByHandle(ctx context.Context, handle string) (*User, error)

	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	SetUserActive(ctx context.Context, id int64, active bool) error
}

// TeamStore persists teams and memberships.
type TeamStore interface {
	// CreateTeam creates a team and its owner membership. The ID is written
	// back into team.
	CreateTeam(ctx context.Context, team *Team) error

	GetTeam(ctx context.Context, id int64) (*Team, error)

	// ListTeamsForUser returns every team the user belongs to with their role
	// and the team's member count. Order is unspecified.
	ListTeamsForUser(ctx context.Context, userID int64) ([]TeamSummary, error)

	GetMembership(ctx context.Context, teamID, userID int64) (*Membership, error)

	// AddMembership fails with ErrAlreadyMember for an existing (team, user) pair.
	AddMembership(ctx context.Context, m *Membership) error

	UpdateMembershipRole(ctx context.Context, teamID, userID int64, role Role, updatedBy int64) error

	DeleteMembership(ctx context.Context, teamID, userID int64) error

	ListMembers(ctx context.Context, teamID int64) ([]Member, error)
}

// CredentialStore persists sealed team credentials. It never sees plaintext
// secrets; encryption happens in the vault before values reach the store.
type CredentialStore interface {
	GetCredential(ctx context.Context, teamID int64) (*TeamCredential, error)

	// EnsureCredential returns the record for teamID, creating an empty one
	// when none exists.
	EnsureCredential(ctx context.Context, teamID int64) (*TeamCredential, error)

	// PatchCredential applies the non-nil fields of patch atomically and
	// returns the resulting record. A missing record is created first.
	PatchCredential(ctx context.Context, teamID int64, patch CredentialPatch) (*TeamCredential, error)

	// ListTeamsWithSessionCookie returns the IDs of teams with a stored cookie.
	ListTeamsWithSessionCookie(ctx context.Context) ([]int64, error)
}

// FlowStore holds pending OAuth authorizations between the redirect to the
// platform and the callback.
type FlowStore interface {
	SavePendingAuthorization(ctx context.Context, p *PendingAuthorization) error

	// ConsumePendingAuthorization atomically fetches and deletes the
	// authorization for state. A second call for the same state returns
	// ErrPendingAuthorizationNotFound, as does an expired authorization.
	ConsumePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)

	// DeleteExpiredPendingAuthorizations removes authorizations that expired
	// at or before now and returns how many were removed.
	DeleteExpiredPendingAuthorizations(ctx context.Context, now time.Time) (int, error)
}

// Store is the relational part of the broker's persistence.
type Store interface {
	UserStore
	TeamStore
	CredentialStore
}
