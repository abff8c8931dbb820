// Package team manages teams and role-based membership.
//
// Roles are ordered viewer < member < admin < owner. Admins and owners manage
// membership; the owner membership itself can never be removed, demoted or
// granted through membership operations, which keeps exactly one owner per
// team.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
)

// MaxNameLength is the maximum team name length in characters.
const MaxNameLength = 100

// Config holds directory configuration.
type Config struct {
	Users   storage.UserStore
	Teams   storage.TeamStore
	Auditor *security.Auditor
	Logger  *slog.Logger
}

// Directory answers membership questions and performs audited membership
// mutations.
type Directory struct {
	users   storage.UserStore
	teams   storage.TeamStore
	auditor *security.Auditor
	logger  *slog.Logger
}

// New creates a Directory
func New(cfg Config) (*Directory, error) {
	if cfg.Users == nil || cfg.Teams == nil {
		return nil, errors.New("team: user and team stores are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Directory{
		users:   cfg.Users,
		teams:   cfg.Teams,
		auditor: cfg.Auditor,
		logger:  cfg.Logger,
	}, nil
}

// ListTeamsFor returns the user's teams, highest role first and newest team
// first within a role.
func (d *Directory) ListTeamsFor(ctx context.Context, userID int64) ([]storage.TeamSummary, error) {
	teams, err := d.teams.ListTeamsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	slices.SortStableFunc(teams, func(a, b storage.TeamSummary) int {
		if a.Role.Rank() != b.Role.Rank() {
			return b.Role.Rank() - a.Role.Rank()
		}
		if c := b.Team.CreatedAt.Compare(a.Team.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Team.ID > b.Team.ID:
			return -1
		case a.Team.ID < b.Team.ID:
			return 1
		}
		return 0
	})
	return teams, nil
}

// Role returns the user's role in the team. A missing membership yields an
// error matching apperrors.ErrNotFound.
func (d *Directory) Role(ctx context.Context, userID, teamID int64) (storage.Role, error) {
	m, err := d.teams.GetMembership(ctx, teamID, userID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// HasAccess reports whether the user holds at least minRole in the team.
func (d *Directory) HasAccess(ctx context.Context, userID, teamID int64, minRole storage.Role) (bool, error) {
	role, err := d.Role(ctx, userID, teamID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role.AtLeast(minRole), nil
}

// requireManager fails with ErrPermission unless actingUserID is an admin or
// owner of the team.
func (d *Directory) requireManager(ctx context.Context, teamID, actingUserID int64) error {
	ok, err := d.HasAccess(ctx, actingUserID, teamID, storage.RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: admin or owner role required", apperrors.ErrPermission)
	}
	return nil
}

// AddMember adds the user registered under email with the given role.
func (d *Directory) AddMember(ctx context.Context, teamID int64, email string, role storage.Role, actingUserID int64) (*storage.Member, error) {
	if err := d.requireManager(ctx, teamID, actingUserID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	if role == storage.RoleOwner {
		return nil, apperrors.NewValidationError("role", "the owner role cannot be granted")
	}

	user, err := d.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	m := &storage.Membership{TeamID: teamID, UserID: user.ID, Role: role, UpdatedBy: actingUserID}
	if err := d.teams.AddMembership(ctx, m); err != nil {
		return nil, err
	}

	d.auditor.LogTeamEvent(security.EventMemberAdded, teamID, actingUserID, map[string]any{
		"target_user_id": user.ID,
		"role":           string(role),
	})
	d.logger.Info("Added team member", "team_id", teamID, "user_id", user.ID, "role", role)

	return &storage.Member{
		UserID:   user.ID,
		Email:    user.Email,
		Handle:   user.Handle,
		Role:     role,
		JoinedAt: m.CreatedAt,
	}, nil
}

// requireMember fails with ErrPermission unless actingUserID belongs to the
// team. Outsiders learn nothing about the team's members.
func (d *Directory) requireMember(ctx context.Context, teamID, actingUserID int64) error {
	ok, err := d.HasAccess(ctx, actingUserID, teamID, storage.RoleViewer)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: admin or owner role required", apperrors.ErrPermission)
	}
	return nil
}

// protectOwner loads the target membership and rejects owner targets before
// the admin check, so the owner is protected from every member of the team.
// A missing membership is returned as (nil, nil).
func (d *Directory) protectOwner(ctx context.Context, teamID, targetUserID, actingUserID int64, operation string) (*storage.Membership, error) {
	if err := d.requireMember(ctx, teamID, actingUserID); err != nil {
		return nil, err
	}
	target, err := d.teams.GetMembership(ctx, teamID, targetUserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if target.Role == storage.RoleOwner {
		d.auditor.LogTeamEvent(security.EventProtectedRoleViolation, teamID, actingUserID, map[string]any{
			"target_user_id": targetUserID,
			"operation":      operation,
		})
		return nil, fmt.Errorf("%w: cannot %s the team owner", apperrors.ErrProtectedRole, operation)
	}
	return target, nil
}

// RemoveMember deletes a non-owner membership.
func (d *Directory) RemoveMember(ctx context.Context, teamID, targetUserID, actingUserID int64) error {
	target, err := d.protectOwner(ctx, teamID, targetUserID, actingUserID, "remove")
	if err != nil {
		return err
	}
	if err := d.requireManager(ctx, teamID, actingUserID); err != nil {
		return err
	}
	if target == nil {
		return storage.ErrMembershipNotFound
	}

	if err := d.teams.DeleteMembership(ctx, teamID, targetUserID); err != nil {
		return err
	}

	d.auditor.LogTeamEvent(security.EventMemberRemoved, teamID, actingUserID, map[string]any{
		"target_user_id": targetUserID,
		"previous_role":  string(target.Role),
	})
	d.logger.Info("Removed team member", "team_id", teamID, "user_id", targetUserID)
	return nil
}

// ChangeRole sets a non-owner member's role to any role below owner.
func (d *Directory) ChangeRole(ctx context.Context, teamID, targetUserID int64, newRole storage.Role, actingUserID int64) error {
	target, err := d.protectOwner(ctx, teamID, targetUserID, actingUserID, "change the role of")
	if err != nil {
		return err
	}
	if newRole == storage.RoleOwner {
		d.auditor.LogTeamEvent(security.EventProtectedRoleViolation, teamID, actingUserID, map[string]any{
			"target_user_id": targetUserID,
			"operation":      "grant owner",
		})
		return fmt.Errorf("%w: the owner role cannot be granted", apperrors.ErrProtectedRole)
	}
	if !newRole.Valid() {
		return apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", newRole))
	}
	if err := d.requireManager(ctx, teamID, actingUserID); err != nil {
		return err
	}
	if target == nil {
		return storage.ErrMembershipNotFound
	}
	if target.Role == newRole {
		return nil
	}

	if err := d.teams.UpdateMembershipRole(ctx, teamID, targetUserID, newRole, actingUserID); err != nil {
		return err
	}

	d.auditor.LogTeamEvent(security.EventMemberRoleChanged, teamID, actingUserID, map[string]any{
		"target_user_id": targetUserID,
		"previous_role":  string(target.Role),
		"new_role":       string(newRole),
	})
	d.logger.Info("Changed member role", "team_id", teamID, "user_id", targetUserID, "role", newRole)
	return nil
}

// CreateTeam creates a team owned by ownerID.
func (d *Directory) CreateTeam(ctx context.Context, name, description string, ownerID int64) (*storage.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("name", "team name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, apperrors.NewValidationError("name", fmt.Sprintf("team name must be at most %d characters", MaxNameLength))
	}

	t := &storage.Team{Name: name, Description: strings.TrimSpace(description), OwnerID: ownerID}
	if err := d.teams.CreateTeam(ctx, t); err != nil {
		return nil, err
	}

	d.auditor.LogTeamEvent(security.EventTeamCreated, t.ID, ownerID, map[string]any{"name": t.Name})
	return t, nil
}

// GetTeam returns a team by ID.
func (d *Directory) GetTeam(ctx context.Context, teamID int64) (*storage.Team, error) {
	return d.teams.GetTeam(ctx, teamID)
}

// ListMembers returns the team's members ordered by join time.
func (d *Directory) ListMembers(ctx context.Context, teamID int64) ([]storage.Member, error) {
	return d.teams.ListMembers(ctx, teamID)
}
