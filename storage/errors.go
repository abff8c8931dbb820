package storage

import (
	"fmt"

	"github.com/giantswarm/team-broker/apperrors"
)

// Lookup errors match apperrors.ErrNotFound, uniqueness errors match
// apperrors.ErrConflict.
var (
	ErrUserNotFound                 = fmt.Errorf("user %w", apperrors.ErrNotFound)
	ErrTeamNotFound                 = fmt.Errorf("team %w", apperrors.ErrNotFound)
	ErrMembershipNotFound           = fmt.Errorf("membership %w", apperrors.ErrNotFound)
	ErrCredentialNotFound           = fmt.Errorf("credential %w", apperrors.ErrNotFound)
	ErrPendingAuthorizationNotFound = fmt.Errorf("pending authorization %w", apperrors.ErrNotFound)

	ErrEmailTaken    = fmt.Errorf("email already registered: %w", apperrors.ErrConflict)
	ErrHandleTaken   = fmt.Errorf("handle already taken: %w", apperrors.ErrConflict)
	ErrTeamNameTaken = fmt.Errorf("team name already taken: %w", apperrors.ErrConflict)
	ErrAlreadyMember = fmt.Errorf("user is already a member: %w", apperrors.ErrConflict)
)
