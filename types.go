package teambroker

import (
	"time"

	"github.com/giantswarm/team-broker/storage"
)

type registerRequest struct {
	Email    string `json:"email"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// loginRequest accepts an email address or a handle as identifier.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type authorizeRequest struct {
	Scopes []string `json:"scopes"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Handle      string     `json:"handle"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// TeamResponse describes a team, optionally from the caller's point of view.
type TeamResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     int64     `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	Role        string    `json:"role,omitempty"`
	MemberCount int       `json:"memberCount,omitempty"`
}

// MemberResponse is one entry of a team's member list.
type MemberResponse struct {
	UserID   int64     `json:"userId"`
	Email    string    `json:"email"`
	Handle   string    `json:"handle"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// SessionResponse is returned by registration and login.
type SessionResponse struct {
	User      UserResponse  `json:"user"`
	Team      *TeamResponse `json:"team,omitempty"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// MeResponse is returned by /api/auth/me.
type MeResponse struct {
	User  UserResponse   `json:"user"`
	Teams []TeamResponse `json:"teams"`
}

// AuthorizeResponse carries the platform authorization URL for the admin's
// browser.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

func newUserResponse(u *storage.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Handle:      u.Handle,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func newTeamResponse(t *storage.Team) *TeamResponse {
	return &TeamResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt,
	}
}

func newTeamSummaryResponses(summaries []storage.TeamSummary) []TeamResponse {
	out := make([]TeamResponse, 0, len(summaries))
	for _, s := range summaries {
		tr := newTeamResponse(&s.Team)
		tr.Role = string(s.Role)
		tr.MemberCount = s.MemberCount
		out = append(out, *tr)
	}
	return out
}

func newMemberResponse(m storage.Member) MemberResponse {
	return MemberResponse{
		UserID:   m.UserID,
		Email:    m.Email,
		Handle:   m.Handle,
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt,
	}
}
