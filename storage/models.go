package storage

import (
	"time"
)

// User is an account on the dashboard.
type User struct {
	ID           int64
	Email        string
	Handle       string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Team is a tenant. Every team has exactly one owner membership.
type Team struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// Membership links a user to a team with a role.
type Membership struct {
	TeamID    int64
	UserID    int64
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
	// UpdatedBy is the user who last changed the role (0 for the creator).
	UpdatedBy int64
}

// TeamSummary is one entry of a user's team list.
type TeamSummary struct {
	Team        Team
	Role        Role
	MemberCount int
}

// Member is a membership joined with the user's public identity.
type Member struct {
	UserID   int64
	Email    string
	Handle   string
	Role     Role
	JoinedAt time.Time
}

// TeamCredential is the stored form of a team's platform credentials. Fields
// marked sealed hold Encryptor output, never plaintext.
type TeamCredential struct {
	TeamID int64

	GroupAPIKey string // sealed
	UserAPIKey  string // sealed

	OAuthClientID     string
	OAuthClientSecret string // sealed
	OAuthRedirectURI  string

	OAuthAccessToken  string // sealed
	OAuthRefreshToken string // sealed
	OAuthExpiresAt    time.Time
	OAuthScope        string

	SessionCookie string // sealed

	DiscordWebhookURL string // sealed
	SlackWebhookURL   string // sealed
	NotificationEmail string

	UpdatedAt time.Time
	UpdatedBy int64
}

// CredentialPatch lists fields to change on a TeamCredential. Nil fields are
// left untouched; a pointer to "" clears the field.
type CredentialPatch struct {
	GroupAPIKey       *string
	UserAPIKey        *string
	OAuthClientID     *string
	OAuthClientSecret *string
	OAuthRedirectURI  *string
	OAuthAccessToken  *string
	OAuthRefreshToken *string
	OAuthExpiresAt    *time.Time
	OAuthScope        *string
	SessionCookie     *string
	DiscordWebhookURL *string
	SlackWebhookURL   *string
	NotificationEmail *string

	UpdatedBy int64
}

// Apply writes the patch into c and stamps UpdatedAt with now. UpdatedBy is
// only replaced when the patch names an acting user.
func (p CredentialPatch) Apply(c *TeamCredential, now time.Time) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.GroupAPIKey, p.GroupAPIKey)
	set(&c.UserAPIKey, p.UserAPIKey)
	set(&c.OAuthClientID, p.OAuthClientID)
	set(&c.OAuthClientSecret, p.OAuthClientSecret)
	set(&c.OAuthRedirectURI, p.OAuthRedirectURI)
	set(&c.OAuthAccessToken, p.OAuthAccessToken)
	set(&c.OAuthRefreshToken, p.OAuthRefreshToken)
	set(&c.OAuthScope, p.OAuthScope)
	set(&c.SessionCookie, p.SessionCookie)
	set(&c.DiscordWebhookURL, p.DiscordWebhookURL)
	set(&c.SlackWebhookURL, p.SlackWebhookURL)
	set(&c.NotificationEmail, p.NotificationEmail)
	if p.OAuthExpiresAt != nil {
		c.OAuthExpiresAt = *p.OAuthExpiresAt
	}
	c.UpdatedAt = now
	if p.UpdatedBy != 0 {
		c.UpdatedBy = p.UpdatedBy
	}
}

// PendingAuthorization is an OAuth authorization waiting for its callback.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	TeamID       int64
	Scopes       []string
	// InitiatedBy is the admin who started the flow.
	InitiatedBy int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the authorization can no longer be consumed.
func (p *PendingAuthorization) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
