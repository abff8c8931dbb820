package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/giantswarm/team-broker/storage"
)

// This file is the only place where SQL column names meet domain field
// names. Business code never sees a row type.

const userColumns = `id, email, handle, password_hash, is_active, created_at, last_login`

type userRow struct {
	ID           int64
	Email        string
	Handle       string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	LastLogin    sql.NullTime
}

func (r *userRow) scanTargets() []any {
	return []any{&r.ID, &r.Email, &r.Handle, &r.PasswordHash, &r.IsActive, &r.CreatedAt, &r.LastLogin}
}

func (r *userRow) toDomain() *storage.User {
	u := &storage.User{
		ID:           r.ID,
		Email:        r.Email,
		Handle:       r.Handle,
		PasswordHash: r.PasswordHash,
		Active:       r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		t := r.LastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return u
}

const teamColumns = `id, name, description, owner_id, created_at`

type teamRow struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

func (r *teamRow) scanTargets() []any {
	return []any{&r.ID, &r.Name, &r.Description, &r.OwnerID, &r.CreatedAt}
}

func (r *teamRow) toDomain() *storage.Team {
	return &storage.Team{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

const membershipColumns = `team_id, user_id, role, created_at, updated_at, updated_by`

type membershipRow struct {
	TeamID    int64
	UserID    int64
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
	UpdatedBy sql.NullInt64
}

func (r *membershipRow) scanTargets() []any {
	return []any{&r.TeamID, &r.UserID, &r.Role, &r.CreatedAt, &r.UpdatedAt, &r.UpdatedBy}
}

func (r *membershipRow) toDomain() *storage.Membership {
	return &storage.Membership{
		TeamID:    r.TeamID,
		UserID:    r.UserID,
		Role:      storage.Role(r.Role),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		UpdatedBy: r.UpdatedBy.Int64,
	}
}

const credentialColumns = `team_id, group_api_key, user_api_key, oauth_client_id, oauth_client_secret,
	oauth_redirect_uri, oauth_access_token, oauth_refresh_token, oauth_expires_at, oauth_scope,
	session_cookie, discord_webhook_url, slack_webhook_url, notification_email, updated_at, updated_by`

type credentialRow struct {
	TeamID            int64
	GroupAPIKey       string
	UserAPIKey        string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	OAuthAccessToken  string
	OAuthRefreshToken string
	OAuthExpiresAt    sql.NullTime
	OAuthScope        string
	SessionCookie     string
	DiscordWebhookURL string
	SlackWebhookURL   string
	NotificationEmail string
	UpdatedAt         time.Time
	UpdatedBy         sql.NullInt64
}

func (r *credentialRow) scanTargets() []any {
	return []any{
		&r.TeamID, &r.GroupAPIKey, &r.UserAPIKey, &r.OAuthClientID, &r.OAuthClientSecret,
		&r.OAuthRedirectURI, &r.OAuthAccessToken, &r.OAuthRefreshToken, &r.OAuthExpiresAt, &r.OAuthScope,
		&r.SessionCookie, &r.DiscordWebhookURL, &r.SlackWebhookURL, &r.NotificationEmail, &r.UpdatedAt, &r.UpdatedBy,
	}
}

func (r *credentialRow) toDomain() *storage.TeamCredential {
	c := &storage.TeamCredential{
		TeamID:            r.TeamID,
		GroupAPIKey:       r.GroupAPIKey,
		UserAPIKey:        r.UserAPIKey,
		OAuthClientID:     r.OAuthClientID,
		OAuthClientSecret: r.OAuthClientSecret,
		OAuthRedirectURI:  r.OAuthRedirectURI,
		OAuthAccessToken:  r.OAuthAccessToken,
		OAuthRefreshToken: r.OAuthRefreshToken,
		OAuthScope:        r.OAuthScope,
		SessionCookie:     r.SessionCookie,
		DiscordWebhookURL: r.DiscordWebhookURL,
		SlackWebhookURL:   r.SlackWebhookURL,
		NotificationEmail: r.NotificationEmail,
		UpdatedAt:         r.UpdatedAt.UTC(),
		UpdatedBy:         r.UpdatedBy.Int64,
	}
	if r.OAuthExpiresAt.Valid {
		c.OAuthExpiresAt = r.OAuthExpiresAt.Time.UTC()
	}
	return c
}

// patchAssignments maps the set fields of a patch to column/value pairs.
// Column names come from this fixed list only.
func patchAssignments(p storage.CredentialPatch) (columns []string, values []any) {
	add := func(col string, v *string) {
		if v != nil {
			columns = append(columns, col)
			values = append(values, *v)
		}
	}
	add("group_api_key", p.GroupAPIKey)
	add("user_api_key", p.UserAPIKey)
	add("oauth_client_id", p.OAuthClientID)
	add("oauth_client_secret", p.OAuthClientSecret)
	add("oauth_redirect_uri", p.OAuthRedirectURI)
	add("oauth_access_token", p.OAuthAccessToken)
	add("oauth_refresh_token", p.OAuthRefreshToken)
	add("oauth_scope", p.OAuthScope)
	add("session_cookie", p.SessionCookie)
	add("discord_webhook_url", p.DiscordWebhookURL)
	add("slack_webhook_url", p.SlackWebhookURL)
	add("notification_email", p.NotificationEmail)
	if p.OAuthExpiresAt != nil {
		columns = append(columns, "oauth_expires_at")
		if p.OAuthExpiresAt.IsZero() {
			values = append(values, nil)
		} else {
			values = append(values, p.OAuthExpiresAt.UTC())
		}
	}
	return columns, values
}

// PostgreSQL error codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// constraintErrors translates violated constraint names into storage errors.
var constraintErrors = map[string]error{
	"users_handle_key":              storage.ErrHandleTaken,
	"users_email_lower_key":         storage.ErrEmailTaken,
	"teams_name_key":                storage.ErrTeamNameTaken,
	"team_members_pkey":             storage.ErrAlreadyMember,
	"teams_owner_id_fkey":           storage.ErrUserNotFound,
	"team_members_team_id_fkey":     storage.ErrTeamNotFound,
	"team_members_user_id_fkey":     storage.ErrUserNotFound,
	"team_credentials_team_id_fkey": storage.ErrTeamNotFound,
}

// translateError maps driver errors to storage errors. Unknown errors are
// returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if pqErr.Code != pqUniqueViolation && pqErr.Code != pqForeignKeyViolation {
		return err
	}
	if mapped, ok := constraintErrors[pqErr.Constraint]; ok {
		return mapped
	}
	return err
}
