// Package vault stores per-team platform credentials encrypted at rest.
//
// Secret fields are sealed with security.Encryptor before they reach the
// store and opened only for the duration of a request. A field that can no
// longer be decrypted (rotated key, corrupted record) is reported as unusable
// without affecting the team's other fields.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
)

// Config holds vault configuration.
type Config struct {
	Store     storage.CredentialStore
	Encryptor *security.Encryptor

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Vault is the only component that sees plaintext team secrets.
type Vault struct {
	store     storage.CredentialStore
	encryptor *security.Encryptor
	auditor   *security.Auditor
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// Credential is the decrypted view of a team's credentials. It must not
// leave the process.
type Credential struct {
	TeamID int64

	GroupAPIKey string
	UserAPIKey  string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string

	OAuthAccessToken  string
	OAuthRefreshToken string
	OAuthExpiresAt    time.Time
	OAuthScope        string

	SessionCookie string

	DiscordWebhookURL string
	SlackWebhookURL   string
	NotificationEmail string

	UpdatedAt time.Time
	UpdatedBy int64

	// Unusable lists fields whose stored value could not be decrypted.
	Unusable []string
}

// IsUnusable reports whether field failed to decrypt.
func (c *Credential) IsUnusable(field string) bool {
	return slices.Contains(c.Unusable, field)
}

// HasOAuthClient reports whether an authorization flow can be started.
func (c *Credential) HasOAuthClient() bool {
	return c.OAuthClientID != "" && c.OAuthRedirectURI != ""
}

// Status exposes which credentials a team has configured, never their values.
type Status struct {
	TeamID               int64     `json:"teamId"`
	HasGroupAPIKey       bool      `json:"hasGroupApiKey"`
	HasUserAPIKey        bool      `json:"hasUserApiKey"`
	HasOAuthClientID     bool      `json:"hasOAuthClientId"`
	HasOAuthClientSecret bool      `json:"hasOAuthClientSecret"`
	HasOAuthRedirectURI  bool      `json:"hasOAuthRedirectUri"`
	OAuthConfigured      bool      `json:"oauthConfigured"`
	HasOAuthTokens       bool      `json:"hasOAuthTokens"`
	HasSessionCookie     bool      `json:"hasSessionCookie"`
	HasDiscordWebhook    bool      `json:"hasDiscordWebhook"`
	HasSlackWebhook      bool      `json:"hasSlackWebhook"`
	HasNotificationEmail bool      `json:"hasNotificationEmail"`
	UnusableFields       []string  `json:"unusableFields,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// OAuthTokens are the token fields persisted after an exchange or refresh.
type OAuthTokens struct {
	AccessToken string
	// RefreshToken is kept unchanged when empty.
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// New creates a Vault
func New(cfg Config) (*Vault, error) {
	if cfg.Store == nil {
		return nil, errors.New("vault: store is required")
	}
	if cfg.Encryptor == nil {
		return nil, errors.New("vault: encryptor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instrumentation == nil {
		cfg.Instrumentation = instrumentation.NewNoop()
	}
	return &Vault{
		store:     cfg.Store,
		encryptor: cfg.Encryptor,
		auditor:   cfg.Auditor,
		metrics:   cfg.Instrumentation.Metrics(),
		logger:    cfg.Logger,
	}, nil
}

// EncryptSecret seals a plaintext secret.
func (v *Vault) EncryptSecret(plaintext string) (string, error) {
	return v.encryptor.Encrypt(plaintext)
}

// DecryptSecret opens a sealed secret. Failures match apperrors.ErrDecryption.
func (v *Vault) DecryptSecret(sealed string) (string, error) {
	return v.encryptor.Decrypt(sealed)
}

// Get returns the decrypted credentials, creating an empty record on first
// access.
func (v *Vault) Get(ctx context.Context, teamID int64) (*Credential, error) {
	stored, err := v.store.EnsureCredential(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return v.open(ctx, stored), nil
}

func (v *Vault) open(ctx context.Context, stored *storage.TeamCredential) *Credential {
	c := &Credential{
		TeamID:         stored.TeamID,
		OAuthExpiresAt: stored.OAuthExpiresAt,
		OAuthScope:     stored.OAuthScope,
		UpdatedAt:      stored.UpdatedAt,
		UpdatedBy:      stored.UpdatedBy,
	}

	for _, f := range fieldSpecs {
		value := f.stored(stored)
		if value == "" || !f.secret {
			f.assign(c, value)
			continue
		}

		plain, err := v.encryptor.Decrypt(value)
		if err != nil {
			c.Unusable = append(c.Unusable, f.name)
			v.reportUnusable(ctx, stored.TeamID, f.name, err)
			continue
		}
		f.assign(c, plain)
	}
	return c
}

func (v *Vault) reportUnusable(ctx context.Context, teamID int64, field string, err error) {
	v.logger.Warn("Stored secret cannot be decrypted; the team must re-enter it",
		"team_id", teamID, "field", field, "error", err)
	v.metrics.RecordDecryptionFailure(ctx, field)
	v.auditor.LogTeamEvent(security.EventSecretDecryptionFailed, teamID, 0, map[string]any{"field": field})
}

// Update writes the given fields. A nil or empty value clears the field.
// Unknown or read-only field names fail the whole update before anything is
// written. Callers must have checked that actingUserID is an admin.
func (v *Vault) Update(ctx context.Context, teamID int64, updates map[string]*string, actingUserID int64) (*Status, error) {
	patch := storage.CredentialPatch{UpdatedBy: actingUserID}

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		f, ok := lookupField(name)
		if !ok || !f.writable {
			return nil, unknownFieldError(name)
		}

		var raw string
		if p := updates[name]; p != nil {
			raw = *p
		}
		value, err := f.normalize(raw)
		if err != nil {
			return nil, err
		}

		if f.secret && value != "" {
			value, err = v.encryptor.Encrypt(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt %s: %w", name, err)
			}
		}
		f.patch(&patch, &value)
	}

	stored, err := v.store.PatchCredential(ctx, teamID, patch)
	if err != nil {
		return nil, err
	}

	v.auditor.LogTeamEvent(security.EventCredentialsUpdated, teamID, actingUserID, map[string]any{"fields": names})
	v.logger.Info("Updated team credentials", "team_id", teamID, "fields", names)

	return statusOf(v.open(ctx, stored)), nil
}

// SetOAuthTokens stores freshly issued tokens.
func (v *Vault) SetOAuthTokens(ctx context.Context, teamID int64, tokens OAuthTokens) error {
	access, err := v.encryptor.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	expiresAt := tokens.ExpiresAt.UTC()
	patch := storage.CredentialPatch{
		OAuthAccessToken: &access,
		OAuthExpiresAt:   &expiresAt,
		OAuthScope:       &tokens.Scope,
	}

	if tokens.RefreshToken != "" {
		refresh, err := v.encryptor.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		patch.OAuthRefreshToken = &refresh
	}

	if _, err := v.store.PatchCredential(ctx, teamID, patch); err != nil {
		return fmt.Errorf("failed to store oauth tokens: %w", err)
	}
	return nil
}

// ClearOAuthTokens removes all token material, keeping the client settings.
func (v *Vault) ClearOAuthTokens(ctx context.Context, teamID int64) error {
	empty := ""
	var zero time.Time
	_, err := v.store.PatchCredential(ctx, teamID, storage.CredentialPatch{
		OAuthAccessToken:  &empty,
		OAuthRefreshToken: &empty,
		OAuthExpiresAt:    &zero,
		OAuthScope:        &empty,
	})
	if err != nil {
		return fmt.Errorf("failed to clear oauth tokens: %w", err)
	}
	return nil
}

// SessionCookie returns the team's decrypted session cookie. A missing
// cookie matches apperrors.ErrNotFound, a corrupted one apperrors.ErrDecryption.
func (v *Vault) SessionCookie(ctx context.Context, teamID int64) (string, error) {
	stored, err := v.store.GetCredential(ctx, teamID)
	if err != nil {
		return "", err
	}
	if stored.SessionCookie == "" {
		return "", fmt.Errorf("session cookie %w", apperrors.ErrNotFound)
	}

	cookie, err := v.encryptor.Decrypt(stored.SessionCookie)
	if err != nil {
		v.reportUnusable(ctx, teamID, FieldSessionCookie, err)
		return "", err
	}
	return cookie, nil
}

// Status returns the configured-flags view of a team's credentials.
func (v *Vault) Status(ctx context.Context, teamID int64) (*Status, error) {
	c, err := v.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return statusOf(c), nil
}

// TeamsWithSessionCookie returns the IDs of teams with a stored cookie.
func (v *Vault) TeamsWithSessionCookie(ctx context.Context) ([]int64, error) {
	return v.store.ListTeamsWithSessionCookie(ctx)
}

func statusOf(c *Credential) *Status {
	return &Status{
		TeamID:               c.TeamID,
		HasGroupAPIKey:       c.GroupAPIKey != "",
		HasUserAPIKey:        c.UserAPIKey != "",
		HasOAuthClientID:     c.OAuthClientID != "",
		HasOAuthClientSecret: c.OAuthClientSecret != "",
		HasOAuthRedirectURI:  c.OAuthRedirectURI != "",
		OAuthConfigured:      c.OAuthClientID != "" && c.OAuthClientSecret != "" && c.OAuthRedirectURI != "",
		HasOAuthTokens:       c.OAuthAccessToken != "",
		HasSessionCookie:     c.SessionCookie != "",
		HasDiscordWebhook:    c.DiscordWebhookURL != "",
		HasSlackWebhook:      c.SlackWebhookURL != "",
		HasNotificationEmail: c.NotificationEmail != "",
		UnusableFields:       c.Unusable,
		UpdatedAt:            c.UpdatedAt,
	}
}
