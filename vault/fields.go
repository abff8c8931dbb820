package vault

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/storage"
)

// Field names accepted by Vault.Update.
const (
	FieldGroupAPIKey       = "group_api_key"
	FieldUserAPIKey        = "user_api_key"
	FieldOAuthClientID     = "oauth_client_id"
	FieldOAuthClientSecret = "oauth_client_secret"
	FieldOAuthRedirectURI  = "oauth_redirect_uri"
	FieldSessionCookie     = "session_cookie"
	FieldDiscordWebhookURL = "discord_webhook_url"
	FieldSlackWebhookURL   = "slack_webhook_url"
	FieldNotificationEmail = "notification_email"

	// Token fields are written only by the OAuth flow.
	FieldOAuthAccessToken  = "oauth_access_token"
	FieldOAuthRefreshToken = "oauth_refresh_token"
)

type valueKind int

const (
	kindText valueKind = iota
	kindRedirectURL
	kindWebhookURL
	kindEmail
)

// fieldSpec binds a field name to its storage column and its decrypted slot.
type fieldSpec struct {
	name     string
	secret   bool
	writable bool
	kind     valueKind
	patch    func(p *storage.CredentialPatch, v *string)
	stored   func(c *storage.TeamCredential) string
	assign   func(c *Credential, v string)
}

// fieldSpecs is ordered so Unusable lists and validation errors are stable.
var fieldSpecs = []fieldSpec{
	{
		name: FieldGroupAPIKey, secret: true, writable: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.GroupAPIKey = v },
		stored: func(c *storage.TeamCredential) string { return c.GroupAPIKey },
		assign: func(c *Credential, v string) { c.GroupAPIKey = v },
	},
	{
		name: FieldUserAPIKey, secret: true, writable: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.UserAPIKey = v },
		stored: func(c *storage.TeamCredential) string { return c.UserAPIKey },
		assign: func(c *Credential, v string) { c.UserAPIKey = v },
	},
	{
		name: FieldOAuthClientID, writable: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.OAuthClientID = v },
		stored: func(c *storage.TeamCredential) string { return c.OAuthClientID },
		assign: func(c *Credential, v string) { c.OAuthClientID = v },
	},
	{
		name: FieldOAuthClientSecret, secret: true, writable: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.OAuthClientSecret = v },
		stored: func(c *storage.TeamCredential) string { return c.OAuthClientSecret },
		assign: func(c *Credential, v string) { c.OAuthClientSecret = v },
	},
	{
		name: FieldOAuthRedirectURI, writable: true, kind: kindRedirectURL,
		patch:  func(p *storage.CredentialPatch, v *string) { p.OAuthRedirectURI = v },
		stored: func(c *storage.TeamCredential) string { return c.OAuthRedirectURI },
		assign: func(c *Credential, v string) { c.OAuthRedirectURI = v },
	},
	{
		name: FieldOAuthAccessToken, secret: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.OAuthAccessToken = v },
		stored: func(c *storage.TeamCredential) string { return c.OAuthAccessToken },
		assign: func(c *Credential, v string) { c.OAuthAccessToken = v },
	},
	{
		name: FieldOAuthRefreshToken, secret: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.OAuthRefreshToken = v },
		stored: func(c *storage.TeamCredential) string { return c.OAuthRefreshToken },
		assign: func(c *Credential, v string) { c.OAuthRefreshToken = v },
	},
	{
		name: FieldSessionCookie, secret: true, writable: true,
		patch:  func(p *storage.CredentialPatch, v *string) { p.SessionCookie = v },
		stored: func(c *storage.TeamCredential) string { return c.SessionCookie },
		assign: func(c *Credential, v string) { c.SessionCookie = v },
	},
	{
		name: FieldDiscordWebhookURL, secret: true, writable: true, kind: kindWebhookURL,
		patch:  func(p *storage.CredentialPatch, v *string) { p.DiscordWebhookURL = v },
		stored: func(c *storage.TeamCredential) string { return c.DiscordWebhookURL },
		assign: func(c *Credential, v string) { c.DiscordWebhookURL = v },
	},
	{
		name: FieldSlackWebhookURL, secret: true, writable: true, kind: kindWebhookURL,
		patch:  func(p *storage.CredentialPatch, v *string) { p.SlackWebhookURL = v },
		stored: func(c *storage.TeamCredential) string { return c.SlackWebhookURL },
		assign: func(c *Credential, v string) { c.SlackWebhookURL = v },
	},
	{
		name: FieldNotificationEmail, writable: true, kind: kindEmail,
		patch:  func(p *storage.CredentialPatch, v *string) { p.NotificationEmail = v },
		stored: func(c *storage.TeamCredential) string { return c.NotificationEmail },
		assign: func(c *Credential, v string) { c.NotificationEmail = v },
	},
}

func lookupField(name string) (fieldSpec, bool) {
	for _, f := range fieldSpecs {
		if f.name == name {
			return f, true
		}
	}
	return fieldSpec{}, false
}

// WritableFields returns the field names Update accepts.
func WritableFields() []string {
	var names []string
	for _, f := range fieldSpecs {
		if f.writable {
			names = append(names, f.name)
		}
	}
	return names
}

// normalize trims non-secret values and validates them by kind. Secrets are
// stored exactly as given.
func (f fieldSpec) normalize(v string) (string, error) {
	if !f.secret {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return "", nil
	}

	switch f.kind {
	case kindRedirectURL:
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", apperrors.NewValidationError(f.name, "must be an absolute http(s) URL")
		}
		if u.Fragment != "" {
			return "", apperrors.NewValidationError(f.name, "must not contain a fragment")
		}
	case kindWebhookURL:
		u, err := url.Parse(strings.TrimSpace(v))
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return "", apperrors.NewValidationError(f.name, "must be an absolute https URL")
		}
	case kindEmail:
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			return "", apperrors.NewValidationError(f.name, "must be a plain e-mail address")
		}
	}
	return v, nil
}

func unknownFieldError(name string) error {
	return apperrors.NewValidationError(name, fmt.Sprintf("unknown credential field (writable: %s)", strings.Join(WritableFields(), ", ")))
}
