package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/vault"
)

// KeyKind selects which static API key a request may fall back to.
type KeyKind string

const (
	KeyKindGroup KeyKind = "group"
	KeyKindUser  KeyKind = "user"
)

// AuthMethod identifies the credential chosen for an outbound request.
type AuthMethod string

const (
	AuthMethodOAuth         AuthMethod = "oauth"
	AuthMethodSessionCookie AuthMethod = "session_cookie"
	AuthMethodAPIKey        AuthMethod = "api_key"
)

// AuthHeader is a single header carrying a team's platform credential.
type AuthHeader struct {
	Method AuthMethod
	Name   string
	Value  string
}

// Apply sets the header on req, replacing any previous value.
func (h *AuthHeader) Apply(req *http.Request) {
	req.Header.Set(h.Name, h.Value)
}

// String never includes the credential value.
func (h *AuthHeader) String() string {
	return fmt.Sprintf("%s (%s: <redacted>)", h.Method, h.Name)
}

// Resolver selects the outbound credential for a team.
type Resolver struct {
	broker *Broker
	logger *slog.Logger
}

// NewResolver creates a Resolver that refreshes OAuth tokens through broker.
func NewResolver(broker *Broker, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = broker.Logger
	}
	return &Resolver{broker: broker, logger: logger}
}

// ResolveOutboundAuth returns the header to authenticate a platform request
// for teamID. An OAuth token is preferred, refreshed first when it is close
// to expiry or unusable and a refresh token is stored; a failed refresh is
// returned rather than masked by a fallback.
// Without a token the session cookie is used, then the static key of kind.
// Secrets that cannot be decrypted are skipped.
func (r *Resolver) ResolveOutboundAuth(ctx context.Context, teamID int64, kind KeyKind) (*AuthHeader, error) {
	if kind != KeyKindGroup && kind != KeyKindUser {
		return nil, apperrors.NewValidationError("key_kind", fmt.Sprintf("unknown key kind %q", kind))
	}

	cred, err := r.broker.vault.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}

	header, err := r.resolve(ctx, cred, kind)
	if err != nil {
		r.broker.metrics.RecordAuthResolved(ctx, "none")
		return nil, err
	}
	r.broker.metrics.RecordAuthResolved(ctx, string(header.Method))
	r.logger.Debug("Resolved outbound auth", "team_id", teamID, "method", header.Method)
	return header, nil
}

func (r *Resolver) resolve(ctx context.Context, cred *vault.Credential, kind KeyKind) (*AuthHeader, error) {
	switch {
	case r.broker.usableAccessToken(cred):
		return bearer(cred.OAuthAccessToken), nil
	case cred.OAuthRefreshToken != "":
		// Also covers a missing or undecryptable access token.
		set, err := r.broker.refresh(ctx, cred.TeamID, triggerResolver)
		if err != nil {
			return nil, err
		}
		return bearer(set.AccessToken), nil
	case cred.OAuthAccessToken != "":
		r.logger.Debug("OAuth token expired and cannot be refreshed", "team_id", cred.TeamID)
	}

	if cred.SessionCookie != "" {
		return &AuthHeader{
			Method: AuthMethodSessionCookie,
			Name:   "Cookie",
			Value:  r.broker.Config.SessionCookieName + "=" + cred.SessionCookie,
		}, nil
	}

	key := cred.GroupAPIKey
	if kind == KeyKindUser {
		key = cred.UserAPIKey
	}
	if key != "" {
		return &AuthHeader{
			Method: AuthMethodAPIKey,
			Name:   r.broker.Config.APIKeyHeader,
			Value:  key,
		}, nil
	}

	return nil, apperrors.ErrNoAuthMethodAvailable
}

func bearer(token string) *AuthHeader {
	return &AuthHeader{
		Method: AuthMethodOAuth,
		Name:   "Authorization",
		Value:  "Bearer " + token,
	}
}
