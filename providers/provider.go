package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ClientCredentials identifies a team's OAuth client at the platform.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// SessionInfo is what the platform reports for an accepted session cookie.
type SessionInfo struct {
	UserID int64
	Name   string
}

// Provider defines the operations the broker performs against the platform.
type Provider interface {
	// Name returns the provider name (e.g., "platform", "mock")
	Name() string

	// AuthorizationURL builds the URL an admin is redirected to. The code
	// challenge is always S256.
	AuthorizationURL(client ClientCredentials, state, codeChallenge string, scopes []string) string

	// ExchangeCode exchanges an authorization code and its PKCE verifier for tokens.
	// Rejections by the token endpoint are returned as *apperrors.TokenExchangeError.
	ExchangeCode(ctx context.Context, client ClientCredentials, code, codeVerifier string) (*oauth2.Token, error)

	// RefreshToken obtains a new access token. The returned token may omit
	// the refresh token when the platform does not rotate it.
	RefreshToken(ctx context.Context, client ClientCredentials, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes an access or refresh token at the platform.
	RevokeToken(ctx context.Context, client ClientCredentials, token string) error

	// ProbeSession checks a session cookie against the platform. A rejected
	// cookie yields an error for which IsAuthFailure reports true.
	ProbeSession(ctx context.Context, cookie string) (*SessionInfo, error)
}

// StatusError is returned when a platform endpoint answers with an
// unexpected HTTP status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
}

// IsAuthFailure reports whether err means the platform rejected the
// presented credential (HTTP 401 or 403).
func IsAuthFailure(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}
