package server

import (
	"time"
)

const (
	// DefaultPendingAuthorizationTTL is how long an issued state can be redeemed.
	DefaultPendingAuthorizationTTL = 10 * time.Minute

	// DefaultRevokeTimeout bounds each best-effort revocation call.
	DefaultRevokeTimeout = 10 * time.Second

	// DefaultSessionCookieName is the cookie the platform expects session values under.
	DefaultSessionCookieName = ".ROBLOSECURITY"

	// DefaultAPIKeyHeader carries static API keys on outbound requests.
	DefaultAPIKeyHeader = "x-api-key"
)

// DefaultScopes are requested when an authorization is started without scopes.
var DefaultScopes = []string{"openid", "profile"}

// Config holds OAuth broker configuration
type Config struct {
	// PendingAuthorizationTTL is how long a started authorization waits for
	// its callback. Default: 10 minutes
	PendingAuthorizationTTL time.Duration

	// DefaultScopes replaces an empty scope request. Default: openid profile
	DefaultScopes []string

	// ExpiryMargin is how much lifetime an access token must have left to be
	// used without refreshing. Default: security.DefaultExpiryMargin (5 minutes)
	ExpiryMargin time.Duration

	// RevokeTimeout bounds each platform revocation call. Default: 10 seconds
	RevokeTimeout time.Duration

	// SessionCookieName is the cookie name used when a session cookie is the
	// resolved outbound credential. Default: .ROBLOSECURITY
	SessionCookieName string

	// APIKeyHeader is the header used for static API keys. Default: x-api-key
	APIKeyHeader string
}
