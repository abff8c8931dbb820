package teambroker

import (
	"log/slog"
	"time"

	"github.com/giantswarm/team-broker/instrumentation"
)

// Config holds the broker's HTTP and component configuration
// Structured using composition like the sections of the config file
type Config struct {
	// PublicURL is the externally visible base URL of the API
	PublicURL string

	// SettingsURL is where the OAuth callback sends the admin's browser.
	// Default: PublicURL + "/settings"
	SettingsURL string

	// Identity holds account and bearer token settings
	Identity IdentityConfig

	// OAuth holds platform authorization settings
	OAuth OAuthConfig

	// Monitor holds session cookie monitoring settings
	Monitor MonitorConfig

	// RateLimit holds login and registration rate limits
	RateLimit RateLimitConfig

	// Security holds audit settings
	Security SecurityConfig

	// MaxRequestBodySize limits JSON request bodies in bytes. Default: 1 MiB
	MaxRequestBodySize int64

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation provides metrics and tracing (optional, no-op if not provided)
	Instrumentation *instrumentation.Instrumentation
}

// IdentityConfig holds account settings
type IdentityConfig struct {
	// TokenSecret signs bearer tokens. At least 32 bytes (required).
	TokenSecret []byte

	// TokenTTL is the bearer token lifetime. Default: 7 days
	TokenTTL time.Duration

	// MinPasswordLength is the shortest accepted password. Default: 8
	MinPasswordLength int

	// BcryptCost is the password hashing cost. Default: bcrypt.DefaultCost
	BcryptCost int
}

// OAuthConfig holds platform authorization settings
type OAuthConfig struct {
	// PendingAuthorizationTTL is how long a started authorization can be
	// completed. Default: 10 minutes
	PendingAuthorizationTTL time.Duration

	// DefaultScopes are requested when the admin selects none. Default: openid profile
	DefaultScopes []string

	// SessionCookieName is sent with resolved session cookies. Default: .ROBLOSECURITY
	SessionCookieName string

	// APIKeyHeader carries resolved static keys. Default: x-api-key
	APIKeyHeader string
}

// MonitorConfig holds session cookie monitoring settings
type MonitorConfig struct {
	// Enabled starts the periodic monitor with the server
	Enabled bool

	// Interval between sweeps. Default: 1 hour
	Interval time.Duration

	// NotificationInterval throttles expiry notifications. Default: 24 hours
	NotificationInterval time.Duration

	// WebhookUsername is shown as the sender of webhook messages
	WebhookUsername string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// AuthPerMinute is the number of login/registration attempts allowed per
	// IP per minute. Zero applies the default of 10; negative disables limiting.
	AuthPerMinute int

	// AuthBurst is the maximum burst size per IP. Default: 5
	AuthBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server. Default: 1
	TrustedProxyCount int
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, membership changes and credential updates (sensitive data hashed).
	EnableAuditLogging bool
}

const (
	defaultAuthPerMinute      = 10
	defaultAuthBurst          = 5
	defaultMaxRequestBodySize = 1 << 20
)

func applyDefaults(config *Config) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Instrumentation == nil {
		config.Instrumentation = instrumentation.NewNoop()
	}
	if config.SettingsURL == "" {
		config.SettingsURL = config.PublicURL + "/settings"
	}
	if config.MaxRequestBodySize <= 0 {
		config.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if config.RateLimit.AuthPerMinute == 0 {
		config.RateLimit.AuthPerMinute = defaultAuthPerMinute
	}
	if config.RateLimit.AuthBurst <= 0 {
		config.RateLimit.AuthBurst = defaultAuthBurst
	}
	if config.RateLimit.TrustedProxyCount <= 0 {
		config.RateLimit.TrustedProxyCount = 1
	}
}
