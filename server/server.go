package server

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/providers"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/vault"
)

// Broker runs OAuth flows against the platform on behalf of teams.
type Broker struct {
	provider providers.Provider
	vault    *vault.Vault
	flows    storage.FlowStore

	Config  *Config
	Auditor *security.Auditor
	Logger  *slog.Logger

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// refreshes collapses concurrent refreshes of one team into a single
	// platform call; keyed by team ID.
	refreshes singleflight.Group
}

// New creates a new Broker
func New(
	provider providers.Provider,
	credentials *vault.Vault,
	flows storage.FlowStore,
	config *Config,
	logger *slog.Logger,
) (*Broker, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	applyDefaults(config)

	inst := instrumentation.NewNoop()
	return &Broker{
		provider: provider,
		vault:    credentials,
		flows:    flows,
		Config:   config,
		Logger:   logger,
		metrics:  inst.Metrics(),
		tracer:   inst.Tracer("broker"),
		now:      time.Now,
	}, nil
}

func applyDefaults(config *Config) {
	if config.PendingAuthorizationTTL <= 0 {
		config.PendingAuthorizationTTL = DefaultPendingAuthorizationTTL
	}
	if len(config.DefaultScopes) == 0 {
		config.DefaultScopes = DefaultScopes
	}
	if config.ExpiryMargin <= 0 {
		config.ExpiryMargin = security.DefaultExpiryMargin
	}
	if config.RevokeTimeout <= 0 {
		config.RevokeTimeout = DefaultRevokeTimeout
	}
	if config.SessionCookieName == "" {
		config.SessionCookieName = DefaultSessionCookieName
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = DefaultAPIKeyHeader
	}
}

// SetAuditor sets the security auditor
func (b *Broker) SetAuditor(aud *security.Auditor) {
	b.Auditor = aud
}

// SetInstrumentation enables metrics and tracing for broker operations
func (b *Broker) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	b.metrics = inst.Metrics()
	b.tracer = inst.Tracer("broker")
}

// SetClock replaces the time source. Used by tests.
func (b *Broker) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// Vault returns the credential vault the broker persists tokens in.
func (b *Broker) Vault() *vault.Vault {
	return b.vault
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for verifiers and state parameters.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

func clientOf(c *vault.Credential) providers.ClientCredentials {
	return providers.ClientCredentials{
		ClientID:     c.OAuthClientID,
		ClientSecret: c.OAuthClientSecret,
		RedirectURI:  c.OAuthRedirectURI,
	}
}
