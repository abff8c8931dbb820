package teambroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/team-broker/identity"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/monitor"
	"github.com/giantswarm/team-broker/notify"
	"github.com/giantswarm/team-broker/providers"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/server"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/team"
	"github.com/giantswarm/team-broker/vault"
)

// Server wires the broker's components together. It holds no request state;
// Handler adapts it to HTTP.
type Server struct {
	Identity *identity.Service
	Teams    *team.Directory
	Vault    *vault.Vault
	Broker   *server.Broker
	Resolver *server.Resolver
	Monitor  *monitor.Monitor
	Notifier *notify.Dispatcher

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // nil when auth rate limiting is disabled
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// pendingCounter is implemented by flow stores that can report their size.
type pendingCounter interface {
	PendingCount() int
}

// NewServer creates a new broker server
func NewServer(
	store storage.Store,
	flows storage.FlowStore,
	provider providers.Provider,
	encryptor *security.Encryptor,
	config *Config,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	applyDefaults(config)

	logger := config.Logger
	inst := config.Instrumentation
	auditor := security.NewAuditor(logger, config.Security.EnableAuditLogging)

	identitySvc, err := identity.New(identity.Config{
		Store:             store,
		TokenSecret:       config.Identity.TokenSecret,
		TokenTTL:          config.Identity.TokenTTL,
		MinPasswordLength: config.Identity.MinPasswordLength,
		BcryptCost:        config.Identity.BcryptCost,
		Auditor:           auditor,
		Instrumentation:   inst,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	directory, err := team.New(team.Config{
		Users:   store,
		Teams:   store,
		Auditor: auditor,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	credentials, err := vault.New(vault.Config{
		Store:           store,
		Encryptor:       encryptor,
		Auditor:         auditor,
		Instrumentation: inst,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	broker, err := server.New(provider, credentials, flows, &server.Config{
		PendingAuthorizationTTL: config.OAuth.PendingAuthorizationTTL,
		DefaultScopes:           config.OAuth.DefaultScopes,
		SessionCookieName:       config.OAuth.SessionCookieName,
		APIKeyHeader:            config.OAuth.APIKeyHeader,
	}, logger)
	if err != nil {
		return nil, err
	}
	broker.SetAuditor(auditor)
	broker.SetInstrumentation(inst)

	dispatcher := notify.NewDispatcher(notify.Config{
		Username:        config.Monitor.WebhookUsername,
		Instrumentation: inst,
		Logger:          logger,
	})

	mon, err := monitor.New(monitor.Config{
		Vault:                credentials,
		Teams:                store,
		Provider:             provider,
		Notifier:             dispatcher,
		Interval:             config.Monitor.Interval,
		NotificationInterval: config.Monitor.NotificationInterval,
		Auditor:              auditor,
		Instrumentation:      inst,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}

	if counter, ok := flows.(pendingCounter); ok {
		if err := inst.RegisterPendingAuthorizationsCallback(func() int64 {
			return int64(counter.PendingCount())
		}); err != nil {
			logger.Warn("Failed to register pending authorization gauge", "error", err)
		}
	}

	var limiter *security.RateLimiter
	if config.RateLimit.AuthPerMinute > 0 {
		limiter = security.NewRateLimiter(config.RateLimit.AuthPerMinute, config.RateLimit.AuthBurst, logger)
	}

	return &Server{
		Identity:        identitySvc,
		Teams:           directory,
		Vault:           credentials,
		Broker:          broker,
		Resolver:        server.NewResolver(broker, logger),
		Monitor:         mon,
		Notifier:        dispatcher,
		Auditor:         auditor,
		RateLimiter:     limiter,
		Instrumentation: inst,
		Logger:          logger,
		Config:          config,
	}, nil
}

// Start launches background work. The session cookie monitor only runs when
// enabled; manual checks work either way.
func (s *Server) Start(ctx context.Context) error {
	if !s.Config.Monitor.Enabled {
		s.Logger.Info("Session cookie monitor disabled")
		return nil
	}
	return s.Monitor.Start(ctx)
}

// Shutdown stops background work and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Monitor.Stop()
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}

	var errs []error
	if err := s.Instrumentation.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("instrumentation shutdown: %w", err))
	}
	return errors.Join(errs...)
}
