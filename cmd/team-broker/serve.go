package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	teambroker "github.com/giantswarm/team-broker"
	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/internal/config"
	"github.com/giantswarm/team-broker/providers/platform"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/storage/memory"
	"github.com/giantswarm/team-broker/storage/postgres"
	"github.com/giantswarm/team-broker/storage/valkey"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 20 * time.Second
	migrateTimeout    = time.Minute
)

func newServeCmd(version string) *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker HTTP API",
		Long: `Starts the broker HTTP API and, when enabled, the session cookie monitor.

Configuration is read from --config (YAML), then from --env-file, then from
TEAM_BROKER_* environment variables, each overriding the previous source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, configPath, envFile, version)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	return cmd
}

func runServe(ctx context.Context, configPath, envFile, version string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	exporter := instrumentation.ExporterNone
	if cfg.Metrics.Enabled {
		exporter = instrumentation.ExporterPrometheus
	}
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     instrumentation.DefaultServiceName,
		ServiceVersion:  version,
		Enabled:         cfg.Metrics.Enabled,
		MetricsExporter: exporter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	key, err := loadEncryptionKey(cfg.Security, logger)
	if err != nil {
		return err
	}
	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	store, flows, closeStores, err := openStores(ctx, cfg.Storage, inst, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	provider, err := platform.NewProvider(&platform.Config{
		AuthBaseURL:       cfg.Platform.AuthBaseURL,
		UsersBaseURL:      cfg.Platform.UsersBaseURL,
		SessionCookieName: cfg.Platform.SessionCookieName,
		HTTPClient:        platformHTTPClient(cfg.Platform.Timeout),
		Instrumentation:   inst,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create platform provider: %w", err)
	}

	srv, err := teambroker.NewServer(store, flows, provider, encryptor, brokerConfig(cfg, logger, inst))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", teambroker.NewHandler(srv, logger).Routes())
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("Starting team broker",
		"addr", cfg.ListenAddr,
		"public_url", cfg.PublicURL,
		"storage", cfg.Storage.Backend,
		"flow_storage", cfg.Storage.FlowBackend,
		"monitor", cfg.Monitor.Enabled,
		"metrics", cfg.Metrics.Enabled,
		"version", version)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", "error", err)
	}
	return serveErr
}

func brokerConfig(cfg *config.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) *teambroker.Config {
	return &teambroker.Config{
		PublicURL:   strings.TrimSuffix(cfg.PublicURL, "/"),
		SettingsURL: cfg.SettingsURL,
		Identity: teambroker.IdentityConfig{
			TokenSecret:       []byte(cfg.Security.TokenSecret),
			TokenTTL:          cfg.Identity.TokenTTL,
			MinPasswordLength: cfg.Identity.MinPasswordLength,
			BcryptCost:        cfg.Identity.BcryptCost,
		},
		OAuth: teambroker.OAuthConfig{
			PendingAuthorizationTTL: cfg.OAuth.PendingAuthorizationTTL,
			DefaultScopes:           cfg.OAuth.DefaultScopes,
			SessionCookieName:       cfg.Platform.SessionCookieName,
			APIKeyHeader:            cfg.OAuth.APIKeyHeader,
		},
		Monitor: teambroker.MonitorConfig{
			Enabled:              cfg.Monitor.Enabled,
			Interval:             cfg.Monitor.Interval,
			NotificationInterval: cfg.Monitor.NotificationInterval,
			WebhookUsername:      cfg.Monitor.WebhookUsername,
		},
		RateLimit: teambroker.RateLimitConfig{
			AuthPerMinute:     cfg.RateLimit.AuthPerMinute,
			AuthBurst:         cfg.RateLimit.AuthBurst,
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
		Security: teambroker.SecurityConfig{
			EnableAuditLogging: cfg.Security.AuditLogging,
		},
		Logger:          logger,
		Instrumentation: inst,
	}
}

// loadEncryptionKey prefers an inline key over the key file.
func loadEncryptionKey(cfg config.SecurityConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		key, err := security.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		return key, nil
	}

	key, err := security.LoadKeyFile(cfg.EncryptionKeyFile, security.KeyFileOptions{
		AllowGeneration: cfg.GenerateKey,
		Logger:          logger,
	})
	if err != nil {
		if errors.Is(err, security.ErrKeyNotProvisioned) {
			return nil, fmt.Errorf("%w (run 'team-broker keygen --out %s' or set TEAM_BROKER_ENCRYPTION_KEY)", err, cfg.EncryptionKeyFile)
		}
		return nil, err
	}
	return key, nil
}

// openStores opens the team store and the flow store. The returned close
// function releases both.
func openStores(ctx context.Context, cfg config.StorageConfig, inst *instrumentation.Instrumentation, logger *slog.Logger) (storage.Store, storage.FlowStore, func(), error) {
	var (
		store   storage.Store
		closers []func()
		mem     *memory.Store
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	newMemory := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
			mem.SetLogger(logger)
			mem.SetInstrumentation(inst)
			closers = append(closers, mem.Stop)
		}
		return mem
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := postgres.Open(postgres.Config{DSN: cfg.PostgresDSN, Logger: logger})
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })

		migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
		defer cancel()
		if err := pg.Migrate(migrateCtx); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		store = pg
	default:
		logger.Warn("Using in-memory storage; data is lost on restart")
		store = newMemory()
	}

	var flows storage.FlowStore
	switch cfg.FlowBackend {
	case config.BackendValkey:
		vk, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, vk.Close)
		flows = vk
	default:
		flows = newMemory()
	}

	return store, flows, closeAll, nil
}

func platformHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: timeout}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
