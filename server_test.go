package teambroker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/team-broker/internal/testutil"
	"github.com/giantswarm/team-broker/providers"
	"github.com/giantswarm/team-broker/providers/mock"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/storage/memory"
)

func TestNewServer(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	provider := mock.NewMockProvider()
	enc := testutil.NewEncryptor(t)

	tests := []struct {
		name     string
		store    storage.Store
		flows    storage.FlowStore
		provider providers.Provider
		enc      *security.Encryptor
		config   *Config
		wantErr  string
	}{
		{"nil store", nil, store, provider, enc, testConfig(), "store is required"},
		{"nil flow store", store, nil, provider, enc, testConfig(), "flow store is required"},
		{"nil provider", store, store, nil, enc, testConfig(), "provider is required"},
		{"nil encryptor", store, store, provider, nil, testConfig(), "encryptor is required"},
		{"nil config", store, store, provider, enc, nil, "config is required"},
		{"short token secret", store, store, provider, enc, &Config{Identity: IdentityConfig{TokenSecret: []byte("short")}}, "token secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.store, tt.flows, tt.provider, tt.enc, tt.config)
			if err == nil {
				t.Fatal("NewServer() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewServer_WiresComponents(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	srv := env.server

	if srv.Identity == nil || srv.Teams == nil || srv.Vault == nil || srv.Broker == nil ||
		srv.Resolver == nil || srv.Monitor == nil || srv.Notifier == nil || srv.Auditor == nil {
		t.Fatalf("NewServer() left a component unset: %+v", srv)
	}
	if srv.RateLimiter != nil {
		t.Error("negative AuthPerMinute should disable the rate limiter")
	}
	if srv.Broker.Vault() != srv.Vault {
		t.Error("broker and server should share the vault")
	}
}

func TestServer_StartMonitor(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := setupTestEnv(t, testConfig())
		if err := env.server.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		// The monitor was never started, so starting it directly succeeds.
		if err := env.server.Monitor.Start(context.Background()); err != nil {
			t.Errorf("Monitor.Start() error = %v", err)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		config := testConfig()
		config.Monitor = MonitorConfig{Enabled: true, Interval: time.Hour}
		env := setupTestEnv(t, config)
		if err := env.server.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := env.server.Monitor.Start(context.Background()); err == nil {
			t.Error("monitor should already be running")
		}
		if err := env.server.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}

func TestServer_ResolverUsesStoredKey(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")

	key := "group-key-1"
	if _, err := env.server.Vault.Update(context.Background(), alice.Team.ID, map[string]*string{"group_api_key": &key}, alice.User.ID); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	header, err := env.server.Resolver.ResolveOutboundAuth(context.Background(), alice.Team.ID, "group")
	if err != nil {
		t.Fatalf("ResolveOutboundAuth() error = %v", err)
	}
	if header.Name != "x-api-key" || header.Value != key {
		t.Errorf("header = %s: %s", header.Name, header.Value)
	}
}
