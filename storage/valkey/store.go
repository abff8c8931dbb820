package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/team-broker/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "team-broker:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxStateLength bounds lookups so oversized callback input never reaches Valkey.
	maxStateLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "team-broker:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.FlowStore. Pending authorizations live in
// TTL keys, so every broker replica sees the same one-time state and Valkey
// handles expiry.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

var _ storage.FlowStore = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

func (s *Store) pendingKey(state string) string {
	return fmt.Sprintf("%spending:%s", s.prefix, state)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
