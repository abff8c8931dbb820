// Package config loads the team-broker process configuration from a YAML
// file, an optional .env file and TEAM_BROKER_* environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TEAM_BROKER_"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendValkey   = "valkey"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

const minTokenSecretLength = 32

// Config is the process configuration.
type Config struct {
	ListenAddr  string `yaml:"listenAddr"`
	PublicURL   string `yaml:"publicUrl"`
	SettingsURL string `yaml:"settingsUrl"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Identity  IdentityConfig  `yaml:"identity"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Platform  PlatformConfig  `yaml:"platform"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Backend holds users, teams and credentials: memory or postgres.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgresDsn"`

	// FlowBackend holds pending authorizations: memory or valkey.
	FlowBackend string       `yaml:"flowBackend"`
	Valkey      ValkeyConfig `yaml:"valkey"`
}

type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type SecurityConfig struct {
	// TokenSecret signs dashboard bearer tokens.
	TokenSecret string `yaml:"tokenSecret"`

	// EncryptionKey is a hex or base64 AES-256 key. When empty the key is
	// read from EncryptionKeyFile.
	EncryptionKey     string `yaml:"encryptionKey"`
	EncryptionKeyFile string `yaml:"encryptionKeyFile"`

	// GenerateKey writes a new key file when EncryptionKeyFile is missing.
	GenerateKey bool `yaml:"generateKey"`

	AuditLogging bool `yaml:"auditLogging"`
}

type IdentityConfig struct {
	TokenTTL          time.Duration `yaml:"tokenTtl"`
	MinPasswordLength int           `yaml:"minPasswordLength"`
	BcryptCost        int           `yaml:"bcryptCost"`
}

type OAuthConfig struct {
	PendingAuthorizationTTL time.Duration `yaml:"pendingAuthorizationTtl"`
	DefaultScopes           []string      `yaml:"defaultScopes"`
	APIKeyHeader            string        `yaml:"apiKeyHeader"`
}

type PlatformConfig struct {
	AuthBaseURL       string        `yaml:"authBaseUrl"`
	UsersBaseURL      string        `yaml:"usersBaseUrl"`
	SessionCookieName string        `yaml:"sessionCookieName"`
	Timeout           time.Duration `yaml:"timeout"`
}

type MonitorConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	NotificationInterval time.Duration `yaml:"notificationInterval"`
	WebhookUsername      string        `yaml:"webhookUsername"`
}

type RateLimitConfig struct {
	AuthPerMinute     int  `yaml:"authPerMinute"`
	AuthBurst         int  `yaml:"authBurst"`
	TrustProxy        bool `yaml:"trustProxy"`
	TrustedProxyCount int  `yaml:"trustedProxyCount"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		PublicURL:  "http://localhost:8080",
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
		},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			FlowBackend: BackendMemory,
		},
		Security: SecurityConfig{
			EncryptionKeyFile: "data/encryption.key",
			AuditLogging:      true,
		},
		Monitor: MonitorConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads path (optional), then dotEnvPath (optional, missing is fine),
// then the process environment, and validates the result.
func Load(path, dotEnvPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from TEAM_BROKER_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LISTEN_ADDR", &c.ListenAddr)
	e.str("PUBLIC_URL", &c.PublicURL)
	e.str("SETTINGS_URL", &c.SettingsURL)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	e.str("STORAGE_BACKEND", &c.Storage.Backend)
	e.str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	e.str("FLOW_BACKEND", &c.Storage.FlowBackend)
	e.str("VALKEY_ADDR", &c.Storage.Valkey.Address)
	e.str("VALKEY_PASSWORD", &c.Storage.Valkey.Password)
	e.integer("VALKEY_DB", &c.Storage.Valkey.DB)
	e.str("VALKEY_KEY_PREFIX", &c.Storage.Valkey.KeyPrefix)

	e.str("TOKEN_SECRET", &c.Security.TokenSecret)
	e.str("ENCRYPTION_KEY", &c.Security.EncryptionKey)
	e.str("ENCRYPTION_KEY_FILE", &c.Security.EncryptionKeyFile)
	e.boolean("GENERATE_KEY", &c.Security.GenerateKey)
	e.boolean("AUDIT_LOGGING", &c.Security.AuditLogging)

	e.duration("TOKEN_TTL", &c.Identity.TokenTTL)
	e.integer("MIN_PASSWORD_LENGTH", &c.Identity.MinPasswordLength)
	e.integer("BCRYPT_COST", &c.Identity.BcryptCost)

	e.duration("PENDING_AUTHORIZATION_TTL", &c.OAuth.PendingAuthorizationTTL)
	e.list("DEFAULT_SCOPES", &c.OAuth.DefaultScopes)
	e.str("API_KEY_HEADER", &c.OAuth.APIKeyHeader)

	e.str("PLATFORM_AUTH_URL", &c.Platform.AuthBaseURL)
	e.str("PLATFORM_USERS_URL", &c.Platform.UsersBaseURL)
	e.str("SESSION_COOKIE_NAME", &c.Platform.SessionCookieName)
	e.duration("PLATFORM_TIMEOUT", &c.Platform.Timeout)

	e.boolean("MONITOR_ENABLED", &c.Monitor.Enabled)
	e.duration("MONITOR_INTERVAL", &c.Monitor.Interval)
	e.duration("NOTIFICATION_INTERVAL", &c.Monitor.NotificationInterval)
	e.str("WEBHOOK_USERNAME", &c.Monitor.WebhookUsername)

	e.integer("AUTH_RATE_PER_MINUTE", &c.RateLimit.AuthPerMinute)
	e.integer("AUTH_RATE_BURST", &c.RateLimit.AuthBurst)
	e.boolean("TRUST_PROXY", &c.RateLimit.TrustProxy)
	e.integer("TRUSTED_PROXY_COUNT", &c.RateLimit.TrustedProxyCount)

	e.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	e.str("METRICS_PATH", &c.Metrics.Path)

	return errors.Join(e.errs...)
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	if len(c.Security.TokenSecret) < minTokenSecretLength {
		errs = append(errs, fmt.Errorf("security.tokenSecret must be at least %d bytes (set %sTOKEN_SECRET)", minTokenSecretLength, EnvPrefix))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgresDsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.Storage.Backend))
	}

	switch c.Storage.FlowBackend {
	case BackendMemory:
	case BackendValkey:
		if c.Storage.Valkey.Address == "" {
			errs = append(errs, errors.New("storage.valkey.address is required for the valkey flow backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported flow backend %q", c.Storage.FlowBackend))
	}

	if c.Security.EncryptionKey == "" && c.Security.EncryptionKeyFile == "" {
		errs = append(errs, errors.New("security.encryptionKey or security.encryptionKeyFile is required"))
	}
	if !slices.Contains([]string{LogFormatJSON, LogFormatText}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}

	return errors.Join(errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.get(name); ok {
		*dst = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
