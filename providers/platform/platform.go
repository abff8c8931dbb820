// Package platform implements providers.Provider for the game platform's
// OAuth 2.0 endpoints and its session-authenticated users API.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/internal/util"
	"github.com/giantswarm/team-broker/providers"
)

const (
	// DefaultAuthBaseURL hosts /authorize, /token and /token/revoke.
	DefaultAuthBaseURL = "https://apis.roblox.com/oauth/v1"

	// DefaultUsersBaseURL hosts the session probe endpoint.
	DefaultUsersBaseURL = "https://users.roblox.com"

	// DefaultSessionCookieName is the cookie the platform reads the session from.
	DefaultSessionCookieName = ".ROBLOSECURITY"

	// CodeChallengeMethod is the only PKCE method the broker uses.
	CodeChallengeMethod = "S256"

	defaultHTTPTimeout = 15 * time.Second
	probeTimeout       = 10 * time.Second
	maxBodyLength      = 2048

	authenticatedUserPath = "/v1/users/authenticated"
)

// Config holds platform endpoint configuration. Zero values select the
// production endpoints.
type Config struct {
	AuthBaseURL       string
	UsersBaseURL      string
	SessionCookieName string

	// HTTPClient is used for every outbound call (default: 15s timeout)
	HTTPClient *http.Client

	// Instrumentation records provider API call metrics (optional)
	Instrumentation *instrumentation.Instrumentation

	Logger *slog.Logger
}

// Provider talks to the platform over HTTP.
type Provider struct {
	authBaseURL  string
	usersBaseURL string
	cookieName   string
	httpClient   *http.Client
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider creates a platform provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	authBase := util.NormalizeURL(cfg.AuthBaseURL)
	if authBase == "" {
		authBase = DefaultAuthBaseURL
	}
	usersBase := util.NormalizeURL(cfg.UsersBaseURL)
	if usersBase == "" {
		usersBase = DefaultUsersBaseURL
	}
	for name, raw := range map[string]string{"auth base URL": authBase, "users base URL": usersBase} {
		if err := validateBaseURL(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	cookieName := cfg.SessionCookieName
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	inst := cfg.Instrumentation
	if inst == nil {
		inst = instrumentation.NewNoop()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		authBaseURL:  authBase,
		usersBaseURL: usersBase,
		cookieName:   cookieName,
		httpClient:   httpClient,
		metrics:      inst.Metrics(),
		logger:       logger,
	}, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "platform"
}

// SessionCookieName returns the cookie name used for session credentials.
func (p *Provider) SessionCookieName() string {
	return p.cookieName
}

func (p *Provider) oauthConfig(client providers.ClientCredentials, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.authBaseURL + "/authorize",
			TokenURL:  p.authBaseURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the platform authorization URL with an S256 challenge
func (p *Provider) AuthorizationURL(client providers.ClientCredentials, state, codeChallenge string, scopes []string) string {
	return p.oauthConfig(client, scopes).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeMethod),
	)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, client providers.ClientCredentials, code, codeVerifier string) (*oauth2.Token, error) {
	start := time.Now()
	token, err := providers.ExchangeCodeWithPKCE(ctx, p.oauthConfig(client, nil), p.httpClient, code, codeVerifier)
	p.recordCall(ctx, "token_exchange", statusOf(err), start)
	return token, err
}

// RefreshToken refreshes an access token
func (p *Provider) RefreshToken(ctx context.Context, client providers.ClientCredentials, refreshToken string) (*oauth2.Token, error) {
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.oauthConfig(client, nil).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		err = providers.TokenError("refresh", err)
	}
	p.recordCall(ctx, "token_refresh", statusOf(err), start)
	return token, err
}

// RevokeToken revokes a token at the platform's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, client providers.ClientCredentials, token string) error {
	form := url.Values{}
	form.Set("client_id", client.ClientID)
	form.Set("client_secret", client.ClientSecret)
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authBaseURL+"/token/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordCall(ctx, "token_revoke", 0, start)
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	p.recordCall(ctx, "token_revoke", resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &providers.StatusError{Operation: "token revocation", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

// ProbeSession asks the platform who the session cookie belongs to
func (p *Provider) ProbeSession(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usersBaseURL+authenticatedUserPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	// Set the header directly: AddCookie would reject characters the
	// platform's cookie values are allowed to contain.
	req.Header.Set("Cookie", p.cookieName+"="+cookie)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordCall(ctx, "session_probe", 0, start)
		return nil, fmt.Errorf("session probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	p.recordCall(ctx, "session_probe", resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &providers.StatusError{Operation: "session probe", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var body struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode session probe response: %w", err)
	}
	if body.ID == 0 {
		return nil, errors.New("session probe response did not identify a user")
	}

	name := body.Name
	if name == "" {
		name = body.DisplayName
	}
	return &providers.SessionInfo{UserID: body.ID, Name: name}, nil
}

func (p *Provider) recordCall(ctx context.Context, operation string, status int, start time.Time) {
	p.metrics.RecordProviderAPICall(ctx, operation, status, float64(time.Since(start).Microseconds())/1000)
	if status >= 400 || status == 0 {
		p.logger.Debug("Platform call failed", "operation", operation, "status", status)
	}
}

// statusOf extracts the HTTP status of a token endpoint failure, 200 on
// success and 0 when no response was received.
func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var oauthErr *oauth2.RetrieveError
	if errors.As(err, &oauthErr) && oauthErr.Response != nil {
		return oauthErr.Response.StatusCode
	}
	return 0
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxBodyLength))
	return string(b)
}
