// Package mock provides a configurable providers.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/team-broker/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing.
// Unset Func fields fall back to the defaults installed by NewMockProvider.
type MockProvider struct {
	NameFunc             func() string
	AuthorizationURLFunc func(client providers.ClientCredentials, state, codeChallenge string, scopes []string) string
	ExchangeCodeFunc     func(ctx context.Context, client providers.ClientCredentials, code, codeVerifier string) (*oauth2.Token, error)
	RefreshTokenFunc     func(ctx context.Context, client providers.ClientCredentials, refreshToken string) (*oauth2.Token, error)
	RevokeTokenFunc      func(ctx context.Context, client providers.ClientCredentials, token string) error
	ProbeSessionFunc     func(ctx context.Context, cookie string) (*providers.SessionInfo, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.RWMutex
}

var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(client providers.ClientCredentials, state, codeChallenge string, scopes []string) string {
			q := url.Values{}
			q.Set("client_id", client.ClientID)
			q.Set("redirect_uri", client.RedirectURI)
			q.Set("scope", strings.Join(scopes, " "))
			q.Set("response_type", "code")
			q.Set("state", state)
			q.Set("code_challenge", codeChallenge)
			q.Set("code_challenge_method", "S256")
			return "https://mock.example.com/oauth/v1/authorize?" + q.Encode()
		},
		ExchangeCodeFunc: func(ctx context.Context, client providers.ClientCredentials, code, codeVerifier string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, client providers.ClientCredentials, refreshToken string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, client providers.ClientCredentials, token string) error {
			return nil
		},
		ProbeSessionFunc: func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
			return &providers.SessionInfo{UserID: 1, Name: "mock-user"}, nil
		},
	}
}

func (m *MockProvider) count(method string) {
	m.mu.Lock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
	m.mu.Unlock()
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	m.count("Name")
	if m.NameFunc == nil {
		return "mock"
	}
	return m.NameFunc()
}

// AuthorizationURL returns the configured authorization URL
func (m *MockProvider) AuthorizationURL(client providers.ClientCredentials, state, codeChallenge string, scopes []string) string {
	m.count("AuthorizationURL")
	if m.AuthorizationURLFunc == nil {
		return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
	}
	return m.AuthorizationURLFunc(client, state, codeChallenge, scopes)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, client providers.ClientCredentials, code, codeVerifier string) (*oauth2.Token, error) {
	m.count("ExchangeCode")
	if m.ExchangeCodeFunc == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return m.ExchangeCodeFunc(ctx, client, code, codeVerifier)
}

// RefreshToken refreshes an access token
func (m *MockProvider) RefreshToken(ctx context.Context, client providers.ClientCredentials, refreshToken string) (*oauth2.Token, error) {
	m.count("RefreshToken")
	if m.RefreshTokenFunc == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return m.RefreshTokenFunc(ctx, client, refreshToken)
}

// RevokeToken revokes a token
func (m *MockProvider) RevokeToken(ctx context.Context, client providers.ClientCredentials, token string) error {
	m.count("RevokeToken")
	if m.RevokeTokenFunc == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return m.RevokeTokenFunc(ctx, client, token)
}

// ProbeSession checks a session cookie
func (m *MockProvider) ProbeSession(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
	m.count("ProbeSession")
	if m.ProbeSessionFunc == nil {
		return nil, fmt.Errorf("ProbeSessionFunc not configured")
	}
	return m.ProbeSessionFunc(ctx, cookie)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
