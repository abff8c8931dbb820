package teambroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/team-broker/internal/testutil"
	"github.com/giantswarm/team-broker/providers/mock"
	"github.com/giantswarm/team-broker/storage/memory"
	"github.com/giantswarm/team-broker/vault"
)

type testEnv struct {
	handler  http.Handler
	server   *Server
	store    *memory.Store
	provider *mock.MockProvider
}

func testConfig() *Config {
	return &Config{
		PublicURL: "https://broker.example.com",
		Identity: IdentityConfig{
			TokenSecret: []byte(strings.Repeat("s", 32)),
			BcryptCost:  bcrypt.MinCost,
		},
		RateLimit: RateLimitConfig{AuthPerMinute: -1},
		Logger:    testutil.DiscardLogger(),
	}
}

func setupTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	provider := mock.NewMockProvider()

	srv, err := NewServer(store, store, provider, testutil.NewEncryptor(t), config)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{
		handler:  NewHandler(srv, testutil.DiscardLogger()).Routes(),
		server:   srv,
		store:    store,
		provider: provider,
	}
}

// do sends a request. teamID 0 omits the X-Team-ID header; a string body is
// sent verbatim.
func (e *testEnv) do(t *testing.T, method, target, token string, teamID int64, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if teamID != 0 {
		req.Header.Set(TeamIDHeader, fmt.Sprint(teamID))
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, handle string) SessionResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", 0, map[string]string{
		"email":    handle + "@example.com",
		"handle":   handle,
		"password": "correct-horse",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", handle, w.Code, w.Body.String())
	}
	var resp SessionResponse
	decode(t, w, &resp)
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] != code {
		t.Errorf("error = %q, want %q", body["error"], code)
	}
	if body["error_description"] == "" {
		t.Error("error_description should not be empty")
	}
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	env := setupTestEnv(t, testConfig())

	alice := env.register(t, "alice")
	if alice.Token == "" {
		t.Error("registration should return a token")
	}
	if alice.Team == nil || alice.Team.Name != "alice's team" {
		t.Errorf("team = %+v, want personal team", alice.Team)
	}
	if alice.User.Email != "alice@example.com" {
		t.Errorf("email = %q", alice.User.Email)
	}

	for _, identifier := range []string{"alice", "alice@example.com"} {
		w := env.do(t, http.MethodPost, "/api/auth/login", "", 0, map[string]string{
			"identifier": identifier,
			"password":   "correct-horse",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("login %q: status = %d, body = %s", identifier, w.Code, w.Body.String())
		}
		var resp SessionResponse
		decode(t, w, &resp)
		if resp.Token == "" || resp.User.ID != alice.User.ID {
			t.Errorf("login %q returned %+v", identifier, resp)
		}
		if resp.User.LastLoginAt == nil {
			t.Errorf("login %q should record last login", identifier)
		}
	}

	w := env.do(t, http.MethodPost, "/api/auth/login", "", 0, map[string]string{
		"identifier": "alice",
		"password":   "wrong-password",
	})
	assertError(t, w, http.StatusUnauthorized, ErrorCodeInvalidCredentials)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", 0, map[string]string{
		"identifier": "nobody",
		"password":   "wrong-password",
	})
	assertError(t, w, http.StatusUnauthorized, ErrorCodeInvalidCredentials)
}

func TestHandler_RegisterRejects(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	env.register(t, "alice")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "invalid email",
			body:   map[string]string{"email": "not-an-email", "handle": "bob", "password": "correct-horse"},
			status: http.StatusBadRequest,
			code:   ErrorCodeValidationFailed,
		},
		{
			name:   "short password",
			body:   map[string]string{"email": "bob@example.com", "handle": "bob", "password": "short"},
			status: http.StatusBadRequest,
			code:   ErrorCodeValidationFailed,
		},
		{
			name:   "duplicate email",
			body:   map[string]string{"email": "alice@example.com", "handle": "alice2", "password": "correct-horse"},
			status: http.StatusConflict,
			code:   ErrorCodeConflict,
		},
		{
			name:   "malformed JSON",
			body:   "{not json",
			status: http.StatusBadRequest,
			code:   ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/register", "", 0, tt.body)
			assertError(t, w, tt.status, tt.code)
		})
	}
}

func TestHandler_RequireUser(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")

	t.Run("missing token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", "", 0, nil)
		if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
			t.Errorf("WWW-Authenticate = %q", got)
		}
		assertError(t, w, http.StatusUnauthorized, ErrorCodeAuthenticationRequired)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Basic abc")
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		assertError(t, w, http.StatusUnauthorized, ErrorCodeInvalidToken)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", "not-a-jwt", 0, nil)
		assertError(t, w, http.StatusUnauthorized, ErrorCodeInvalidToken)
	})

	t.Run("valid token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", alice.Token, 0, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var me MeResponse
		decode(t, w, &me)
		if me.User.ID != alice.User.ID {
			t.Errorf("user = %+v", me.User)
		}
		if len(me.Teams) != 1 || me.Teams[0].Role != "owner" || me.Teams[0].MemberCount != 1 {
			t.Errorf("teams = %+v, want the personal team as owner", me.Teams)
		}
	})

	t.Run("deactivated user", func(t *testing.T) {
		if err := env.server.Identity.Deactivate(context.Background(), alice.User.ID); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}
		w := env.do(t, http.MethodGet, "/api/auth/me", alice.Token, 0, nil)
		assertError(t, w, http.StatusUnauthorized, ErrorCodeInvalidToken)
	})
}

func TestHandler_Teams(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")

	w := env.do(t, http.MethodPost, "/api/teams", alice.Token, 0, map[string]string{"name": "Studio", "description": "games"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create team: status = %d, body = %s", w.Code, w.Body.String())
	}
	var created TeamResponse
	decode(t, w, &created)
	if created.Name != "Studio" || created.OwnerID != alice.User.ID || created.Role != "owner" {
		t.Errorf("created = %+v", created)
	}

	w = env.do(t, http.MethodPost, "/api/teams", alice.Token, 0, map[string]string{"name": "Studio"})
	assertError(t, w, http.StatusConflict, ErrorCodeConflict)

	w = env.do(t, http.MethodPost, "/api/teams", alice.Token, 0, map[string]string{"name": "  "})
	assertError(t, w, http.StatusBadRequest, ErrorCodeValidationFailed)

	w = env.do(t, http.MethodGet, "/api/teams", alice.Token, 0, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list teams: status = %d", w.Code)
	}
	var teams []TeamResponse
	decode(t, w, &teams)
	if len(teams) != 2 {
		t.Errorf("len(teams) = %d, want 2", len(teams))
	}
}

func TestHandler_Members(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	env.register(t, "carol")
	teamID := alice.Team.ID
	membersURL := fmt.Sprintf("/api/teams/%d/members", teamID)
	bobURL := fmt.Sprintf("%s/%d", membersURL, bob.User.ID)

	// Not yet a member.
	w := env.do(t, http.MethodGet, membersURL, bob.Token, 0, nil)
	assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)

	w = env.do(t, http.MethodPost, membersURL, alice.Token, 0, map[string]string{"email": "bob@example.com", "role": "viewer"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add member: status = %d, body = %s", w.Code, w.Body.String())
	}
	var added MemberResponse
	decode(t, w, &added)
	if added.UserID != bob.User.ID || added.Role != "viewer" {
		t.Errorf("added = %+v", added)
	}

	w = env.do(t, http.MethodGet, membersURL, bob.Token, 0, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list members: status = %d", w.Code)
	}
	var members []MemberResponse
	decode(t, w, &members)
	if len(members) != 2 {
		t.Errorf("len(members) = %d, want 2", len(members))
	}

	// Viewers cannot manage members.
	w = env.do(t, http.MethodPost, membersURL, bob.Token, 0, map[string]string{"email": "carol@example.com"})
	assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)

	w = env.do(t, http.MethodPatch, bobURL, alice.Token, 0, map[string]string{"role": "admin"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change role: status = %d, body = %s", w.Code, w.Body.String())
	}

	// Admins still cannot touch the owner.
	ownerURL := fmt.Sprintf("%s/%d", membersURL, alice.User.ID)
	w = env.do(t, http.MethodDelete, ownerURL, bob.Token, 0, nil)
	assertError(t, w, http.StatusForbidden, ErrorCodeProtectedRole)
	w = env.do(t, http.MethodPatch, bobURL, alice.Token, 0, map[string]string{"role": "owner"})
	assertError(t, w, http.StatusForbidden, ErrorCodeProtectedRole)

	w = env.do(t, http.MethodPatch, bobURL, alice.Token, 0, map[string]string{"role": "superuser"})
	assertError(t, w, http.StatusBadRequest, ErrorCodeValidationFailed)

	w = env.do(t, http.MethodDelete, bobURL, alice.Token, 0, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove member: status = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, membersURL, bob.Token, 0, nil)
	assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)

	w = env.do(t, http.MethodGet, "/api/teams/abc/members", alice.Token, 0, nil)
	assertError(t, w, http.StatusBadRequest, ErrorCodeInvalidRequest)
}

func TestHandler_TeamHeader(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	t.Run("missing header", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/credentials", alice.Token, 0, nil)
		assertError(t, w, http.StatusBadRequest, ErrorCodeInvalidRequest)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/credentials", nil)
		req.Header.Set("Authorization", "Bearer "+alice.Token)
		req.Header.Set(TeamIDHeader, "team-one")
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		assertError(t, w, http.StatusBadRequest, ErrorCodeInvalidRequest)
	})

	t.Run("foreign team", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/credentials", alice.Token, bob.Team.ID, nil)
		assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("unknown team", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/credentials", alice.Token, 9999, nil)
		assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)
	})

	t.Run("own team", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/credentials", alice.Token, alice.Team.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
	})
}

func TestHandler_Credentials(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	teamID := alice.Team.ID

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/teams/%d/members", teamID), alice.Token, 0,
		map[string]string{"email": "bob@example.com", "role": "member"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add member: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPut, "/api/credentials", alice.Token, teamID, map[string]string{
		vault.FieldGroupAPIKey:       "group-key-1",
		vault.FieldDiscordWebhookURL: "https://discord.example.com/api/webhooks/1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", w.Code, w.Body.String())
	}
	var status vault.Status
	decode(t, w, &status)
	if !status.HasGroupAPIKey || !status.HasDiscordWebhook || status.HasUserAPIKey {
		t.Errorf("status = %+v", status)
	}
	if strings.Contains(w.Body.String(), "group-key-1") {
		t.Error("status response must not contain secret values")
	}

	// Members can read but not write.
	w = env.do(t, http.MethodGet, "/api/credentials", bob.Token, teamID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("member read: status = %d", w.Code)
	}
	w = env.do(t, http.MethodPut, "/api/credentials", bob.Token, teamID, map[string]string{vault.FieldUserAPIKey: "x"})
	assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)

	// null clears.
	w = env.do(t, http.MethodPut, "/api/credentials", alice.Token, teamID, `{"group_api_key": null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: status = %d, body = %s", w.Code, w.Body.String())
	}
	decode(t, w, &status)
	if status.HasGroupAPIKey {
		t.Error("group API key should be cleared")
	}

	w = env.do(t, http.MethodPut, "/api/credentials", alice.Token, teamID, map[string]string{vault.FieldOAuthAccessToken: "x"})
	assertError(t, w, http.StatusBadRequest, ErrorCodeValidationFailed)

	w = env.do(t, http.MethodPut, "/api/credentials", alice.Token, teamID, map[string]string{})
	assertError(t, w, http.StatusBadRequest, ErrorCodeInvalidRequest)
}

func configureOAuthClient(t *testing.T, env *testEnv, token string, teamID int64) {
	t.Helper()
	w := env.do(t, http.MethodPut, "/api/credentials", token, teamID, map[string]string{
		vault.FieldOAuthClientID:     "client-123",
		vault.FieldOAuthClientSecret: "client-secret",
		vault.FieldOAuthRedirectURI:  "https://broker.example.com/oauth/callback",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("configure client: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func callback(t *testing.T, env *testEnv, query url.Values) *url.URL {
	t.Helper()
	w := env.do(t, http.MethodGet, "/oauth/callback?"+query.Encode(), "", 0, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("callback: status = %d, want 302 (body %s)", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Path != "/settings" {
		t.Errorf("redirect path = %q, want /settings", loc.Path)
	}
	return loc
}

func TestHandler_OAuthFlow(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	teamID := alice.Team.ID

	w := env.do(t, http.MethodPost, "/api/oauth/authorize", alice.Token, teamID, nil)
	assertError(t, w, http.StatusBadRequest, ErrorCodeValidationFailed)

	configureOAuthClient(t, env, alice.Token, teamID)

	w = env.do(t, http.MethodPost, "/api/oauth/authorize", alice.Token, teamID, map[string][]string{"scopes": {"openid", "group:read"}})
	if w.Code != http.StatusOK {
		t.Fatalf("authorize: status = %d, body = %s", w.Code, w.Body.String())
	}
	var auth AuthorizeResponse
	decode(t, w, &auth)
	if auth.State == "" {
		t.Fatal("authorize should return a state")
	}
	authURL, err := url.Parse(auth.AuthorizationURL)
	if err != nil {
		t.Fatalf("invalid authorization URL: %v", err)
	}
	if got := authURL.Query().Get("state"); got != auth.State {
		t.Errorf("URL state = %q, want %q", got, auth.State)
	}
	if got := authURL.Query().Get("scope"); got != "openid group:read" {
		t.Errorf("URL scope = %q", got)
	}

	loc := callback(t, env, url.Values{"code": {"auth-code"}, "state": {auth.State}})
	if loc.Query().Get("oauth_success") != "true" {
		t.Errorf("redirect = %s, want oauth_success=true", loc)
	}

	w = env.do(t, http.MethodGet, "/api/oauth/status", alice.Token, teamID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var status map[string]any
	decode(t, w, &status)
	if status["connected"] != true || status["valid"] != true {
		t.Errorf("oauth status = %v", status)
	}
	if strings.Contains(fmt.Sprint(status), "mock-access-token") {
		t.Error("status must not expose tokens")
	}

	// The state is single use.
	loc = callback(t, env, url.Values{"code": {"auth-code"}, "state": {auth.State}})
	if loc.Query().Get("oauth_error") == "" {
		t.Errorf("replayed state should redirect with oauth_error, got %s", loc)
	}

	w = env.do(t, http.MethodPost, "/api/oauth/refresh", alice.Token, teamID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body = %s", w.Code, w.Body.String())
	}
	if n := env.provider.GetCallCount("RefreshToken"); n != 1 {
		t.Errorf("RefreshToken calls = %d, want 1", n)
	}

	w = env.do(t, http.MethodPost, "/api/oauth/revoke", alice.Token, teamID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke: status = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/oauth/status", alice.Token, teamID, nil)
	decode(t, w, &status)
	if status["connected"] != false {
		t.Errorf("after revoke: oauth status = %v", status)
	}

	w = env.do(t, http.MethodPost, "/api/oauth/refresh", alice.Token, teamID, nil)
	assertError(t, w, http.StatusConflict, ErrorCodeNoRefreshToken)
}

func TestHandler_CallbackErrors(t *testing.T) {
	env := setupTestEnv(t, testConfig())

	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{
			name:  "platform error with description",
			query: url.Values{"error": {"access_denied"}, "error_description": {"User denied access"}},
			want:  "User denied access",
		},
		{
			name:  "platform error without description",
			query: url.Values{"error": {"access_denied"}},
			want:  "access_denied",
		},
		{
			name:  "missing code",
			query: url.Values{"state": {"abc"}},
			want:  "Missing code or state",
		},
		{
			name:  "unknown state",
			query: url.Values{"state": {"unknown"}, "code": {"abc"}},
			want:  "Unknown, expired or already used authorization state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := callback(t, env, tt.query)
			if got := loc.Query().Get("oauth_error"); got != tt.want {
				t.Errorf("oauth_error = %q, want %q", got, tt.want)
			}
			if loc.Query().Has("oauth_success") {
				t.Error("failed callback must not report success")
			}
		})
	}

	if n := env.provider.GetCallCount("ExchangeCode"); n != 0 {
		t.Errorf("ExchangeCode calls = %d, want 0", n)
	}
}

func TestHandler_OAuthRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/teams/%d/members", alice.Team.ID), alice.Token, 0,
		map[string]string{"email": "bob@example.com", "role": "member"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add member: status = %d", w.Code)
	}

	for _, path := range []string{"/api/oauth/authorize", "/api/oauth/refresh", "/api/oauth/revoke", "/api/credentials/session-cookie/check"} {
		w := env.do(t, http.MethodPost, path, bob.Token, alice.Team.ID, nil)
		assertError(t, w, http.StatusForbidden, ErrorCodeAccessDenied)
	}

	w = env.do(t, http.MethodGet, "/api/oauth/status", bob.Token, alice.Team.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("member status read = %d, want 200", w.Code)
	}
}

func TestHandler_CheckSessionCookie(t *testing.T) {
	env := setupTestEnv(t, testConfig())
	alice := env.register(t, "alice")
	teamID := alice.Team.ID

	w := env.do(t, http.MethodPost, "/api/credentials/session-cookie/check", alice.Token, teamID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result map[string]any
	decode(t, w, &result)
	if result["isValid"] != nil {
		t.Errorf("isValid = %v, want null without a cookie", result["isValid"])
	}

	w = env.do(t, http.MethodPut, "/api/credentials", alice.Token, teamID, map[string]string{vault.FieldSessionCookie: "cookie-value"})
	if w.Code != http.StatusOK {
		t.Fatalf("store cookie: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/credentials/session-cookie/check", alice.Token, teamID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	decode(t, w, &result)
	if result["isValid"] != true {
		t.Errorf("isValid = %v, want true", result["isValid"])
	}
	if result["teamName"] != "alice's team" {
		t.Errorf("teamName = %v", result["teamName"])
	}
}

func TestHandler_RateLimit(t *testing.T) {
	config := testConfig()
	config.RateLimit = RateLimitConfig{AuthPerMinute: 1, AuthBurst: 1}
	env := setupTestEnv(t, config)

	body := map[string]string{"identifier": "alice", "password": "correct-horse"}
	w := env.do(t, http.MethodPost, "/api/auth/login", "", 0, body)
	if w.Code == http.StatusTooManyRequests {
		t.Fatal("first attempt should not be rate limited")
	}

	w = env.do(t, http.MethodPost, "/api/auth/login", "", 0, body)
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	assertError(t, w, http.StatusTooManyRequests, ErrorCodeRateLimitExceeded)
}

func TestHandler_ResponseHeaders(t *testing.T) {
	env := setupTestEnv(t, testConfig())

	w := env.do(t, http.MethodGet, "/healthz", "", 0, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Cache-Control":             "no-store",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Type":              "application/json",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be set")
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	config := testConfig()
	config.MaxRequestBodySize = 16
	env := setupTestEnv(t, config)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", 0, map[string]string{
		"email":    "alice@example.com",
		"handle":   "alice",
		"password": "correct-horse",
	})
	assertError(t, w, http.StatusRequestEntityTooLarge, ErrorCodeInvalidRequest)
}

func TestUserFromContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("empty context should not carry a user")
	}
	if _, ok := UserFromContext(ContextWithUser(context.Background(), nil)); ok {
		t.Error("nil user should not be reported")
	}
}
