package teambroker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/team-broker/instrumentation"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
)

// Handler is a thin HTTP adapter for the broker Server.
// It handles HTTP requests and delegates to the components for business logic.
type Handler struct {
	server  *Server
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:  server,
		logger:  logger,
		tracer:  server.Instrumentation.Tracer("http"),
		metrics: server.Instrumentation.Metrics(),
	}
}

// RegisterRoutes registers every API route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	user := func(endpoint string, fn http.HandlerFunc) http.Handler {
		return h.instrument(endpoint, h.RequireUser(fn))
	}
	teamRole := func(endpoint string, role storage.Role, fn http.HandlerFunc) http.Handler {
		return h.instrument(endpoint, h.RequireUser(h.RequireTeamRole(role, fn)))
	}

	mux.Handle("POST /api/auth/register", h.instrument("register", h.rateLimit("register", http.HandlerFunc(h.ServeRegister))))
	mux.Handle("POST /api/auth/login", h.instrument("login", h.rateLimit("login", http.HandlerFunc(h.ServeLogin))))
	mux.Handle("GET /api/auth/me", user("me", h.ServeMe))

	mux.Handle("GET /api/teams", user("teams", h.ServeListTeams))
	mux.Handle("POST /api/teams", user("teams", h.ServeCreateTeam))
	mux.Handle("GET /api/teams/{teamID}/members", user("members", h.ServeListMembers))
	mux.Handle("POST /api/teams/{teamID}/members", user("members", h.ServeAddMember))
	mux.Handle("PATCH /api/teams/{teamID}/members/{userID}", user("member", h.ServeChangeRole))
	mux.Handle("DELETE /api/teams/{teamID}/members/{userID}", user("member", h.ServeRemoveMember))

	mux.Handle("GET /api/credentials", teamRole("credentials", storage.RoleViewer, h.ServeCredentialStatus))
	mux.Handle("PUT /api/credentials", teamRole("credentials", storage.RoleAdmin, h.ServeUpdateCredentials))
	mux.Handle("POST /api/credentials/session-cookie/check", teamRole("session_cookie_check", storage.RoleAdmin, h.ServeCheckSessionCookie))

	mux.Handle("POST /api/oauth/authorize", teamRole("oauth_authorize", storage.RoleAdmin, h.ServeAuthorize))
	mux.Handle("POST /api/oauth/refresh", teamRole("oauth_refresh", storage.RoleAdmin, h.ServeRefresh))
	mux.Handle("POST /api/oauth/revoke", teamRole("oauth_revoke", storage.RoleAdmin, h.ServeRevoke))
	mux.Handle("GET /api/oauth/status", teamRole("oauth_status", storage.RoleViewer, h.ServeOAuthStatus))
	mux.Handle("GET /oauth/callback", h.instrument("callback", http.HandlerFunc(h.ServeCallback)))

	mux.HandleFunc("GET /healthz", h.ServeHealth)
}

// Routes returns a handler serving every API route with request IDs attached.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// ServeRegister creates an account and its personal team.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}

	user, team, err := h.server.Identity.Register(r.Context(), req.Email, req.Handle, req.Password)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	session, err := h.server.Identity.IssueToken(user)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, SessionResponse{
		User:      newUserResponse(user),
		Team:      newTeamResponse(team),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// ServeLogin exchanges an identifier and password for a bearer token.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}

	user, session, err := h.server.Identity.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Info("Login failed",
			"identifier_hash", security.HashForLogging(req.Identifier),
			"ip", h.clientIP(r))
		h.writeErrorFrom(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{
		User:      newUserResponse(user),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// ServeMe returns the authenticated user and their teams.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	teams, err := h.server.Teams.ListTeamsFor(r.Context(), user.ID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MeResponse{
		User:  newUserResponse(user),
		Teams: newTeamSummaryResponses(teams),
	})
}

// ServeListTeams returns the caller's teams, highest role first.
func (h *Handler) ServeListTeams(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	teams, err := h.server.Teams.ListTeamsFor(r.Context(), user.ID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTeamSummaryResponses(teams))
}

// ServeCreateTeam creates a team owned by the caller.
func (h *Handler) ServeCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}

	user, _ := UserFromContext(r.Context())
	team, err := h.server.Teams.CreateTeam(r.Context(), req.Name, req.Description, user.ID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}

	resp := newTeamResponse(team)
	resp.Role = string(storage.RoleOwner)
	resp.MemberCount = 1
	h.writeJSON(w, http.StatusCreated, resp)
}

// ServeListMembers lists a team's members. Any member may read the list.
func (h *Handler) ServeListMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pathID(w, r, "teamID")
	if !ok {
		return
	}
	user, _ := UserFromContext(r.Context())
	if !h.authorizeTeam(w, r, user, teamID, storage.RoleViewer) {
		return
	}

	members, err := h.server.Teams.ListMembers(r.Context(), teamID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, newMemberResponse(m))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ServeAddMember adds a registered user to the team. The directory enforces
// that the caller is an admin or owner.
func (h *Handler) ServeAddMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pathID(w, r, "teamID")
	if !ok {
		return
	}
	var req addMemberRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}

	role := storage.RoleMember
	if req.Role != "" {
		parsed, err := storage.ParseRole(req.Role)
		if err != nil {
			h.writeErrorFrom(w, r, err)
			return
		}
		role = parsed
	}

	user, _ := UserFromContext(r.Context())
	member, err := h.server.Teams.AddMember(r.Context(), teamID, req.Email, role, user.ID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newMemberResponse(*member))
}

// ServeChangeRole changes a member's role.
func (h *Handler) ServeChangeRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pathID(w, r, "teamID")
	if !ok {
		return
	}
	targetID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req changeRoleRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	role, err := storage.ParseRole(req.Role)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}

	user, _ := UserFromContext(r.Context())
	if err := h.server.Teams.ChangeRole(r.Context(), teamID, targetID, role, user.ID); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeRemoveMember removes a member from the team.
func (h *Handler) ServeRemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pathID(w, r, "teamID")
	if !ok {
		return
	}
	targetID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	user, _ := UserFromContext(r.Context())
	if err := h.server.Teams.RemoveMember(r.Context(), teamID, targetID, user.ID); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeCredentialStatus reports which credentials the team has configured.
func (h *Handler) ServeCredentialStatus(w http.ResponseWriter, r *http.Request) {
	teamID, _ := TeamIDFromContext(r.Context())
	status, err := h.server.Vault.Status(r.Context(), teamID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ServeUpdateCredentials writes credential fields. A null or empty value
// clears the field; omitted fields are left unchanged.
func (h *Handler) ServeUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var updates map[string]*string
	if !h.decodeJSON(w, r, &updates, false) {
		return
	}
	if len(updates) == 0 {
		h.writeAPIError(w, ErrInvalidRequest("At least one credential field is required"))
		return
	}

	teamID, _ := TeamIDFromContext(r.Context())
	user, _ := UserFromContext(r.Context())
	status, err := h.server.Vault.Update(r.Context(), teamID, updates, user.ID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ServeCheckSessionCookie probes the team's session cookie now.
func (h *Handler) ServeCheckSessionCookie(w http.ResponseWriter, r *http.Request) {
	teamID, _ := TeamIDFromContext(r.Context())
	result, err := h.server.Monitor.CheckTeam(r.Context(), teamID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeAuthorize starts a platform authorization for the team and returns
// the URL the admin's browser must visit.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "broker.http.authorize")
	defer span.End()

	var req authorizeRequest
	if !h.decodeJSON(w, r, &req, true) {
		return
	}

	teamID, _ := TeamIDFromContext(ctx)
	user, _ := UserFromContext(ctx)
	instrumentation.AddTeamAttributes(span, teamID, user.ID)

	authURL, state, err := h.server.Broker.BuildAuthorizationURL(ctx, teamID, req.Scopes, user.ID)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeErrorFrom(w, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, AuthorizeResponse{AuthorizationURL: authURL, State: state})
}

// ServeCallback completes a platform authorization and sends the browser
// back to the settings page with the outcome.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "broker.http.callback")
	defer span.End()

	query := r.URL.Query()
	state := query.Get("state")
	code := query.Get("code")

	if errorParam := query.Get("error"); errorParam != "" {
		desc := query.Get("error_description")
		h.logger.Warn("Platform returned authorization error", "error", errorParam, "description", desc)
		instrumentation.SetSpanAttributes(span, attribute.String("error.code", errorParam))
		if desc == "" {
			desc = errorParam
		}
		h.redirectToSettings(w, r, "oauth_error", desc)
		return
	}

	if state == "" || code == "" {
		h.redirectToSettings(w, r, "oauth_error", "Missing code or state")
		return
	}

	set, err := h.server.Broker.ExchangeCode(ctx, code, state)
	if err != nil {
		h.logger.Warn("Failed to complete authorization", "error", err)
		instrumentation.RecordError(span, err)
		h.redirectToSettings(w, r, "oauth_error", toAPIError(err).Description)
		return
	}

	instrumentation.AddTeamAttributes(span, set.TeamID, 0)
	instrumentation.SetSpanSuccess(span)
	h.redirectToSettings(w, r, "oauth_success", "true")
}

// ServeRefresh refreshes the team's access token and returns its status.
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	teamID, _ := TeamIDFromContext(r.Context())
	if _, err := h.server.Broker.Refresh(r.Context(), teamID); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.serveOAuthStatus(w, r, teamID)
}

// ServeRevoke revokes the team's tokens at the platform and forgets them.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	teamID, _ := TeamIDFromContext(r.Context())
	user, _ := UserFromContext(r.Context())
	if err := h.server.Broker.Revoke(r.Context(), teamID, user.ID); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeOAuthStatus reports whether the team holds a usable access token.
func (h *Handler) ServeOAuthStatus(w http.ResponseWriter, r *http.Request) {
	teamID, _ := TeamIDFromContext(r.Context())
	h.serveOAuthStatus(w, r, teamID)
}

func (h *Handler) serveOAuthStatus(w http.ResponseWriter, r *http.Request, teamID int64) {
	status, err := h.server.Broker.OAuthStatus(r.Context(), teamID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ServeHealth reports liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) redirectToSettings(w http.ResponseWriter, r *http.Request, key, value string) {
	target, err := url.Parse(h.server.Config.SettingsURL)
	if err != nil {
		h.logger.Error("Invalid settings URL", "error", err)
		h.writeAPIError(w, ErrServerError("Internal server error"))
		return
	}
	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// pathID parses a positive ID path value, writing 400 when it is malformed.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := parseID(r.PathValue(name))
	if err != nil {
		h.writeAPIError(w, ErrInvalidRequest(fmt.Sprintf("%s must be a positive integer", name)))
		return 0, false
	}
	return id, true
}

// decodeJSON reads a size-limited JSON body into v. An empty body is accepted
// when optional is set.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	body := http.MaxBytesReader(w, r.Body, h.server.Config.MaxRequestBodySize)
	err := json.NewDecoder(body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		h.writeAPIError(w, NewAPIError(ErrorCodeInvalidRequest, "Request body too large", http.StatusRequestEntityTooLarge))
		return false
	}
	h.writeAPIError(w, ErrInvalidRequest("Request body must be valid JSON"))
	return false
}

// writeErrorFrom maps err to an API error. Unexpected errors are logged with
// the request ID and reported without detail.
func (h *Handler) writeErrorFrom(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError && apiErr.Code == ErrorCodeServerError {
		h.logger.Error("Request failed",
			"request_id", security.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	h.writeAPIError(w, apiErr)
}

func (h *Handler) writeAPIError(w http.ResponseWriter, apiErr *APIError) {
	h.writeError(w, apiErr.Code, apiErr.Description, apiErr.Status)
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.PublicURL)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=%q", code))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.PublicURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}
