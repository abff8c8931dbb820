package teambroker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/security"
	"github.com/giantswarm/team-broker/storage"
)

// TeamIDHeader selects the team for credential and OAuth endpoints.
const TeamIDHeader = "X-Team-ID"

type contextKey string

const (
	userKey   contextKey = "user"
	teamIDKey contextKey = "team_id"
)

// UserFromContext retrieves the authenticated user from the request context
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(userKey).(*storage.User)
	return user, ok && user != nil
}

// ContextWithUser returns a context carrying the authenticated user.
// This is useful for testing handlers behind RequireUser.
func ContextWithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// TeamIDFromContext retrieves the team selected by RequireTeamRole
func TeamIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(teamIDKey).(int64)
	return id, ok
}

// RequireUser is middleware that validates the dashboard bearer token and
// loads the active user it names.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		claims, err := h.server.Identity.Verify(token)
		if err != nil {
			h.logger.Debug("Token verification failed", "ip", h.clientIP(r), "error", err)
			h.writeAPIError(w, ErrInvalidToken("Invalid or expired token"))
			return
		}

		user, err := h.server.Identity.GetUser(r.Context(), claims.UserID)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				h.writeErrorFrom(w, r, err)
				return
			}
			h.writeAPIError(w, ErrInvalidToken("Invalid or expired token"))
			return
		}
		if !user.Active {
			h.writeAPIError(w, ErrInvalidToken("Account is deactivated"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireTeamRole is middleware that resolves the team from the X-Team-ID
// header and requires the user to hold at least minRole in it. It must run
// after RequireUser.
func (h *Handler) RequireTeamRole(minRole storage.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(TeamIDHeader))
		if raw == "" {
			h.writeAPIError(w, ErrInvalidRequest("X-Team-ID header is required"))
			return
		}
		teamID, err := parseID(raw)
		if err != nil {
			h.writeAPIError(w, ErrInvalidRequest("X-Team-ID header must be a team ID"))
			return
		}

		user, _ := UserFromContext(r.Context())
		if !h.authorizeTeam(w, r, user, teamID, minRole) {
			return
		}

		ctx := context.WithValue(r.Context(), teamIDKey, teamID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeTeam writes 403 and returns false unless user holds minRole in teamID.
func (h *Handler) authorizeTeam(w http.ResponseWriter, r *http.Request, user *storage.User, teamID int64, minRole storage.Role) bool {
	if user == nil {
		h.writeAPIError(w, ErrAuthenticationRequired("Authentication required"))
		return false
	}
	ok, err := h.server.Teams.HasAccess(r.Context(), user.ID, teamID, minRole)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return false
	}
	if !ok {
		h.logger.Warn("Team access denied",
			"user_id", user.ID,
			"team_id", teamID,
			"required_role", minRole)
		h.writeAPIError(w, ErrAccessDenied("Insufficient permissions for this team"))
		return false
	}
	return true
}

// rateLimit is middleware limiting login and registration attempts per client IP.
func (h *Handler) rateLimit(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.server.RateLimiter != nil {
			clientIP := h.clientIP(r)
			if !h.server.RateLimiter.Allow(clientIP) {
				h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
				h.metrics.RecordRateLimitExceeded(r.Context(), endpoint)
				h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
				w.Header().Set("Retry-After", "60")
				h.writeAPIError(w, NewAPIError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// instrument records request count and duration under endpoint.
func (h *Handler) instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start).Seconds() * 1000 // convert to milliseconds
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status, duration)
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeAPIError(w, ErrAuthenticationRequired("Missing Authorization header"))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		h.writeAPIError(w, ErrInvalidToken("Invalid Authorization header format"))
		return "", false
	}

	return strings.TrimSpace(parts[1]), true
}

func (h *Handler) clientIP(r *http.Request) string {
	rl := h.server.Config.RateLimit
	return security.GetClientIP(r, rl.TrustProxy, rl.TrustedProxyCount)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
