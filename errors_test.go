package teambroker

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/storage"
)

func TestAPIError_Error(t *testing.T) {
	e := NewAPIError(ErrorCodeInvalidRequest, "Missing required parameter", http.StatusBadRequest)
	if got, want := e.Error(), "invalid_request: Missing required parameter"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		code   string
		status int
	}{
		{"ErrInvalidRequest", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"ErrAuthenticationRequired", ErrAuthenticationRequired("x"), ErrorCodeAuthenticationRequired, http.StatusUnauthorized},
		{"ErrInvalidToken", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"ErrAccessDenied", ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
		{"ErrServerError", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code || tt.err.Status != tt.status || tt.err.Description != "x" {
				t.Errorf("%s = %+v", tt.name, tt.err)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation error", apperrors.NewValidationError("email", "bad"), ErrorCodeValidationFailed, http.StatusBadRequest},
		{"conflict", storage.ErrEmailTaken, ErrorCodeConflict, http.StatusConflict},
		{"invalid credentials", apperrors.ErrInvalidCredentials, ErrorCodeInvalidCredentials, http.StatusUnauthorized},
		{"invalid token", apperrors.ErrInvalidToken, ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"permission", fmt.Errorf("%w: admin required", apperrors.ErrPermission), ErrorCodeAccessDenied, http.StatusForbidden},
		{"protected role", apperrors.ErrProtectedRole, ErrorCodeProtectedRole, http.StatusForbidden},
		{"not found", storage.ErrTeamNotFound, ErrorCodeNotFound, http.StatusNotFound},
		{"state mismatch", apperrors.ErrStateMismatch, ErrorCodeStateMismatch, http.StatusBadRequest},
		{"no refresh token", apperrors.ErrNoRefreshToken, ErrorCodeNoRefreshToken, http.StatusConflict},
		{"decryption", fmt.Errorf("wrapped: %w", apperrors.ErrDecryption), ErrorCodeSecretUnusable, http.StatusConflict},
		{"no auth method", apperrors.ErrNoAuthMethodAvailable, ErrorCodeNoAuthMethod, http.StatusConflict},
		{"api error passthrough", ErrAccessDenied("nope"), ErrorCodeAccessDenied, http.StatusForbidden},
		{"unexpected", errors.New("connection reset"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAPIError(tt.err)
			if got.Code != tt.code || got.Status != tt.status {
				t.Errorf("toAPIError(%v) = %s/%d, want %s/%d", tt.err, got.Code, got.Status, tt.code, tt.status)
			}
		})
	}
}

func TestToAPIError_HidesInternalDetail(t *testing.T) {
	got := toAPIError(errors.New("pq: password authentication failed for user broker"))
	if strings.Contains(got.Description, "pq") {
		t.Errorf("description leaks internal error: %q", got.Description)
	}
}

func TestToAPIError_TokenExchange(t *testing.T) {
	tests := []struct {
		name string
		err  *apperrors.TokenExchangeError
		want string
	}{
		{
			name: "platform code and description",
			err:  &apperrors.TokenExchangeError{Operation: "exchange", StatusCode: 400, Code: "invalid_grant", Description: "code expired"},
			want: "The platform rejected the token request: invalid_grant (code expired)",
		},
		{
			name: "status only",
			err:  &apperrors.TokenExchangeError{Operation: "refresh", StatusCode: 503},
			want: "The platform rejected the token request with status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAPIError(fmt.Errorf("exchange failed: %w", tt.err))
			if got.Code != ErrorCodeTokenExchangeFailed || got.Status != http.StatusBadGateway {
				t.Errorf("toAPIError() = %s/%d", got.Code, got.Status)
			}
			if got.Description != tt.want {
				t.Errorf("Description = %q, want %q", got.Description, tt.want)
			}
		})
	}
}
