package teambroker

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/team-broker/apperrors"
)

// API error codes
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeValidationFailed       = "validation_failed"
	ErrorCodeConflict               = "conflict"
	ErrorCodeAuthenticationRequired = "authentication_required"
	ErrorCodeInvalidCredentials     = "invalid_credentials"
	ErrorCodeInvalidToken           = "invalid_token"
	ErrorCodeAccessDenied           = "access_denied"
	ErrorCodeProtectedRole          = "protected_role"
	ErrorCodeNotFound               = "not_found"
	ErrorCodeStateMismatch          = "state_mismatch"
	ErrorCodeTokenExchangeFailed    = "token_exchange_failed"
	ErrorCodeNoRefreshToken         = "no_refresh_token"
	ErrorCodeSecretUnusable         = "secret_unusable"
	ErrorCodeNoAuthMethod           = "no_auth_method_available"
	ErrorCodeRateLimitExceeded      = "rate_limit_exceeded"
	ErrorCodeServerError            = "server_error"
)

// APIError is an error response with its HTTP status.
type APIError struct {
	Code        string // API error code (e.g., "invalid_request", "access_denied")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAPIError creates a new API error
func NewAPIError(code, description string, status int) *APIError {
	return &APIError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common API errors
var (
	// ErrInvalidRequest indicates a malformed request body or parameter
	ErrInvalidRequest = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrAuthenticationRequired indicates a missing bearer token
	ErrAuthenticationRequired = func(desc string) *APIError {
		return NewAPIError(ErrorCodeAuthenticationRequired, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates a bearer token that failed verification
	ErrInvalidToken = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrAccessDenied indicates a missing membership or insufficient role
	ErrAccessDenied = func(desc string) *APIError {
		return NewAPIError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrServerError indicates an unexpected internal failure
	ErrServerError = func(desc string) *APIError {
		return NewAPIError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// toAPIError maps a component error to its response. Descriptions never
// reveal more than the caller is allowed to know: login failures stay
// generic, while platform rejections carry the platform's code for admins.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var validation *apperrors.ValidationError
	if errors.As(err, &validation) {
		return NewAPIError(ErrorCodeValidationFailed, validation.Error(), http.StatusBadRequest)
	}

	var exchange *apperrors.TokenExchangeError
	if errors.As(err, &exchange) {
		desc := "The platform rejected the token request"
		if exchange.Code != "" {
			desc = fmt.Sprintf("%s: %s", desc, exchange.Code)
			if exchange.Description != "" {
				desc += " (" + exchange.Description + ")"
			}
		} else if exchange.StatusCode != 0 {
			desc = fmt.Sprintf("%s with status %d", desc, exchange.StatusCode)
		}
		return NewAPIError(ErrorCodeTokenExchangeFailed, desc, http.StatusBadGateway)
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return NewAPIError(ErrorCodeValidationFailed, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrConflict):
		return NewAPIError(ErrorCodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return NewAPIError(ErrorCodeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInvalidToken):
		return ErrInvalidToken("Invalid or expired token")
	case errors.Is(err, apperrors.ErrPermission):
		return ErrAccessDenied("Insufficient permissions for this team")
	case errors.Is(err, apperrors.ErrProtectedRole):
		return NewAPIError(ErrorCodeProtectedRole, "The team owner cannot be removed or reassigned", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrNotFound):
		return NewAPIError(ErrorCodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperrors.ErrStateMismatch):
		return NewAPIError(ErrorCodeStateMismatch, "Unknown, expired or already used authorization state", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrTokenExchange):
		return NewAPIError(ErrorCodeTokenExchangeFailed, "The platform rejected the token request", http.StatusBadGateway)
	case errors.Is(err, apperrors.ErrNoRefreshToken):
		return NewAPIError(ErrorCodeNoRefreshToken, "No refresh token is stored; authorize again", http.StatusConflict)
	case errors.Is(err, apperrors.ErrDecryption):
		return NewAPIError(ErrorCodeSecretUnusable, "A stored secret cannot be decrypted; enter it again", http.StatusConflict)
	case errors.Is(err, apperrors.ErrNoAuthMethodAvailable):
		return NewAPIError(ErrorCodeNoAuthMethod, "No platform credential is configured for this team", http.StatusConflict)
	}

	return ErrServerError("Internal server error")
}
