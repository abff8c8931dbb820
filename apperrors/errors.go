// Package apperrors defines the error taxonomy shared by every broker
// component. Callers match errors with errors.Is against the sentinels; the
// typed errors carry extra detail and still match their sentinel.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a uniqueness violation (email, handle, team name, membership).
	ErrConflict = errors.New("conflict")

	// ErrInvalidCredentials is returned for every login failure. It never says
	// which part of the credentials was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a bearer token with a bad signature, a bad
	// algorithm, or an expired lifetime.
	ErrInvalidToken = errors.New("invalid token")

	// ErrPermission indicates the acting user's role is too low.
	ErrPermission = errors.New("permission denied")

	// ErrProtectedRole indicates an attempt to remove or reassign an owner.
	ErrProtectedRole = errors.New("owner role is protected")

	// ErrNotFound indicates a missing user, team, membership or secret.
	ErrNotFound = errors.New("not found")

	// ErrStateMismatch indicates an unknown, expired or replayed OAuth state.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrTokenExchange indicates the platform token endpoint refused a request.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrNoRefreshToken indicates a refresh was requested without a stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrDecryption indicates a stored secret that cannot be decrypted.
	ErrDecryption = errors.New("secret cannot be decrypted")

	// ErrNoAuthMethodAvailable indicates no usable outbound credential for a team.
	ErrNoAuthMethodAvailable = errors.New("no authentication method available")
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TokenExchangeError wraps a failed call to the platform token endpoint.
// Code and Description are the platform's own error fields when present, so
// team admins can diagnose a misconfigured OAuth client themselves.
type TokenExchangeError struct {
	// Operation is "exchange" or "refresh".
	Operation   string
	StatusCode  int
	Code        string
	Description string
	Body        string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("token %s failed", e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	switch {
	case e.Code != "" && e.Description != "":
		msg += fmt.Sprintf(": %s: %s", e.Code, e.Description)
	case e.Code != "":
		msg += ": " + e.Code
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrTokenExchange.
func (e *TokenExchangeError) Is(target error) bool {
	return target == ErrTokenExchange
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
