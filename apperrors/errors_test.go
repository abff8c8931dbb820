package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("email", "invalid format")

	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("ValidationError should not match ErrConflict")
	}
	if got := err.Error(); got != "email: invalid format" {
		t.Errorf("Error() = %q, want %q", got, "email: invalid format")
	}

	wrapped := fmt.Errorf("register: %w", err)
	var ve *ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("errors.As should find ValidationError through wrapping")
	}
	if ve.Field != "email" {
		t.Errorf("Field = %q, want %q", ve.Field, "email")
	}
}

func TestValidationError_NoField(t *testing.T) {
	err := NewValidationError("", "bad input")
	if got := err.Error(); got != "bad input" {
		t.Errorf("Error() = %q, want %q", got, "bad input")
	}
}

func TestTokenExchangeError(t *testing.T) {
	tests := []struct {
		name     string
		err      *TokenExchangeError
		contains []string
	}{
		{
			name: "platform error fields",
			err: &TokenExchangeError{
				Operation:   "exchange",
				StatusCode:  400,
				Code:        "invalid_grant",
				Description: "code expired",
			},
			contains: []string{"exchange", "400", "invalid_grant", "code expired"},
		},
		{
			name: "code only",
			err: &TokenExchangeError{
				Operation: "refresh",
				Code:      "invalid_client",
			},
			contains: []string{"refresh", "invalid_client"},
		},
		{
			name: "network error",
			err: &TokenExchangeError{
				Operation: "exchange",
				Err:       errors.New("connection refused"),
			},
			contains: []string{"connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrTokenExchange) {
				t.Error("TokenExchangeError should match ErrTokenExchange")
			}
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want it to contain %q", msg, s)
				}
			}
		})
	}
}

func TestTokenExchangeError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("refresh: %w", &TokenExchangeError{Operation: "refresh", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("TokenExchangeError should unwrap to the underlying error")
	}
}
