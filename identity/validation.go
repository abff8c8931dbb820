package identity

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/giantswarm/team-broker/apperrors"
)

// maxPasswordBytes is the bcrypt input limit; longer passwords would be
// silently truncated.
const maxPasswordBytes = 72

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// normalizeEmail validates a bare e-mail address and returns it lower-cased.
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", apperrors.NewValidationError("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", apperrors.NewValidationError("email", "email must be a plain address like name@example.com")
	}
	return strings.ToLower(email), nil
}

func validateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return apperrors.NewValidationError("handle",
			"handle must be 3 to 32 characters of letters, digits, '_', '.' or '-'")
	}
	return nil
}

func validatePassword(password string, minLength int) error {
	if len([]rune(password)) < minLength {
		return apperrors.NewValidationError("password", fmt.Sprintf("password must be at least %d characters", minLength))
	}
	if len(password) > maxPasswordBytes {
		return apperrors.NewValidationError("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}
