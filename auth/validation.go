package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/jrsteele09/go-chat-session/users"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	minRefreshLength  = 10
)

// Validator holds the request validation rules shared by the session manager
// and the backend handlers.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCredentials checks a login request before it is sent.
func (v *Validator) ValidateCredentials(c Credentials) error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return MissingCredentialsErr
	}
	return v.ValidateEmail(c.Email)
}

// ValidateRegistration checks a register request: username, email and password strength.
func (v *Validator) ValidateRegistration(r Registration) error {
	if strings.TrimSpace(r.Email) == "" || r.Password == "" {
		return MissingCredentialsErr
	}
	if err := v.ValidateUsername(r.Username); err != nil {
		return err
	}
	if err := v.ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := users.ValidatePasswordStrength(r.Password); err != nil {
		return fmt.Errorf("weak password: %w", err)
	}
	return nil
}

func (v *Validator) ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return InvalidEmailErr
	}
	return nil
}

// ValidateUsername allows letters, digits, '_', '-' and '.'.
func (v *Validator) ValidateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return fmt.Errorf("%w: must be between %d and %d characters", InvalidUsernameErr, minUsernameLength, maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			continue
		}
		return fmt.Errorf("%w: unexpected character %q", InvalidUsernameErr, r)
	}
	return nil
}

func (v *Validator) ValidateRefreshRequest(r RefreshRequest) error {
	if r.RefreshToken == "" {
		return MissingRefreshErr
	}
	if len(r.RefreshToken) < minRefreshLength {
		return fmt.Errorf("invalid refresh token format")
	}
	return nil
}
