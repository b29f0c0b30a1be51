package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jrsteele09/go-chat-session/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

// User is the profile snapshot shared between the backend and the client
// session records. Optional fields are pointers so that a partial profile
// (for example from a token refresh) can be told apart from an empty value.
type User struct {
	ID           string     `json:"id"`                    // Unique identifier for the user
	Username     string     `json:"username,omitempty"`    // Unique username
	Email        string     `json:"email,omitempty"`       // User's email address
	PasswordHash string     `json:"-"`                     // Hashed version of the user's password - never serialize
	DisplayName  *string    `json:"displayName,omitempty"` // Optional display name
	Avatar       *string    `json:"avatar,omitempty"`      // Optional avatar URL
	Status       *string    `json:"status,omitempty"`      // Optional presence/status text
	LastSeen     *time.Time `json:"lastSeen,omitempty"`    // Last time the user was seen online
	DateJoined   time.Time  `json:"dateJoined,omitempty"`  // Date and time when the user registered
}

// Name returns the best human readable name for the user.
func (u User) Name() string {
	if name := strings.TrimSpace(utils.Value(u.DisplayName)); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Merge folds update into base and returns the result. Field precedence:
//   - ID always comes from base unless base has none
//   - non-empty strings in update replace those in base
//   - non-nil optional fields in update replace those in base
//   - zero values in update never erase data held by base
func Merge(base, update User) User {
	merged := base
	if merged.ID == "" {
		merged.ID = update.ID
	}
	if update.Username != "" {
		merged.Username = update.Username
	}
	if update.Email != "" {
		merged.Email = update.Email
	}
	if update.DisplayName != nil {
		merged.DisplayName = utils.Clone(update.DisplayName)
	}
	if update.Avatar != nil {
		merged.Avatar = utils.Clone(update.Avatar)
	}
	if update.Status != nil {
		merged.Status = utils.Clone(update.Status)
	}
	if update.LastSeen != nil {
		merged.LastSeen = utils.Clone(update.LastSeen)
	}
	if !update.DateJoined.IsZero() {
		merged.DateJoined = update.DateJoined
	}
	merged.PasswordHash = ""
	return merged
}

// Public returns a copy of the user that is safe to send to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
