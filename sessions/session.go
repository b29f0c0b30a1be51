package sessions

import (
	"time"

	"github.com/jrsteele09/go-chat-session/token"
	"github.com/jrsteele09/go-chat-session/users"
	"golang.org/x/oauth2"
)

// Record stores one user's credentials on the client.
// Records are keyed by UserID; there is never more than one per user.
type Record struct {
	UserID       string     `json:"userId"`       // Key of the record, equal to User.ID
	AccessToken  string     `json:"accessToken"`  // Opaque bearer token
	RefreshToken string     `json:"refreshToken"` // Opaque token exchanged for a new access token
	User         users.User `json:"user"`         // Last known profile snapshot
	Expiry       time.Time  `json:"expiry"`       // Session is invalid once now >= Expiry
	LastActive   time.Time  `json:"lastActive"`   // Last write caused by use of the session
	CreatedAt    time.Time  `json:"createdAt"`    // When the user logged in
}

// ValidAt reports whether the session has not yet expired at now.
func (r Record) ValidAt(now time.Time) bool {
	return now.Before(r.Expiry)
}

// Token returns the record's credentials as a bearer token.
func (r Record) Token() *oauth2.Token {
	return token.WithOwner(token.New(r.AccessToken, r.RefreshToken, r.Expiry), r.UserID)
}

// RefreshUpdate is the outcome of a successful token refresh.
type RefreshUpdate struct {
	AccessToken  string
	RefreshToken string        // Empty when the backend did not rotate the refresh token
	User         *users.User   // Optional fresh profile, merged into the snapshot
	Expiry       time.Duration // New session lifetime measured from now
}
