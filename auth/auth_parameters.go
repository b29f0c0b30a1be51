package auth

import "github.com/jrsteele09/go-chat-session/users"

// Backend endpoints used by the session manager.
const (
	RegisterPath = "/api/auth/register"
	LoginPath    = "/api/auth/login"
	RefreshPath  = "/api/auth/refresh"
	LogoutPath   = "/api/auth/logout"
	MePath       = "/api/auth/me"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register request body.
type Registration struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// AuthResponse is returned by the login and register endpoints.
type AuthResponse struct {
	Success      bool        `json:"success"`
	User         *users.User `json:"user,omitempty"`
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	ExpiresIn    int         `json:"expiresIn,omitempty"` // Access token lifetime in seconds
	Message      string      `json:"message,omitempty"`
}

// RefreshRequest is the body of the refresh and logout endpoints.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by the refresh endpoint. RefreshToken is set
// when the backend rotates refresh tokens.
type RefreshResponse struct {
	Success      bool        `json:"success"`
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         *users.User `json:"user,omitempty"`
	ExpiresIn    int         `json:"expiresIn,omitempty"`
	Message      string      `json:"message,omitempty"`
}
