package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-chat-session/sessions"
	"github.com/jrsteele09/go-chat-session/users"
	"golang.org/x/oauth2"
)

// SessionStore is the session persistence driven by the SessionManager.
// *sessions.TokenStore implements it.
type SessionStore interface {
	SetSession(ctx context.Context, user users.User, accessToken, refreshToken string, expiry time.Duration) (*sessions.Record, error)
	CurrentSession(ctx context.Context) (*sessions.Record, error)
	BoundSession(ctx context.Context) (*sessions.Record, error)
	AccessToken(ctx context.Context) (*oauth2.Token, error)
	ApplyRefresh(ctx context.Context, userID, usedRefreshToken string, upd sessions.RefreshUpdate) (*sessions.Record, error)
	ExtendSession(ctx context.Context, additional time.Duration) error
	UpdateUser(ctx context.Context, user users.User) error
	Logout(ctx context.Context, userID string) (*sessions.Record, error)
	LogoutAll(ctx context.Context) ([]sessions.Record, error)
	AvailableSessions(ctx context.Context) ([]sessions.Record, error)
	SwitchToUser(ctx context.Context, userID string) (*sessions.Record, error)
	Cleanup(ctx context.Context) ([]sessions.Record, error)
	SetEvictionHandler(h sessions.EvictionHandler)
}

var _ SessionStore = (*sessions.TokenStore)(nil)
