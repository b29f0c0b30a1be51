// Package token inspects access tokens on the client side. Tokens are opaque
// to the client; when they happen to be JWTs their exp claim is read without
// verification to schedule refreshes earlier than the session expiry.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	TypeBearer = "Bearer"

	// extraUserID names the token extra that records whose session issued the credential.
	extraUserID = "user_id"
)

// AccessTokenExpiry returns the exp claim of a JWT access token. ok is false
// for opaque tokens and JWTs without exp.
func AccessTokenExpiry(raw string) (exp time.Time, ok bool) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}
	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	expClaim, err := parsed.Claims.GetExpirationTime()
	if err != nil || expClaim == nil {
		return time.Time{}, false
	}
	return expClaim.Time, true
}

// New builds the bearer credential handed to the HTTP layer.
func New(accessToken, refreshToken string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    TypeBearer,
		Expiry:       expiry,
	}
}

// WithOwner returns a copy of tok recording userID as the owning session.
func WithOwner(tok *oauth2.Token, userID string) *oauth2.Token {
	return tok.WithExtra(map[string]any{extraUserID: userID})
}

// Owner returns the user id recorded by WithOwner, "" when there is none.
func Owner(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	userID, _ := tok.Extra(extraUserID).(string)
	return userID
}
