package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-session/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const Issuer = "go-chat"

// Creator handles access token creation
type Creator struct {
	signer Signer
	expiry time.Duration
}

// NewCreator creates a new JWT creator
func NewCreator(signer Signer, accessTokenExpiry time.Duration) *Creator {
	return &Creator{
		signer: signer,
		expiry: accessTokenExpiry,
	}
}

// CreateAccessToken creates a signed access token for the user and returns it
// together with its expiry.
func (c *Creator) CreateAccessToken(user *users.User) (string, time.Time, error) {
	now := NowTimeFunc()
	exp := now.Add(c.expiry)
	claims := jwtlib.MapClaims{
		"iss":      Issuer,              // The issuer of the token
		"sub":      user.ID,             // The subject, the user the token was issued to
		"username": user.Username,       // Convenience claim for logging
		"iat":      now.Unix(),          // Issued At: the time at which the token was issued
		"exp":      exp.Unix(),          // Expiry: when the token will expire
		"jti":      uuid.New().String(), // Unique token ID
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, exp, nil
}
