package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// Manager handles refresh token creation, validation, and single-use rotation
type Manager struct {
	repo        Repo
	tokenLength int
	expiry      time.Duration
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, tokenLength int, expiry time.Duration) *Manager {
	return &Manager{
		repo:        repo,
		tokenLength: tokenLength,
		expiry:      expiry,
	}
}

// Create generates a new refresh token and stores it
func (m *Manager) Create(userID string) (string, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:  tokenStr,
		UserID: userID,
		Iat:    NowTimeFunc(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Rotate consumes token and issues a replacement. A token can be rotated once;
// replaying it afterwards fails with ErrInvalidRefreshToken.
func (m *Manager) Rotate(token string) (newToken string, userID string, err error) {
	rt, err := m.repo.Get(token)
	if err != nil || rt == nil {
		return "", "", ErrInvalidRefreshToken
	}
	if err := m.repo.Delete(token); err != nil {
		return "", "", ErrInvalidRefreshToken
	}
	if m.IsExpired(rt) {
		return "", "", ErrRefreshTokenExpired
	}

	newToken, err = m.Create(rt.UserID)
	if err != nil {
		return "", "", err
	}
	return newToken, rt.UserID, nil
}

// Revoke removes a refresh token from storage
func (m *Manager) Revoke(token string) error {
	return m.repo.Delete(token)
}

// IsExpired checks if a refresh token has expired
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return NowTimeFunc().Sub(rt.Iat) > m.expiry
}

// PurgeExpired deletes every refresh token older than the configured expiry.
func (m *Manager) PurgeExpired() (int, error) {
	return m.repo.DeleteIssuedBefore(NowTimeFunc().Add(-m.expiry))
}
