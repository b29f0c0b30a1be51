// Package storage defines the key/value persistence scopes used by the
// session and offline layers. A durable store outlives a single client and may
// be shared by several of them; a tab store belongs to exactly one.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has never been written or was deleted.
var ErrNotFound = errors.New("key not found")

// Durable keys.
const (
	KeySessions     = "chat.sessions"
	KeyDrafts       = "chat.drafts"
	KeyOfflineQueue = "chat.offlineQueue"
)

// Tab scoped keys.
const (
	KeyCurrentUserID = "chat.currentUserId"
	KeyAccessToken   = "chat.accessToken"
	KeyCurrentUser   = "chat.currentUser"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the value under key into out. found is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (found bool, err error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("storage decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("storage set %s: %w", key, err)
	}
	return nil
}

// GetString returns the raw value under key as a string, "" when absent.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage get %s: %w", key, err)
	}
	return string(data), nil
}

// SetString writes value under key; an empty value deletes the key.
func SetString(ctx context.Context, s Store, key, value string) error {
	if value == "" {
		return s.Delete(ctx, key)
	}
	return s.Set(ctx, key, []byte(value))
}
