package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-chat-session/server/conversations"
	"github.com/jrsteele09/go-chat-session/users"
)

const (
	// Demo accounts created by InitialiseSystem in development
	DemoUsername     = "demo"
	DemoPeerUsername = "peer"
	DemoDomain       = "chat.local"
	DemoConversation = "lobby"

	generatedPasswordBytes = 12
)

// SeedUser creates a user with the given password, or with a generated one
// when password is empty. An existing user with the same email is returned
// unchanged with an empty password.
func (s *Server) SeedUser(username, email, password string) (*users.User, string, error) {
	if existing, _ := s.repos.Users.GetByEmail(email); existing != nil {
		return existing, "", nil
	}
	if password == "" {
		password = generatePassword(generatedPasswordBytes)
	}

	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}
	user := &users.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DateJoined:   s.nowFunc().UTC(),
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, "", fmt.Errorf("failed to store user: %w", err)
	}
	return user, password, nil
}

// InitialiseSystem creates two demo users sharing a lobby conversation and
// logs their credentials. It is meant for local development only.
func (s *Server) InitialiseSystem() (*conversations.Conversation, error) {
	s.logger.Info().Msg("🔧 Bootstrap: seeding demo data...")

	demo, demoPassword, err := s.SeedUser(DemoUsername, DemoUsername+"@"+DemoDomain, "")
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap demo user: %w", err)
	}
	peer, peerPassword, err := s.SeedUser(DemoPeerUsername, DemoPeerUsername+"@"+DemoDomain, "")
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap peer user: %w", err)
	}

	lobby := &conversations.Conversation{
		ID:        DemoConversation,
		Name:      "Lobby",
		MemberIDs: []string{demo.ID, peer.ID},
		CreatedBy: demo.ID,
		CreatedAt: s.nowFunc().UTC(),
	}
	if existing, err := s.repos.Conversations.Get(DemoConversation); err == nil {
		lobby = existing
	} else if err := s.repos.Conversations.Upsert(lobby); err != nil {
		return nil, fmt.Errorf("failed to bootstrap lobby: %w", err)
	}

	s.logger.Info().Msg("✅ Bootstrap complete")
	s.logCredentials(demo, demoPassword)
	s.logCredentials(peer, peerPassword)
	s.logger.Info().Msgf("💬 Conversation: %s (%s)", lobby.ID, lobby.Name)
	return lobby, nil
}

func (s *Server) logCredentials(user *users.User, password string) {
	if password == "" {
		s.logger.Info().Msgf("👤 %s already exists", user.Email)
		return
	}
	s.logger.Info().Msgf("👤 Email: %s  Password: %s", user.Email, password)
}

// generatePassword returns a random password that satisfies
// users.ValidatePasswordStrength.
func generatePassword(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	random := strings.NewReplacer("-", "x", "_", "y").Replace(base64.RawURLEncoding.EncodeToString(b))
	return "Aa1" + random
}
