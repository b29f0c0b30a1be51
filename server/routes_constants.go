package server

import "github.com/jrsteele09/go-chat-session/auth"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthRegister = auth.RegisterPath
	RouteAuthLogin    = auth.LoginPath
	RouteAuthRefresh  = auth.RefreshPath
	RouteAuthLogout   = auth.LogoutPath
	RouteAuthMe       = auth.MePath

	// Health
	RouteHealth = "/api/health"

	// Conversation Routes
	RouteConversations        = "/api/conversations"
	RouteConversationMessages = "/api/conversations/{id}/messages"
)
