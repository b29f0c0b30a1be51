// Package server is a small reference chat backend. It issues JWT access
// tokens with rotating refresh tokens and stores conversations in memory, so
// the client packages can be exercised end to end.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-chat-session/auth"
	"github.com/jrsteele09/go-chat-session/internal/config"
	"github.com/jrsteele09/go-chat-session/server/conversations"
	"github.com/jrsteele09/go-chat-session/token/jwt"
	"github.com/jrsteele09/go-chat-session/token/refresh"
	"github.com/jrsteele09/go-chat-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Repos groups the stores the backend depends on.
type Repos struct {
	Users         users.UserRepo
	RefreshTokens refresh.Repo
	Conversations conversations.Repo
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.ServerConfig
	repos     Repos
	tokens    *jwt.Creator
	inspector *jwt.Inspector
	refresh   *refresh.Manager
	validator *auth.Validator
	nowFunc   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Server)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg config.ServerConfig, repos Repos, opts ...Option) (*Server, error) {
	if repos.Users == nil || repos.RefreshTokens == nil || repos.Conversations == nil {
		return nil, fmt.Errorf("[Server New] missing repositories")
	}
	if cfg.GetSigningSecret() == "" {
		return nil, fmt.Errorf("[Server New] signing secret is required")
	}

	signer := jwt.NewHMACSigner(cfg.GetSigningSecret())
	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		repos:     repos,
		tokens:    jwt.NewCreator(signer, cfg.GetAccessTokenExpiry()),
		inspector: jwt.NewInspector(signer),
		refresh:   refresh.NewManager(repos.RefreshTokens, cfg.GetRefreshTokenLength(), cfg.GetRefreshTokenExpiry()),
		validator: auth.NewValidator(),
		nowFunc:   time.Now,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// PurgeExpiredRefreshTokens drops refresh tokens past their lifetime.
func (s *Server) PurgeExpiredRefreshTokens(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.refresh.PurgeExpired()
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	if n > 0 {
		s.logger.Debug().Int("count", n).Msg("purged expired refresh tokens")
	}
	return n, nil
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}
