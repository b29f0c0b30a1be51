package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-chat-session/auth"
	"github.com/jrsteele09/go-chat-session/internal/utils"
	"github.com/jrsteele09/go-chat-session/token/refresh"
	"github.com/jrsteele09/go-chat-session/users"
)

// RegisterHandler creates an account and signs it in.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.Registration
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.validator.ValidateRegistration(req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if existing, _ := s.repos.Users.GetByEmail(req.Email); existing != nil {
			writeJSONError(w, CodeConflict, "email already registered", http.StatusConflict)
			return
		}
		if existing, _ := s.repos.Users.GetByUsername(req.Username); existing != nil {
			writeJSONError(w, CodeConflict, "username already taken", http.StatusConflict)
			return
		}

		hash, err := users.HashPassword(req.Password)
		if err != nil {
			s.logger.Error().Err(err).Msg("hash password")
			writeJSONError(w, CodeInternal, "could not create account", http.StatusInternalServerError)
			return
		}
		user := &users.User{
			Username:     req.Username,
			Email:        strings.TrimSpace(req.Email),
			PasswordHash: hash,
			DateJoined:   s.nowFunc().UTC(),
		}
		if name := strings.TrimSpace(req.DisplayName); name != "" {
			user.DisplayName = utils.Ptr(name)
		}
		if err := s.repos.Users.Upsert(user); err != nil {
			s.logger.Error().Err(err).Msg("store user")
			writeJSONError(w, CodeInternal, "could not create account", http.StatusInternalServerError)
			return
		}

		s.logger.Info().Str("user_id", user.ID).Msg("registered user")
		s.writeAuthResponse(w, http.StatusCreated, user)
	}
}

// LoginHandler exchanges email and password for a token pair.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds auth.Credentials
		if err := decodeJSON(w, r, &creds); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.validator.ValidateCredentials(creds); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}

		user, err := s.repos.Users.GetByEmail(strings.TrimSpace(creds.Email))
		if err != nil || user == nil || !users.CheckPasswordHash(creds.Password, user.PasswordHash) {
			writeJSONError(w, CodeInvalidCredentials, "invalid email or password", http.StatusUnauthorized)
			return
		}

		s.writeAuthResponse(w, http.StatusOK, user)
	}
}

func (s *Server) writeAuthResponse(w http.ResponseWriter, status int, user *users.User) {
	accessToken, _, err := s.tokens.CreateAccessToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("create access token")
		writeJSONError(w, CodeInternal, "could not sign in", http.StatusInternalServerError)
		return
	}
	refreshToken, err := s.refresh.Create(user.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("create refresh token")
		writeJSONError(w, CodeInternal, "could not sign in", http.StatusInternalServerError)
		return
	}

	public := user.Public()
	writeJSON(w, status, auth.AuthResponse{
		Success:      true,
		User:         &public,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.expiresIn(),
	})
}

// RefreshHandler rotates a refresh token and issues a new access token. The
// presented refresh token is consumed either way.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RefreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.validator.ValidateRefreshRequest(req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}

		newRefresh, userID, err := s.refresh.Rotate(req.RefreshToken)
		if err != nil {
			if !errors.Is(err, refresh.ErrInvalidRefreshToken) && !errors.Is(err, refresh.ErrRefreshTokenExpired) {
				s.logger.Error().Err(err).Msg("rotate refresh token")
			}
			writeJSONError(w, CodeRefreshRejected, "refresh rejected", http.StatusUnauthorized)
			return
		}

		user, err := s.repos.Users.GetByID(userID)
		if err != nil || user == nil {
			_ = s.refresh.Revoke(newRefresh)
			writeJSONError(w, CodeRefreshRejected, "account no longer exists", http.StatusUnauthorized)
			return
		}

		accessToken, _, err := s.tokens.CreateAccessToken(user)
		if err != nil {
			s.logger.Error().Err(err).Msg("create access token")
			writeJSONError(w, CodeInternal, "could not refresh", http.StatusInternalServerError)
			return
		}

		public := user.Public()
		writeJSON(w, http.StatusOK, auth.RefreshResponse{
			Success:      true,
			AccessToken:  accessToken,
			RefreshToken: newRefresh,
			User:         &public,
			ExpiresIn:    s.expiresIn(),
		})
	}
}

// LogoutHandler revokes the presented refresh token. Unknown tokens are not an
// error so that logout is idempotent.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RefreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, CodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		if req.RefreshToken != "" {
			_ = s.refresh.Revoke(req.RefreshToken)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// MeHandler returns the profile of the authenticated user.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.repos.Users.GetByID(UserIDFromContext(r.Context()))
		if err != nil || user == nil {
			writeJSONError(w, CodeUnauthorized, "account no longer exists", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, user.Public())
	}
}

// expiresIn is the access token lifetime in seconds as reported to clients.
func (s *Server) expiresIn() int {
	return int(s.config.GetAccessTokenExpiry().Seconds())
}
