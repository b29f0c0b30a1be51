package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/token/jwt"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyClaims stores parsed token claims
	ContextKeyClaims ContextKey = "claims"
)

// RequireAuth is middleware that validates a Bearer access token.
// An expired token answers 401 with CodeTokenExpired so clients refresh and
// retry; any other failure answers 401 with CodeUnauthorized and a message
// that does not suggest a refresh.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				writeJSONError(w, CodeUnauthorized, "missing bearer credentials", http.StatusUnauthorized)
				return
			}

			claims, err := s.inspector.Introspect(raw)
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeJSONError(w, client.CodeTokenExpired, "access token expired", http.StatusUnauthorized)
				return
			}
			if err != nil {
				s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected access token")
				writeJSONError(w, CodeUnauthorized, "invalid credentials", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UserIDFromContext returns the user id stored by RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ContextKeyUserID).(string)
	return userID
}
