package auth_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-session/auth"
	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/users"
)

const testPassword = "Password1"

type testSessionConfig struct{}

func (testSessionConfig) GetMaxSessions() int { return 5 }
func (testSessionConfig) GetDefaultSessionExpiry() time.Duration { return 60 * time.Minute }
func (testSessionConfig) GetRefreshCheckInterval() time.Duration { return time.Hour }
func (testSessionConfig) GetRefreshThreshold() time.Duration { return 5 * time.Minute }
func (testSessionConfig) GetActivityQuietWindow() time.Duration { return 5 * time.Minute }
func (testSessionConfig) GetActivityExtension() time.Duration { return 60 * time.Minute }
func (testSessionConfig) GetCleanupInterval() time.Duration { return time.Hour }
func (testSessionConfig) GetRequestTimeout() time.Duration { return 5 * time.Second }

// fakeBackend scripts the chat backend's auth endpoints.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	users    map[string]users.User // by email
	access   map[string]string     // valid access token -> user id
	refresh  map[string]string     // valid refresh token -> user id
	revoked  []string
	nextID   int
	meReject string // when set, /me answers 401 with this message

	refreshCalls      atomic.Int32
	unauthorizedCalls atomic.Int32
	refreshGate       chan struct{} // when non-nil, refresh responses wait for it to close
	refreshFail       atomic.Bool
	heldRefreshes     atomic.Int32 // refreshes that rotated tokens and wait on refreshGate
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		users: map[string]users.User{
			"alice@example.com": {ID: "alice", Username: "alice", Email: "alice@example.com"},
			"bob@example.com":   {ID: "bob", Username: "bob", Email: "bob@example.com"},
		},
		access:  make(map[string]string),
		refresh: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+auth.LoginPath, b.handleLogin)
	mux.HandleFunc("POST "+auth.RefreshPath, b.handleRefresh)
	mux.HandleFunc("POST "+auth.LogoutPath, b.handleLogout)
	mux.HandleFunc("GET "+auth.MePath, b.handleMe)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string {
	return b.srv.URL
}

// expireAccessTokens makes every issued access token invalid.
func (b *fakeBackend) expireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = make(map[string]string)
}

func (b *fakeBackend) revokedTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.revoked...)
}

func (b *fakeBackend) issue(userID string) (string, string) {
	b.nextID++
	accessToken := fmt.Sprintf("access-%s-%d", userID, b.nextID)
	refreshToken := fmt.Sprintf("refresh-%s-%d", userID, b.nextID)
	b.access[accessToken] = userID
	b.refresh[refreshToken] = userID
	return accessToken, refreshToken
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	_ = json.NewDecoder(r.Body).Decode(&creds)

	b.mu.Lock()
	user, ok := b.users[creds.Email]
	if !ok || creds.Password != testPassword {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid email or password"})
		return
	}
	accessToken, refreshToken := b.issue(user.ID)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, auth.AuthResponse{
		Success:      true,
		User:         &user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    900,
	})
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	var req auth.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	userID, ok := b.refresh[req.RefreshToken]
	if !ok || b.refreshFail.Load() {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid refresh token"})
		return
	}
	delete(b.refresh, req.RefreshToken)
	accessToken, refreshToken := b.issue(userID)
	gate := b.refreshGate
	b.mu.Unlock()

	// The tokens are rotated; only the response is held back.
	if gate != nil {
		b.heldRefreshes.Add(1)
		<-gate
	}
	writeJSON(w, http.StatusOK, auth.RefreshResponse{Success: true, AccessToken: accessToken, RefreshToken: refreshToken})
}

// holdRefreshes delays refresh responses until the returned function is called.
func (b *fakeBackend) holdRefreshes() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()
	return func() { close(gate) }
}

func (b *fakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	delete(b.refresh, req.RefreshToken)
	b.revoked = append(b.revoked, req.RefreshToken)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *fakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	accessToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	b.mu.Lock()
	userID, ok := b.access[accessToken]
	reject := b.meReject
	var user users.User
	for _, u := range b.users {
		if u.ID == userID {
			user = u
		}
	}
	b.mu.Unlock()

	if reject != "" {
		b.unauthorizedCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "message": reject})
		return
	}
	if !ok {
		b.unauthorizedCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": client.CodeTokenExpired, "message": "access token expired"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
