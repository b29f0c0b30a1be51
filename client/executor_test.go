package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-session/client"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/token"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeCreds struct {
	mu    sync.Mutex
	token string
	user  string
}

func (c *fakeCreds) AccessToken(context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return nil, apperrors.ErrNoSession
	}
	return token.WithOwner(token.New(c.token, "", time.Time{}), c.user), nil
}

func (c *fakeCreds) set(tok, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
	c.user = user
}

// fakeRefresher installs newToken. When newUser is set the bound user changes
// at the same time, as if another account was switched to during the refresh.
type fakeRefresher struct {
	creds    *fakeCreds
	newToken string
	newUser  string
	err      error
	calls    atomic.Int32
	stale    []string
	users    []string
	mu       sync.Mutex
}

func (r *fakeRefresher) RefreshSession(_ context.Context, userID, stale string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.stale = append(r.stale, stale)
	r.users = append(r.users, userID)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	user := userID
	if r.newUser != "" {
		user = r.newUser
	}
	r.creds.set(r.newToken, user)
	return nil
}

type fakeFailureHandler struct {
	users   []string
	reasons []string
}

func (h *fakeFailureHandler) HandleAuthFailure(_ context.Context, userID, reason string) {
	h.users = append(h.users, userID)
	h.reasons = append(h.reasons, reason)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

// tokenServer accepts only the bearer token "good" and reports any other token as expired.
func tokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer good" {
			writeError(w, http.StatusUnauthorized, client.CodeTokenExpired, "access token expired")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoInjectsCredentials(t *testing.T) {
	var gotAuth, gotCustom, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Trace")
		gotContentType = r.Header.Get("Content-Type")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBody = body["content"]
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "good"}
	exec := client.New(srv.URL+"/", creds)

	header := http.Header{}
	header.Set("Authorization", "Bearer forged")
	header.Set("X-Trace", "abc")

	var out struct {
		ID string `json:"id"`
	}
	err := exec.DoJSON(context.Background(), client.Request{
		Method: http.MethodPost,
		Path:   "/api/conversations/c1/messages",
		Header: header,
		Body:   map[string]string{"content": "hi"},
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "m1", out.ID)
	require.Equal(t, "Bearer good", gotAuth)
	require.Equal(t, "abc", gotCustom)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "hi", gotBody)
}

func TestDoWithoutSession(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)

	exec := client.New(srv.URL, &fakeCreds{})
	_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
	require.ErrorIs(t, err, apperrors.ErrAuthenticationRequired)
	require.True(t, client.IsAuthRequired(err))
	require.Zero(t, hits.Load())
}

func TestDoRefreshesExpiredToken(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)

	creds := &fakeCreds{token: "stale", user: "alice"}
	refresher := &fakeRefresher{creds: creds, newToken: "good"}
	failures := &fakeFailureHandler{}
	exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

	resp, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me", UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, []string{"stale"}, refresher.stale)
	require.Equal(t, []string{"alice"}, refresher.users)
	require.Equal(t, int32(2), hits.Load())
	require.Empty(t, failures.reasons)
}

func TestDoUnauthorized(t *testing.T) {
	t.Run("rejection without expiry indication", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusUnauthorized, "REVOKED", "session revoked")
		}))
		defer srv.Close()

		creds := &fakeCreds{token: "t1", user: "alice"}
		refresher := &fakeRefresher{creds: creds, newToken: "t2"}
		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrAuthenticationRequired)
		require.Zero(t, refresher.calls.Load())
		require.Len(t, failures.reasons, 1)
		require.Equal(t, []string{"alice"}, failures.users, "the rejected credential's owner is torn down")
	})

	t.Run("still rejected after refresh", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		creds := &fakeCreds{token: "t1"}
		refresher := &fakeRefresher{creds: creds, newToken: "still-bad"}
		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrAuthenticationRequired)
		require.Equal(t, int32(1), refresher.calls.Load())
		require.Equal(t, int32(2), hits.Load())
		require.Len(t, failures.reasons, 1)
	})

	t.Run("refresh fails", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		creds := &fakeCreds{token: "t1"}
		refresher := &fakeRefresher{creds: creds, err: apperrors.ErrRefreshFailed}
		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrAuthenticationRequired)
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.Equal(t, int32(1), hits.Load())
		require.Empty(t, failures.reasons)
	})

	t.Run("no refresher", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, &fakeCreds{token: "t1"}, client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrAuthenticationRequired)
		require.Len(t, failures.reasons, 1)
	})
}

func TestDoRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		case "/forbidden":
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not a member")
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	exec := client.New(srv.URL, &fakeCreds{token: "good"})
	ctx := context.Background()

	_, err := exec.Do(ctx, client.Request{Path: "/missing"})
	var rf *apperrors.RequestFailedError
	require.ErrorAs(t, err, &rf)
	require.Equal(t, http.StatusNotFound, rf.Status)
	require.Equal(t, "conversation not found", rf.Message)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.True(t, apperrors.IsDefinitiveRejection(err))

	_, err = exec.Do(ctx, client.Request{Path: "/forbidden"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.True(t, apperrors.IsDefinitiveRejection(err))

	_, err = exec.Do(ctx, client.Request{Path: "/other"})
	require.ErrorAs(t, err, &rf)
	require.Equal(t, http.StatusInternalServerError, rf.Status)
	require.Equal(t, "boom", rf.Message)
	require.False(t, apperrors.IsDefinitiveRejection(err))
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := client.New(url, &fakeCreds{token: "good"})
	_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
	require.ErrorIs(t, err, apperrors.ErrNetwork)

	var netErr *apperrors.NetworkError
	require.True(t, errors.As(err, &netErr))
	require.True(t, strings.HasSuffix(netErr.Op, "/api/auth/me"))

	require.ErrorIs(t, exec.Ping(context.Background()), apperrors.ErrNetwork)
}

func TestDoContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	exec := client.New(srv.URL, &fakeCreds{token: "good"})
	_, err := exec.Do(ctx, client.Request{Path: "/slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, apperrors.ErrNetwork)
}

func TestDoUnauthenticated(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	exec := client.New(srv.URL, &fakeCreds{token: "good"})
	require.NoError(t, exec.Ping(context.Background()))
	require.Empty(t, gotAuth)
}

func TestDoKeepsRequestOwner(t *testing.T) {
	t.Run("bound user differs before sending", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		exec := client.New(srv.URL, &fakeCreds{token: "good", user: "bob"})
		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me", UserID: "alice"})
		require.ErrorIs(t, err, apperrors.ErrStaleSession)
		require.False(t, client.IsAuthRequired(err))
		require.Zero(t, hits.Load())
	})

	t.Run("bound user changes during refresh", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		creds := &fakeCreds{token: "stale", user: "alice"}
		refresher := &fakeRefresher{creds: creds, newToken: "good", newUser: "bob"}
		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrStaleSession)
		require.Equal(t, int32(1), hits.Load(), "not retried with bob's token")
		require.Empty(t, failures.reasons)
	})

	t.Run("refresher reports the session changed", func(t *testing.T) {
		var hits atomic.Int32
		srv := tokenServer(t, &hits)

		creds := &fakeCreds{token: "stale", user: "alice"}
		refresher := &fakeRefresher{creds: creds, err: apperrors.ErrStaleSession}
		failures := &fakeFailureHandler{}
		exec := client.New(srv.URL, creds, client.WithRefresher(refresher), client.WithAuthFailureHandler(failures))

		_, err := exec.Do(context.Background(), client.Request{Path: "/api/auth/me"})
		require.ErrorIs(t, err, apperrors.ErrStaleSession)
		require.NotErrorIs(t, err, apperrors.ErrAuthenticationRequired)
		require.Equal(t, int32(1), hits.Load())
		require.Empty(t, failures.reasons)
	})
}

func TestWithTimeoutCopiesClient(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	client.New("http://example.com", &fakeCreds{}, client.WithHTTPClient(shared), client.WithTimeout(time.Second))
	require.Equal(t, time.Minute, shared.Timeout)
}
