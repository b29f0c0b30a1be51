package sessions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/jrsteele09/go-chat-session/internal/utils"
	"github.com/jrsteele09/go-chat-session/sessions"
	"github.com/jrsteele09/go-chat-session/storage"
	"github.com/jrsteele09/go-chat-session/storage/memstore"
	"github.com/jrsteele09/go-chat-session/token"
	"github.com/jrsteele09/go-chat-session/users"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx     context.Context
	clock   *testClock
	durable *memstore.Store
	tab     *memstore.Store
	store   *sessions.TokenStore
}

func setupFixture(t *testing.T, options ...sessions.Option) *fixture {
	t.Helper()
	clock := newTestClock()
	durable := memstore.New()
	tab := memstore.New()
	options = append([]sessions.Option{sessions.WithNowFunc(clock.Now)}, options...)
	return &fixture{
		ctx:     context.Background(),
		clock:   clock,
		durable: durable,
		tab:     tab,
		store:   sessions.NewTokenStore(durable, tab, options...),
	}
}

// newTab opens another tab over the same durable store.
func (f *fixture) newTab() *sessions.TokenStore {
	return sessions.NewTokenStore(f.durable, memstore.New(), sessions.WithNowFunc(f.clock.Now))
}

func user(id string) users.User {
	return users.User{ID: id, Username: id, Email: id + "@example.com"}
}

func TestSetSession(t *testing.T) {
	f := setupFixture(t)

	rec, err := f.store.SetSession(f.ctx, user("alice"), "access-1", "refresh-1", 60*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "alice", rec.UserID)
	require.Equal(t, 60*time.Minute, f.store.TimeUntilExpiry(f.ctx))
	require.True(t, f.store.IsSessionValid(f.ctx))

	current, err := f.store.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", current.AccessToken)
	require.Equal(t, "refresh-1", current.RefreshToken)

	tabUser, err := storage.GetString(f.ctx, f.tab, storage.KeyCurrentUserID)
	require.NoError(t, err)
	require.Equal(t, "alice", tabUser)

	t.Run("overwrites without merging", func(t *testing.T) {
		_, err := f.store.SetSession(f.ctx, users.User{ID: "alice"}, "access-2", "refresh-2", 10*time.Minute)
		require.NoError(t, err)
		current, err := f.store.CurrentSession(f.ctx)
		require.NoError(t, err)
		require.Equal(t, "access-2", current.AccessToken)
		require.Empty(t, current.User.Email)

		all, err := f.store.AvailableSessions(f.ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("missing user id", func(t *testing.T) {
		_, err := f.store.SetSession(f.ctx, users.User{}, "a", "r", time.Minute)
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})
}

func TestValidity(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "r", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(59 * time.Second)
	require.True(t, f.store.IsSessionValid(f.ctx))
	require.Equal(t, time.Second, f.store.TimeUntilExpiry(f.ctx))

	f.clock.Advance(time.Second)
	require.False(t, f.store.IsSessionValid(f.ctx))
	require.Zero(t, f.store.TimeUntilExpiry(f.ctx))

	_, err = f.store.CurrentSession(f.ctx)
	require.ErrorIs(t, err, apperrors.ErrNoSession)

	bound, err := f.store.BoundSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "alice", bound.UserID)
}

func TestNewTabAdoptsExistingSession(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a1", "r1", time.Hour)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b1", "rb", time.Hour)
	require.NoError(t, err)

	other := f.newTab()
	rec, err := other.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "bob", rec.UserID, "most recently active session is adopted")

	t.Run("expired sessions are not adopted", func(t *testing.T) {
		f.clock.Advance(2 * time.Hour)
		_, err := f.newTab().CurrentSession(f.ctx)
		require.ErrorIs(t, err, apperrors.ErrNoSession)
	})
}

func TestLogout(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "ra", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b", "rb", time.Hour)
	require.NoError(t, err)

	t.Run("other user leaves binding alone", func(t *testing.T) {
		removed, err := f.store.Logout(f.ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, "ra", removed.RefreshToken)

		current, err := f.store.CurrentSession(f.ctx)
		require.NoError(t, err)
		require.Equal(t, "bob", current.UserID)

		all, err := f.store.AvailableSessions(f.ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.store.Logout(f.ctx, "nobody")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("bound user with no other session", func(t *testing.T) {
		_, err := f.store.Logout(f.ctx, "")
		require.NoError(t, err)
		_, err = f.store.CurrentSession(f.ctx)
		require.ErrorIs(t, err, apperrors.ErrNoSession)
		require.Equal(t, 0, f.tab.Len())

		_, err = f.store.Logout(f.ctx, "")
		require.ErrorIs(t, err, apperrors.ErrNoSession)
	})
}

func TestLogoutBoundUserAdoptsRemainingSession(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "ra", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b", "rb", time.Hour)
	require.NoError(t, err)

	_, err = f.store.Logout(f.ctx, "bob")
	require.NoError(t, err)

	current, err := f.store.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "alice", current.UserID)
}

func TestLogoutAll(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "ra", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b", "rb", time.Hour)
	require.NoError(t, err)

	removed, err := f.store.LogoutAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	require.Equal(t, 0, f.durable.Len())
	require.Equal(t, 0, f.tab.Len())
	require.False(t, f.store.IsSessionValid(f.ctx))
}

func TestSwitchToUser(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "ra", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b", "rb", 2*time.Minute)
	require.NoError(t, err)

	rec, err := f.store.SwitchToUser(f.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", rec.UserID)

	current, err := f.store.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "a", current.AccessToken)

	all, err := f.store.AvailableSessions(f.ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "alice", all[0].UserID)
	require.Equal(t, "b", all[1].AccessToken, "other sessions are untouched")

	_, err = f.store.SwitchToUser(f.ctx, "nobody")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	f.clock.Advance(3 * time.Minute)
	_, err = f.store.SwitchToUser(f.ctx, "bob")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestMaxSessions(t *testing.T) {
	f := setupFixture(t, sessions.WithMaxSessions(2))

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.store.SetSession(f.ctx, user(id), "tok-"+id, "r-"+id, time.Hour)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	all, err := f.store.AvailableSessions(f.ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "c", all[0].UserID)
	require.Equal(t, "b", all[1].UserID)
}

func TestUpdateAccessTokenAndExtend(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a1", "r1", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("bob"), "b1", "rb", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SwitchToUser(f.ctx, "alice")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.store.UpdateAccessToken(f.ctx, "a2"))

	current, err := f.store.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", current.AccessToken)
	require.Equal(t, "r1", current.RefreshToken)
	require.True(t, f.clock.Now().Equal(current.LastActive))
	require.Equal(t, 50*time.Minute, f.store.TimeUntilExpiry(f.ctx))

	tabToken, err := storage.GetString(f.ctx, f.tab, storage.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "a2", tabToken)

	require.NoError(t, f.store.ExtendSession(f.ctx, 2*time.Hour))
	require.Equal(t, 2*time.Hour, f.store.TimeUntilExpiry(f.ctx))

	all, err := f.store.AvailableSessions(f.ctx)
	require.NoError(t, err)
	for _, rec := range all {
		if rec.UserID == "bob" {
			require.Equal(t, "b1", rec.AccessToken)
		}
	}

	t.Run("expired session cannot be extended", func(t *testing.T) {
		f.clock.Advance(3 * time.Hour)
		require.ErrorIs(t, f.store.ExtendSession(f.ctx, time.Hour), apperrors.ErrNoSession)
	})
}

func TestUpdateUser(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a", "r", time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateUser(f.ctx, users.User{ID: "alice", Status: utils.Ptr("online")}))

	current, err := f.store.CurrentSession(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", current.User.Email)
	require.Equal(t, "online", utils.Value(current.User.Status))

	var cached users.User
	found, err := storage.GetJSON(f.ctx, f.tab, storage.KeyCurrentUser, &cached)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "online", utils.Value(cached.Status))
}

func TestApplyRefresh(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.SetSession(f.ctx, user("alice"), "a1", "r1", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	rec, err := f.store.ApplyRefresh(f.ctx, "alice", "r1", sessions.RefreshUpdate{
		AccessToken:  "a2",
		RefreshToken: "r2",
		Expiry:       time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, "a2", rec.AccessToken)
	require.Equal(t, "r2", rec.RefreshToken)
	require.Equal(t, time.Hour, f.store.TimeUntilExpiry(f.ctx))

	t.Run("refresh token replaced meanwhile", func(t *testing.T) {
		_, err := f.store.ApplyRefresh(f.ctx, "alice", "r1", sessions.RefreshUpdate{AccessToken: "late"})
		require.ErrorIs(t, err, apperrors.ErrStaleSession)
	})

	t.Run("logged out meanwhile", func(t *testing.T) {
		_, err := f.store.Logout(f.ctx, "alice")
		require.NoError(t, err)
		_, err = f.store.ApplyRefresh(f.ctx, "alice", "r2", sessions.RefreshUpdate{AccessToken: "late"})
		require.ErrorIs(t, err, apperrors.ErrStaleSession)
		require.False(t, f.store.IsSessionValid(f.ctx))
	})
}

func TestCleanup(t *testing.T) {
	var evicted []string
	f := setupFixture(t, sessions.WithEvictionHandler(func(_ context.Context, rec sessions.Record) {
		evicted = append(evicted, rec.UserID)
	}))

	_, err := f.store.SetSession(f.ctx, user("short"), "s", "rs", time.Minute)
	require.NoError(t, err)
	_, err = f.store.SetSession(f.ctx, user("long"), "l", "rl", time.Hour)
	require.NoError(t, err)
	_, err = f.store.SwitchToUser(f.ctx, "short")
	require.NoError(t, err)

	removed, err := f.store.Cleanup(f.ctx)
	require.NoError(t, err)
	require.Empty(t, removed)
	require.Empty(t, evicted)

	f.clock.Advance(time.Minute)
	removed, err = f.store.Cleanup(f.ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, []string{"short"}, evicted)

	tabUser, err := storage.GetString(f.ctx, f.tab, storage.KeyCurrentUserID)
	require.NoError(t, err)
	require.Empty(t, tabUser)

	t.Run("unbound eviction does not signal", func(t *testing.T) {
		_, err := f.store.SwitchToUser(f.ctx, "long")
		require.NoError(t, err)
		other := f.newTab()
		_, err = other.SetSession(f.ctx, user("other"), "o", "ro", time.Minute)
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		removed, err := f.store.Cleanup(f.ctx)
		require.NoError(t, err)
		require.Len(t, removed, 1)
		require.Equal(t, []string{"short"}, evicted)
	})
}

func TestAccessToken(t *testing.T) {
	f := setupFixture(t)
	_, err := f.store.AccessToken(f.ctx)
	require.ErrorIs(t, err, apperrors.ErrNoSession)

	_, err = f.store.SetSession(f.ctx, user("alice"), "a1", "r1", time.Hour)
	require.NoError(t, err)
	tok, err := f.store.AccessToken(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, "alice", token.Owner(tok))
}
