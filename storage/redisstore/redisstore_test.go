package redisstore_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-chat-session/storage"
	"github.com/jrsteele09/go-chat-session/storage/redisstore"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := redisstore.New(context.Background(), redisstore.Options{Addr: mr.Addr(), Prefix: "chat:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store, mr := setupStore(t)

	_, err := store.Get(ctx, storage.KeySessions)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, storage.KeySessions, []byte(`{"alice":{}}`)))
	data, err := store.Get(ctx, storage.KeySessions)
	require.NoError(t, err)
	require.Equal(t, `{"alice":{}}`, string(data))

	t.Run("keys are prefixed", func(t *testing.T) {
		require.True(t, mr.Exists("chat:"+storage.KeySessions))
		require.False(t, mr.Exists(storage.KeySessions))
		raw, err := mr.Get("chat:" + storage.KeySessions)
		require.NoError(t, err)
		require.Equal(t, `{"alice":{}}`, raw)
	})

	t.Run("values written elsewhere are read", func(t *testing.T) {
		require.NoError(t, mr.Set("chat:"+storage.KeyDrafts, `{"c1":"hi"}`))
		drafts := map[string]string{}
		found, err := storage.GetJSON(ctx, store, storage.KeyDrafts, &drafts)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, map[string]string{"c1": "hi"}, drafts)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, storage.KeySessions))
		require.False(t, mr.Exists("chat:"+storage.KeySessions))
		_, err := store.Get(ctx, storage.KeySessions)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, store.Delete(ctx, storage.KeySessions), "deleting a missing key is not an error")
	})
}

func TestStoreServerGone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, mr := setupStore(t)
	mr.Close()

	_, err := store.Get(ctx, storage.KeySessions)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)
	require.Contains(t, err.Error(), "redis get")
	require.Error(t, store.Set(ctx, storage.KeySessions, []byte("x")))
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = redisstore.New(ctx, redisstore.Options{Addr: addr, Prefix: "chat:"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ping redis")
}
