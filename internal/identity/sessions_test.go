package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, ttl), mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := newSessionStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessionStore_TokensAreUnique(t *testing.T) {
	store, _ := newSessionStore(t, time.Hour)
	ctx := context.Background()

	first, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	second, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSessionStore_ExpiredToken(t *testing.T) {
	store, mr := newSessionStore(t, time.Minute)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionStore_UnknownToken(t *testing.T) {
	store, _ := newSessionStore(t, time.Hour)

	_, err := store.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionStore_Delete(t *testing.T) {
	store, _ := newSessionStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	assert.NoError(t, store.Delete(ctx, token), "revoking an absent token is not an error")
}
