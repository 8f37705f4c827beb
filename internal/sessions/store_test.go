package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLifetime = 10 * time.Second

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, testLifetime, 32), mr
}

func TestStartGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	data := Data{Scopes: []string{"authenticated"}, AdminProjects: []string{"parks"}}
	token, err := store.Start(ctx, "alice", data)
	require.NoError(t, err)

	session, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", session.User)
	assert.Equal(t, data, session.Data)
}

func TestTokensNeverRepeat(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		token, err := store.Start(ctx, "alice", Data{})
		require.NoError(t, err)
		_, dup := seen[token]
		require.False(t, dup, "token repeated: %s", token)
		seen[token] = struct{}{}
	}
}

func TestRawTokenNotStored(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, token)
	}
}

func TestEndInvalidates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	require.NoError(t, store.End(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	// idempotent
	require.NoError(t, store.End(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestGetRejectsGarbage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, token := range []string{"", "!!!not-base64!!!", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		_, err := store.Get(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidSession, token)
	}
}

func TestSlidingExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		mr.FastForward(testLifetime / 2)
		_, err := store.Get(ctx, token)
		require.NoError(t, err, "iteration %d", i)
	}

	mr.FastForward(testLifetime + time.Second)
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestClearOnlyAffectsUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a1, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)
	a2, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)
	b1, err := store.Start(ctx, "bob", Data{})
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "alice"))

	for _, token := range []string{a1, a2} {
		_, err := store.Get(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
	session, err := store.Get(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, "bob", session.User)
}

func TestClearAll(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Start(ctx, "alice", Data{})
	b, _ := store.Start(ctx, "bob", Data{})
	require.NoError(t, mr.Set("unrelated", "kept"))

	require.NoError(t, store.ClearAll(ctx))

	for _, token := range []string{a, b} {
		_, err := store.Get(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
	assert.True(t, mr.Exists("unrelated"))
}

func TestStartPurgesStaleIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	// drop the token but leave the index entry behind
	for _, key := range mr.Keys() {
		if key != userKey("alice") {
			mr.Del(key)
		}
	}
	members, err := mr.Members(userKey("alice"))
	require.NoError(t, err)
	require.Len(t, members, 1)

	_, err = store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	members, err = mr.Members(userKey("alice"))
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestClearReachesSessionsKeptAliveBySliding(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Start(ctx, "alice", Data{})
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)
	_, err = store.Get(ctx, token)
	require.NoError(t, err)
	mr.FastForward(6 * time.Second)
	_, err = store.Get(ctx, token)
	require.NoError(t, err)

	assert.True(t, mr.Exists(userKey("alice")))

	require.NoError(t, store.Clear(ctx, "alice"))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
