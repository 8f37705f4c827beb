package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muistot/api/internal/database"
	"muistot/api/internal/sessions"
)

type directTx struct {
	db database.DB
}

func (d directTx) Tx(_ context.Context, fn func(db database.DB) error) error {
	return fn(d.db)
}

func newStore(t *testing.T) (*sessions.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return sessions.NewStore(client, time.Hour, 32), mr
}

func TestPurgeVerifiersUsesCutoff(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM user_email_verifiers`).
		WithArgs(now.Add(-10 * time.Minute)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	store, _ := newStore(t)
	s := NewScheduler(directTx{mock}, store, 10*time.Minute, zerolog.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.PurgeVerifiers(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeSessionsDropsExpiredMembers(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	_, err := store.Start(ctx, "alice", sessions.Data{})
	require.NoError(t, err)
	_, err = store.Start(ctx, "alice", sessions.Data{})
	require.NoError(t, err)

	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "token:") {
			mr.Del(key)
			break
		}
	}

	s := NewScheduler(directTx{}, store, time.Minute, zerolog.Nop())
	require.NoError(t, s.PurgeSessions(ctx))

	members, err := mr.Members("user:alice")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestStartAndStop(t *testing.T) {
	store, _ := newStore(t)
	s := NewScheduler(directTx{}, store, time.Minute, zerolog.Nop())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Len(t, s.cron.Entries(), 2)
}
