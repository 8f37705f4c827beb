package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to, subject, body string
}

type fakeTransport struct {
	mu   sync.Mutex
	mail []sent
	err  error
}

func (f *fakeTransport) Deliver(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.mail = append(f.mail, sent{to, subject, body})
	return nil
}

func (f *fakeTransport) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.mail...)
}

var testLinks = Links{Login: "https://muistot.example/login", Verify: "https://muistot.example/confirm"}

func TestRenderLogin(t *testing.T) {
	out, err := render(Message{Type: TypeLogin, Email: "a@example.com", User: "otter", Token: "tok"}, testLinks)
	require.NoError(t, err)

	assert.Equal(t, "Login to Muistot", out.Subject)
	assert.Contains(t, out.Body, "https://muistot.example/login?token=tok&user=otter")
	assert.Contains(t, out.Body, "confirms this email")
}

func TestRenderVerifyUsesVerifyLink(t *testing.T) {
	out, err := render(Message{Type: TypeVerify, User: "otter", Token: "tok"}, testLinks)
	require.NoError(t, err)
	assert.Contains(t, out.Body, "https://muistot.example/confirm?")
}

func TestRenderUnknownType(t *testing.T) {
	_, err := render(Message{Type: "spam"}, testLinks)
	assert.Error(t, err)
}

func TestQueueToWorker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	transport := &fakeTransport{}
	worker := NewWorker(client, WorkerOptions{
		Stream:        "mail:outbox",
		Group:         "mailers",
		Consumer:      "test",
		ClaimInterval: time.Minute,
		Links:         testLinks,
	}, transport, zerolog.Nop())
	worker.block = 10 * time.Millisecond
	require.NoError(t, worker.EnsureGroup(ctx))
	require.NoError(t, worker.EnsureGroup(ctx))

	queue := NewQueue(client, "mail:outbox")
	require.NoError(t, queue.Send(ctx, Message{Type: TypeLogin, Email: "new@example.com", User: "otter", Token: "T"}))
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "mail:outbox", Values: map[string]any{"payload": "{"}}).Err())

	require.NoError(t, worker.read(ctx))

	mail := transport.all()
	require.Len(t, mail, 1)
	assert.Equal(t, "new@example.com", mail[0].to)
	assert.Contains(t, mail[0].body, "token=T")

	pending, err := client.XPending(ctx, "mail:outbox", "mailers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	worker := NewWorker(client, WorkerOptions{
		Stream: "mail:outbox", Group: "mailers", Consumer: "test", ClaimInterval: time.Minute,
	}, &fakeTransport{}, zerolog.Nop())
	worker.block = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestUndeliverableMailIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	worker := NewWorker(client, WorkerOptions{
		Stream: "mail:outbox", Group: "mailers", Consumer: "test",
		ClaimInterval: time.Minute, MaxDeliveries: 3, Links: testLinks,
	}, &fakeTransport{err: errors.New("relay refused")}, zerolog.Nop())
	require.NoError(t, worker.EnsureGroup(ctx))

	msg := redis.XMessage{ID: "1-0", Values: map[string]any{
		"job":     "job-1",
		"payload": `{"type":"login","email":"a@example.com","user":"otter","token":"T"}`,
	}}

	worker.process(ctx, msg, 1)
	n, err := client.XLen(ctx, "mail:outbox:dead").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	worker.process(ctx, msg, 3)
	entries, err := client.XRange(ctx, "mail:outbox:dead", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1-0", entries[0].Values["id"])
	assert.Equal(t, "relay refused", entries[0].Values["error"])
}
