package login

import (
	"bytes"
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

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/identity"
	"muistot/api/internal/mailer"
	"muistot/api/internal/models"
	"muistot/api/internal/ratelimit"
	"muistot/api/internal/repository"
	"muistot/api/internal/security"
	"muistot/api/internal/sessions"
)

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	users     map[string]*models.User
	verifiers map[int64]models.EmailVerifier
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*models.User{}, verifiers: map[int64]models.EmailVerifier{}}
}

func (f *fakeStore) ByEmail(_ context.Context, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeStore) ByUsername(_ context.Context, username string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		return *u, nil
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeStore) UsernameTaken(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[username]
	return ok, nil
}

func (f *fakeStore) Create(_ context.Context, username, email string, hash []byte) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &models.User{ID: f.nextID, Username: username, Email: email, PasswordHash: hash}
	f.users[username] = u
	return *u, nil
}

func (f *fakeStore) MarkVerified(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.Verified = true
		}
	}
	return nil
}

func (f *fakeStore) SetVerifier(_ context.Context, userID int64, verifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifiers[userID] = models.EmailVerifier{UserID: userID, Verifier: verifier, CreatedAt: time.Now()}
	return nil
}

func (f *fakeStore) Verifier(_ context.Context, username string) (models.EmailVerifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return models.EmailVerifier{}, repository.ErrVerifierNotFound
	}
	v, ok := f.verifiers[u.ID]
	if !ok {
		return models.EmailVerifier{}, repository.ErrVerifierNotFound
	}
	v.Username = username
	return v, nil
}

func (f *fakeStore) DeleteVerifier(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		delete(f.verifiers, u.ID)
	}
	return nil
}

func (f *fakeStore) hasVerifier(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return false
	}
	_, ok = f.verifiers[u.ID]
	return ok
}

func (f *fakeStore) SessionData(_ context.Context, _ string) (sessions.Data, error) {
	return sessions.Data{Scopes: []string{identity.ScopeAuthenticated}, AdminProjects: []string{}}, nil
}

func (f *fakeStore) ChangeEmail(_ context.Context, username, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	u.Email = email
	u.Verified = false
	return nil
}

func (f *fakeStore) ChangeUsername(_ context.Context, username, next string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	delete(f.users, username)
	u.Username = next
	f.users[next] = u
	return nil
}

type directTx struct{}

func (directTx) Tx(_ context.Context, fn func(db database.DB) error) error { return fn(nil) }

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type fixedNames struct {
	names []string
	err   error
	calls int
}

func (g *fixedNames) Generate(context.Context) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	name := g.names[0]
	if len(g.names) > 1 {
		g.names = g.names[1:]
	}
	return name, nil
}

type harness struct {
	engine   *Engine
	store    *fakeStore
	mail     *recordingMailer
	sessions *sessions.Store
	names    *fixedNames
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, zerolog.Nop())
}

func newHarnessWithLogger(t *testing.T, logger zerolog.Logger) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		store:    newFakeStore(),
		mail:     &recordingMailer{},
		sessions: sessions.NewStore(client, time.Hour, 32),
		names:    &fixedNames{names: []string{"quiet-otter"}},
	}
	h.engine = NewEngine(
		directTx{},
		func(database.DB) UserStore { return h.store },
		h.sessions,
		ratelimit.New(client),
		h.mail,
		h.names,
		Options{
			TokenTTL:         10 * time.Minute,
			MaxAttempts:      3,
			UsernameAttempts: 5,
			Cooldown:         time.Minute,
			ExchangeWindow:   time.Minute,
			ExchangeLimit:    10,
		},
		logger,
	)
	return h
}

func TestEmailLoginAndExchange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.engine.RequestEmailLogin(ctx, "10.0.0.1", "new@example.com", "fi"))

	sent := h.mail.messages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, mailer.TypeLogin, msg.Type)
	assert.Equal(t, "new@example.com", msg.Email)
	assert.Equal(t, "quiet-otter", msg.User)
	assert.NotEmpty(t, msg.Token)

	token, err := h.engine.Exchange(ctx, "10.0.0.1", msg.User, msg.Token)
	require.NoError(t, err)

	user, _ := h.store.ByUsername(ctx, msg.User)
	assert.True(t, user.Verified)
	assert.False(t, h.store.hasVerifier(msg.User))

	session, err := h.sessions.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "quiet-otter", session.User)

	_, err = h.engine.Exchange(ctx, "10.0.0.1", msg.User, msg.Token)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestThreeWrongAttemptsConsumeVerifier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.engine.RequestEmailLogin(ctx, "10.0.0.1", "new@example.com", "fi"))
	msg := h.mail.messages()[0]

	for i := 0; i < 3; i++ {
		_, err := h.engine.Exchange(ctx, "10.0.0.1", msg.User, "WRONG")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "attempt %d", i+1)
	}
	assert.False(t, h.store.hasVerifier(msg.User))

	_, err := h.engine.Exchange(ctx, "10.0.0.1", msg.User, msg.Token)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	user, _ := h.store.ByUsername(ctx, msg.User)
	assert.False(t, user.Verified)
}

func TestEmailLoginCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.engine.RequestEmailLogin(ctx, "10.0.0.1", "new@example.com", "fi"))

	err := h.engine.RequestEmailLogin(ctx, "10.0.0.2", "new@example.com", "fi")
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))
	assert.Len(t, h.mail.messages(), 1)
}

func TestExistingUserKeepsName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.store.Create(ctx, "old-fox", "fox@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.RequestEmailLogin(ctx, "10.0.0.1", "fox@example.com", "fi"))
	assert.Equal(t, "old-fox", h.mail.messages()[0].User)
	assert.Zero(t, h.names.calls)
}

func TestUsernameGenerationExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.names.err = errors.New("down")

	err := h.engine.RequestEmailLogin(ctx, "10.0.0.1", "new@example.com", "fi")
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
	assert.Equal(t, 5, h.names.calls)
	assert.Empty(t, h.mail.messages())
}

func TestTakenGeneratedNameIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, _ = h.store.Create(ctx, "quiet-otter", "other@example.com", nil)
	h.names.names = []string{"quiet-otter", "bold-heron"}

	require.NoError(t, h.engine.RequestEmailLogin(ctx, "10.0.0.1", "new@example.com", "fi"))
	assert.Equal(t, "bold-heron", h.mail.messages()[0].User)
}

func TestPasswordLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	hash, err := security.HashPasswordWithParams("hunter22", security.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8})
	require.NoError(t, err)
	_, _ = h.store.Create(ctx, "heron", "heron@example.com", hash)

	token, err := h.engine.PasswordLogin(ctx, "10.0.0.1", "heron@example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = h.engine.PasswordLogin(ctx, "10.0.0.1", "heron", "wrong")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	_, err = h.engine.PasswordLogin(ctx, "10.0.0.1", "nobody", "wrong")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestPasswordLoginLogsUnreadableHash(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	h := newHarnessWithLogger(t, zerolog.New(&logs))
	_, _ = h.store.Create(ctx, "heron", "heron@example.com", []byte("$argon2id$broken"))

	_, err := h.engine.PasswordLogin(ctx, "10.0.0.1", "heron", "hunter22")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "stored password hash unreadable")
	assert.Contains(t, logs.String(), `"user":"heron"`)
}

func TestRegisterAndConfirm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.engine.Register(ctx, "10.0.0.1", "heron", "heron@example.com", "hunter22", "en"))
	msg := h.mail.messages()[0]
	assert.Equal(t, mailer.TypeRegister, msg.Type)

	token, err := h.engine.Confirm(ctx, "10.0.0.1", "heron", msg.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	err = h.engine.Register(ctx, "10.0.0.9", "heron", "other@example.com", "x", "en")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestChangeUsernameEndsOldSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, _ = h.store.Create(ctx, "heron", "heron@example.com", nil)

	data := sessions.Data{Scopes: []string{identity.ScopeAuthenticated}}
	first, err := h.sessions.Start(ctx, "heron", data)
	require.NoError(t, err)
	second, err := h.sessions.Start(ctx, "heron", data)
	require.NoError(t, err)

	token, err := h.engine.ChangeUsername(ctx, "heron", "egret")
	require.NoError(t, err)

	for _, old := range []string{first, second} {
		_, err := h.sessions.Get(ctx, old)
		assert.ErrorIs(t, err, sessions.ErrInvalidSession)
	}
	session, err := h.sessions.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "egret", session.User)
}

func TestChangeEmailSendsVerification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u, _ := h.store.Create(ctx, "heron", "heron@example.com", nil)
	require.NoError(t, h.store.MarkVerified(ctx, u.ID))

	token, err := h.engine.ChangeEmail(ctx, "heron", "new@example.com", "en")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	user, _ := h.store.ByUsername(ctx, "heron")
	assert.Equal(t, "new@example.com", user.Email)
	assert.False(t, user.Verified)

	msg := h.mail.messages()[0]
	assert.Equal(t, mailer.TypeVerify, msg.Type)
	assert.Equal(t, "new@example.com", msg.Email)
}
