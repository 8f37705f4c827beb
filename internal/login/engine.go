// Package login implements email, password and registration logins on top of
// the session store.
package login

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"muistot/api/internal/apperr"
	"muistot/api/internal/config"
	"muistot/api/internal/database"
	"muistot/api/internal/mailer"
	"muistot/api/internal/models"
	"muistot/api/internal/ratelimit"
	"muistot/api/internal/repository"
	"muistot/api/internal/security"
	"muistot/api/internal/sessions"
)

// UserStore is the persistence the engine needs, bound to one transaction.
type UserStore interface {
	ByEmail(ctx context.Context, email string) (models.User, error)
	ByUsername(ctx context.Context, username string) (models.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username, email string, passwordHash []byte) (models.User, error)
	MarkVerified(ctx context.Context, userID int64) error
	SetVerifier(ctx context.Context, userID int64, verifier string) error
	Verifier(ctx context.Context, username string) (models.EmailVerifier, error)
	DeleteVerifier(ctx context.Context, username string) error
	SessionData(ctx context.Context, username string) (sessions.Data, error)
	ChangeEmail(ctx context.Context, username, email string) error
	ChangeUsername(ctx context.Context, username, next string) error
}

type UsernameGenerator interface {
	Generate(ctx context.Context) (string, error)
}

type Options struct {
	TokenTTL         time.Duration
	MaxAttempts      int
	UsernameAttempts int
	Cooldown         time.Duration
	ExchangeWindow   time.Duration
	ExchangeLimit    int
}

func OptionsFrom(cfg *config.AppConfig) Options {
	return Options{
		TokenTTL:         cfg.Login.TokenTTL,
		MaxAttempts:      cfg.Login.MaxAttempts,
		UsernameAttempts: cfg.Login.UsernameAttempts,
		Cooldown:         cfg.RateLimit.LoginCooldown,
		ExchangeWindow:   cfg.RateLimit.ExchangeWindow,
		ExchangeLimit:    cfg.RateLimit.ExchangeLimit,
	}
}

type Engine struct {
	tx       database.Transactor
	users    func(db database.DB) UserStore
	sessions *sessions.Store
	limiter  *ratelimit.Limiter
	mailer   mailer.Mailer
	names    UsernameGenerator
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(
	tx database.Transactor,
	users func(db database.DB) UserStore,
	store *sessions.Store,
	limiter *ratelimit.Limiter,
	mail mailer.Mailer,
	names UsernameGenerator,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		tx:       tx,
		users:    users,
		sessions: store,
		limiter:  limiter,
		mailer:   mail,
		names:    names,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// RepositoryUsers adapts repository.Users to the engine.
func RepositoryUsers(db database.DB) UserStore {
	return repository.NewUsers(db)
}

func cooldownKeys(host, key string) []string {
	return []string{
		"rl:login:host:" + security.SHA1Hex(host),
		"rl:login:key:" + security.SHA1Hex(key),
	}
}

func attemptsKey(username string) string {
	return "login:attempts:" + security.SHA1Hex(username)
}

// RequestEmailLogin mails a single-use login link, creating the account on
// first contact. Mail failures are only logged.
func (e *Engine) RequestEmailLogin(ctx context.Context, host, email, lang string) error {
	ok, err := e.limiter.Once(ctx, e.opts.Cooldown, cooldownKeys(host, email)...)
	if err != nil {
		return apperr.Unavailable(err, "rate limiter unavailable")
	}
	if !ok {
		return apperr.RateLimited("too many login requests")
	}

	var (
		user  models.User
		token string
	)
	err = e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		var err error
		user, err = users.ByEmail(ctx, email)
		if errors.Is(err, repository.ErrUserNotFound) {
			user, err = e.createUser(ctx, users, email)
		}
		if err != nil {
			return err
		}
		token, err = e.issueVerifier(ctx, users, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	if err := e.limiter.Arm(ctx, attemptsKey(user.Username), e.opts.MaxAttempts, e.opts.TokenTTL); err != nil {
		return apperr.Unavailable(err, "rate limiter unavailable")
	}
	e.send(ctx, mailer.Message{
		Type:     mailer.TypeLogin,
		Email:    user.Email,
		User:     user.Username,
		Token:    token,
		Verified: user.Verified,
		Lang:     lang,
	})
	return nil
}

// createUser picks a free generated username, giving up after the configured
// number of attempts.
func (e *Engine) createUser(ctx context.Context, users UserStore, email string) (models.User, error) {
	password, err := security.UnusablePassword()
	if err != nil {
		return models.User{}, err
	}

	var lastErr error
	for i := 0; i < e.opts.UsernameAttempts; i++ {
		name, err := e.names.Generate(ctx)
		if err != nil {
			lastErr = err
			e.logger.Warn().Err(err).Int("attempt", i+1).Msg("username generation failed")
			continue
		}
		taken, err := users.UsernameTaken(ctx, name)
		if err != nil {
			return models.User{}, err
		}
		if taken {
			lastErr = errors.New("generated username taken")
			continue
		}
		return users.Create(ctx, name, email, password)
	}
	return models.User{}, apperr.Unavailable(lastErr, "could not generate a username")
}

func (e *Engine) issueVerifier(ctx context.Context, users UserStore, userID int64) (string, error) {
	token, err := security.RandomToken(32)
	if err != nil {
		return "", err
	}
	if err := users.SetVerifier(ctx, userID, security.SHA256Hex(token)); err != nil {
		return "", err
	}
	return token, nil
}

func (e *Engine) send(ctx context.Context, msg mailer.Message) {
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.logger.Error().Err(err).Str("type", msg.Type).Str("user", msg.User).Msg("mail dispatch failed")
	}
}

func (e *Engine) exchangeAllowed(ctx context.Context, host, username string) error {
	for _, key := range []string{
		"rl:exchange:host:" + security.SHA1Hex(host),
		"rl:exchange:key:" + security.SHA1Hex(username),
	} {
		ok, err := e.limiter.Allow(ctx, key, e.opts.ExchangeLimit, e.opts.ExchangeWindow)
		if err != nil {
			return apperr.Unavailable(err, "rate limiter unavailable")
		}
		if !ok {
			return apperr.RateLimited("too many attempts")
		}
	}
	return nil
}

var errNoLogin = apperr.NotFound("login token not found")

// Exchange trades a mailed token for a session. The verifier is consumed on
// success and after the last allowed attempt.
func (e *Engine) Exchange(ctx context.Context, host, username, token string) (string, error) {
	if err := e.exchangeAllowed(ctx, host, username); err != nil {
		return "", err
	}

	remaining, err := e.limiter.Take(ctx, attemptsKey(username))
	if err != nil {
		return "", apperr.Unavailable(err, "rate limiter unavailable")
	}
	if remaining < 0 {
		err := e.tx.Tx(ctx, func(db database.DB) error {
			return e.users(db).DeleteVerifier(ctx, username)
		})
		if err != nil {
			return "", err
		}
		return "", errNoLogin
	}

	var (
		session string
		found   bool
	)
	err = e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		v, err := users.Verifier(ctx, username)
		if errors.Is(err, repository.ErrVerifierNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.now().Sub(v.CreatedAt) > e.opts.TokenTTL {
			return users.DeleteVerifier(ctx, username)
		}
		if !security.ConstantTimeEqual(security.SHA256Hex(token), v.Verifier) {
			if remaining == 0 {
				return users.DeleteVerifier(ctx, username)
			}
			return nil
		}

		if err := users.MarkVerified(ctx, v.UserID); err != nil {
			return err
		}
		if err := users.DeleteVerifier(ctx, username); err != nil {
			return err
		}
		data, err := users.SessionData(ctx, username)
		if err != nil {
			return err
		}
		session, err = e.sessions.Start(ctx, username, data)
		found = err == nil
		return err
	})
	if err != nil {
		if session != "" {
			_ = e.sessions.End(context.WithoutCancel(ctx), session)
		}
		return "", err
	}
	if !found {
		return "", errNoLogin
	}
	_ = e.limiter.Reset(ctx, attemptsKey(username))
	return session, nil
}

// Confirm verifies a registration or email change link and logs the user in.
func (e *Engine) Confirm(ctx context.Context, host, username, token string) (string, error) {
	return e.Exchange(ctx, host, username, token)
}

var errBadCredentials = apperr.Unauthorized("invalid credentials")

// PasswordLogin accepts either a username or an email as the login name.
func (e *Engine) PasswordLogin(ctx context.Context, host, login, password string) (string, error) {
	if err := e.exchangeAllowed(ctx, host, login); err != nil {
		return "", err
	}

	var session string
	err := e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		user, err := users.ByUsername(ctx, login)
		if errors.Is(err, repository.ErrUserNotFound) {
			user, err = users.ByEmail(ctx, login)
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			return errBadCredentials
		}
		if err != nil {
			return err
		}
		ok, err := security.VerifyPassword(password, user.PasswordHash)
		if err != nil {
			e.logger.Warn().Err(err).Str("user", user.Username).Msg("stored password hash unreadable")
		}
		if !ok {
			return errBadCredentials
		}

		data, err := users.SessionData(ctx, user.Username)
		if err != nil {
			return err
		}
		session, err = e.sessions.Start(ctx, user.Username, data)
		return err
	})
	if err != nil {
		return "", err
	}
	return session, nil
}

// Register creates an unverified account with a password and mails a
// confirmation link.
func (e *Engine) Register(ctx context.Context, host, username, email, password, lang string) error {
	ok, err := e.limiter.Once(ctx, e.opts.Cooldown, cooldownKeys(host, email)...)
	if err != nil {
		return apperr.Unavailable(err, "rate limiter unavailable")
	}
	if !ok {
		return apperr.RateLimited("too many registration requests")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}

	var token string
	err = e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		if taken, err := users.UsernameTaken(ctx, username); err != nil {
			return err
		} else if taken {
			return apperr.Conflict("username already in use")
		}
		if _, err := users.ByEmail(ctx, email); err == nil {
			return apperr.Conflict("email already in use")
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return err
		}

		user, err := users.Create(ctx, username, email, hash)
		if err != nil {
			return err
		}
		token, err = e.issueVerifier(ctx, users, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	if err := e.limiter.Arm(ctx, attemptsKey(username), e.opts.MaxAttempts, e.opts.TokenTTL); err != nil {
		return apperr.Unavailable(err, "rate limiter unavailable")
	}
	e.send(ctx, mailer.Message{Type: mailer.TypeRegister, Email: email, User: username, Token: token, Lang: lang})
	return nil
}

// ChangeEmail stores an unverified address, ends every session of the user
// and returns a fresh session token. A confirmation link goes to the new address.
func (e *Engine) ChangeEmail(ctx context.Context, username, email, lang string) (string, error) {
	var (
		token string
		data  sessions.Data
	)
	err := e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		if other, err := users.ByEmail(ctx, email); err == nil && other.Username != username {
			return apperr.Conflict("email already in use")
		} else if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return err
		}

		if err := users.ChangeEmail(ctx, username, email); err != nil {
			return err
		}
		user, err := users.ByUsername(ctx, username)
		if err != nil {
			return err
		}
		if token, err = e.issueVerifier(ctx, users, user.ID); err != nil {
			return err
		}
		data, err = users.SessionData(ctx, username)
		return err
	})
	if err != nil {
		return "", err
	}

	session, err := e.rotate(ctx, username, username, data)
	if err != nil {
		return "", err
	}
	if err := e.limiter.Arm(ctx, attemptsKey(username), e.opts.MaxAttempts, e.opts.TokenTTL); err != nil {
		e.logger.Error().Err(err).Msg("arm verify attempts failed")
	}
	e.send(ctx, mailer.Message{Type: mailer.TypeVerify, Email: email, User: username, Token: token, Lang: lang})
	return session, nil
}

// ChangeUsername renames the user, ends every session under the old name and
// returns a fresh session token.
func (e *Engine) ChangeUsername(ctx context.Context, username, next string) (string, error) {
	var data sessions.Data
	err := e.tx.Tx(ctx, func(db database.DB) error {
		users := e.users(db)
		taken, err := users.UsernameTaken(ctx, next)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("username already in use")
		}
		if err := users.ChangeUsername(ctx, username, next); err != nil {
			return err
		}
		data, err = users.SessionData(ctx, next)
		return err
	})
	if err != nil {
		return "", err
	}
	return e.rotate(ctx, username, next, data)
}

func (e *Engine) rotate(ctx context.Context, old, next string, data sessions.Data) (string, error) {
	if err := e.sessions.Clear(ctx, old); err != nil {
		return "", apperr.Unavailable(err, "session store unavailable")
	}
	token, err := e.sessions.Start(ctx, next, data)
	if err != nil {
		return "", apperr.Unavailable(err, "session store unavailable")
	}
	return token, nil
}
