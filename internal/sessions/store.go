// Package sessions keeps opaque login sessions in Redis.
//
// Keys:
//
//	token:<sha256(raw token)>  -> JSON Session, expires after the configured lifetime
//	user:<username>            -> set of token hashes owned by the user, no expiry;
//	                              stale members are dropped by PurgeStale
//
// The raw token bytes are only ever handed to the client (base64). Reads refresh
// the expiry before fetching, giving a sliding window.
package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenPrefix = "token:"
	userPrefix  = "user:"

	maxGenerateAttempts = 16
)

var ErrInvalidSession = errors.New("invalid session")

// Data is the snapshot stored with a session at login.
type Data struct {
	Scopes        []string `json:"scopes"`
	AdminProjects []string `json:"admin_projects"`
}

type Session struct {
	User string `json:"user"`
	Data Data   `json:"data"`
}

type Store struct {
	client     *redis.Client
	lifetime   time.Duration
	tokenBytes int
}

func NewStore(client *redis.Client, lifetime time.Duration, tokenBytes int) *Store {
	return &Store{
		client:     client,
		lifetime:   lifetime,
		tokenBytes: tokenBytes,
	}
}

func tokenKey(hash []byte) string { return tokenPrefix + string(hash) }

func userKey(user string) string { return userPrefix + user }

func hashToken(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}

func decodeToken(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSession
	}
	return raw, nil
}

// Start creates a session for user and returns the external token.
func (s *Store) Start(ctx context.Context, user string, data Data) (string, error) {
	if err := s.PurgeStale(ctx, user); err != nil {
		return "", err
	}

	value, err := json.Marshal(Session{User: user, Data: data})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		raw := make([]byte, s.tokenBytes)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		hash := hashToken(raw)

		ok, err := s.client.SetNX(ctx, tokenKey(hash), value, s.lifetime).Result()
		if err != nil {
			return "", fmt.Errorf("store session: %w", err)
		}
		if !ok {
			continue
		}

		if err := s.client.SAdd(ctx, userKey(user), hash).Err(); err != nil {
			return "", fmt.Errorf("index session: %w", err)
		}

		return base64.RawURLEncoding.EncodeToString(raw), nil
	}
	return "", errors.New("could not allocate a unique session token")
}

// Get resolves the external token. Expired and forged tokens are
// indistinguishable to callers.
func (s *Store) Get(ctx context.Context, token string) (Session, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return Session{}, err
	}
	key := tokenKey(hashToken(raw))

	ok, err := s.client.Expire(ctx, key, s.lifetime).Result()
	if err != nil {
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	if !ok {
		return Session{}, ErrInvalidSession
	}

	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrInvalidSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(value, &session); err != nil {
		return Session{}, ErrInvalidSession
	}
	return session, nil
}

// End removes a single session. Ending an unknown token is not an error.
func (s *Store) End(ctx context.Context, token string) error {
	raw, err := decodeToken(token)
	if err != nil {
		return nil
	}
	hash := hashToken(raw)
	key := tokenKey(hash)

	value, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(value, &session); err != nil {
		return nil
	}
	if err := s.client.SRem(ctx, userKey(session.User), hash).Err(); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	return nil
}

// Clear ends every session of user.
func (s *Store) Clear(ctx context.Context, user string) error {
	hashes, err := s.client.SMembers(ctx, userKey(user)).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, tokenPrefix+hash)
	}
	keys = append(keys, userKey(user))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// ClearAll drops every session and user index in the store.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, pattern := range []string{tokenPrefix + "*", userPrefix + "*"} {
		iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
		batch := make([]string, 0, 500)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				if err := s.client.Del(ctx, batch...).Err(); err != nil {
					return fmt.Errorf("clear all sessions: %w", err)
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan sessions: %w", err)
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clear all sessions: %w", err)
			}
		}
	}
	return nil
}

// PurgeStale drops hashes from the user index whose token has expired.
func (s *Store) PurgeStale(ctx context.Context, user string) error {
	hashes, err := s.client.SMembers(ctx, userKey(user)).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(hashes) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(hashes))
	for i, hash := range hashes {
		checks[i] = pipe.Exists(ctx, tokenPrefix+hash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("check sessions: %w", err)
	}

	stale := make([]any, 0)
	for i, check := range checks {
		if check.Val() == 0 {
			stale = append(stale, hashes[i])
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.client.SRem(ctx, userKey(user), stale...).Err(); err != nil {
		return fmt.Errorf("purge stale sessions: %w", err)
	}
	return nil
}

// PurgeAllStale walks every user index. Used by the periodic cleanup job.
func (s *Store) PurgeAllStale(ctx context.Context) (int, error) {
	users := 0
	iter := s.client.Scan(ctx, 0, userPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		user := iter.Val()[len(userPrefix):]
		if err := s.PurgeStale(ctx, user); err != nil {
			return users, err
		}
		users++
	}
	return users, iter.Err()
}
