// Package mailer queues outgoing mail on a Redis stream and delivers it from
// a worker, away from the request that asked for it.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

const (
	TypeLogin    = "login"
	TypeRegister = "register"
	TypeVerify   = "verify"
)

type Message struct {
	Type     string `json:"type"`
	Email    string `json:"email"`
	User     string `json:"user"`
	Token    string `json:"token"`
	Verified bool   `json:"verified"`
	Lang     string `json:"lang,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Queue is the producing side of the mail stream.
type Queue struct {
	client *redis.Client
	stream string
}

func NewQueue(client *redis.Client, stream string) *Queue {
	return &Queue{client: client, stream: stream}
}

func (q *Queue) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"job":     ksuid.New().String(),
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}
