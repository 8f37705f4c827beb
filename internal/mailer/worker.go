package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"muistot/api/internal/config"
)

// Worker consumes the mail stream as a member of a consumer group. Entries
// left pending by a crashed consumer are claimed after the claim interval.
type Worker struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	maxDeliveries int64
	block         time.Duration
	transport     Transport
	links         Links
	logger        zerolog.Logger
}

type WorkerOptions struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	// MaxDeliveries is how often an entry is tried before it is moved to
	// the dead letter stream.
	MaxDeliveries int
	Links         Links
}

func WorkerOptionsFrom(cfg config.MailerConfig) WorkerOptions {
	return WorkerOptions{
		Stream:        cfg.Stream,
		Group:         cfg.Group,
		Consumer:      cfg.Consumer,
		ClaimInterval: cfg.ClaimInterval,
		MaxDeliveries: cfg.MaxDeliveries,
		Links:         Links{Login: cfg.LoginURL, Verify: cfg.VerifyURL},
	}
}

func NewWorker(client *redis.Client, opts WorkerOptions, transport Transport, logger zerolog.Logger) *Worker {
	return &Worker{
		client:        client,
		stream:        opts.Stream,
		group:         opts.Group,
		consumer:      opts.Consumer,
		claimInterval: opts.ClaimInterval,
		maxDeliveries: int64(max(opts.MaxDeliveries, 1)),
		block:         5 * time.Second,
		transport:     transport,
		links:         opts.Links,
		logger:        logger.With().Str("component", "mailer").Logger(),
	}
}

// EnsureGroup creates the stream and the consumer group if missing.
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.stream, w.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Start blocks reading the stream until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := w.read(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("stream read error")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.claimStalled(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("claim stalled mail failed")
			}
		default:
		}
	}
}

func (w *Worker) read(ctx context.Context) error {
	result, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{w.stream, ">"},
		Count:    10,
		Block:    w.block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			w.process(ctx, msg, 1)
		}
	}
	return nil
}

// process delivers one entry and acknowledges it. Entries that cannot be
// decoded are acknowledged too, they would never succeed. attempt counts
// deliveries of this entry including the current one.
func (w *Worker) process(ctx context.Context, msg redis.XMessage, attempt int64) {
	err := w.handle(ctx, msg)
	var bad *decodeError
	switch {
	case err == nil:
	case errors.As(err, &bad):
		w.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed mail")
	case attempt >= w.maxDeliveries:
		w.logger.Error().Err(err).Str("message_id", msg.ID).Int64("attempts", attempt).Msg("mail undeliverable")
		if dlErr := w.deadLetter(ctx, msg, err); dlErr != nil {
			w.logger.Error().Err(dlErr).Str("message_id", msg.ID).Msg("dead letter failed")
			return
		}
	default:
		w.logger.Error().Err(err).Str("message_id", msg.ID).Int64("attempt", attempt).Msg("deliver mail failed")
		return
	}
	if err := w.client.XAck(ctx, w.stream, w.group, msg.ID).Err(); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, cause error) error {
	return w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: w.stream + ":dead",
		Values: map[string]any{
			"id":      msg.ID,
			"job":     fmt.Sprint(msg.Values["job"]),
			"payload": fmt.Sprint(msg.Values["payload"]),
			"error":   cause.Error(),
		},
	}).Err()
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode mail: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) error {
	raw, _ := msg.Values["payload"].(string)
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return &decodeError{err: err}
	}

	out, err := render(m, w.links)
	if err != nil {
		return &decodeError{err: err}
	}
	if err := w.transport.Deliver(ctx, m.Email, out.Subject, out.Body); err != nil {
		return err
	}
	w.logger.Debug().
		Str("job", fmt.Sprint(msg.Values["job"])).
		Str("type", m.Type).
		Str("user", m.User).
		Msg("mail delivered")
	return nil
}

func (w *Worker) claimStalled(ctx context.Context) error {
	pending, err := w.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.stream,
		Group:  w.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < w.claimInterval {
			continue
		}
		msgs, err := w.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   w.stream,
			Group:    w.group,
			Consumer: w.consumer,
			MinIdle:  w.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			w.logger.Error().Err(err).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			w.process(ctx, msg, entry.RetryCount+1)
		}
	}
	return nil
}
