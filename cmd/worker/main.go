package main

import (
	"context"
	"os/signal"
	"syscall"

	"muistot/api/internal/cache"
	"muistot/api/internal/config"
	"muistot/api/internal/log"
	"muistot/api/internal/mailer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel, "mail-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Sessions.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	transport, err := mailer.NewTransport(cfg.Mailer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init mail transport")
	}

	worker := mailer.NewWorker(client, mailer.WorkerOptionsFrom(cfg.Mailer), transport, logger)
	logger.Info().
		Str("stream", cfg.Mailer.Stream).
		Str("group", cfg.Mailer.Group).
		Str("consumer", cfg.Mailer.Consumer).
		Msg("mail worker starting")

	if err := worker.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("mail worker stopped unexpectedly")
		return
	}
	logger.Info().Msg("mail worker exited cleanly")
}
