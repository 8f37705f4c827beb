package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"muistot/api/internal/cache"
	"muistot/api/internal/config"
	"muistot/api/internal/database"
	"muistot/api/internal/handlers"
	"muistot/api/internal/jobs"
	"muistot/api/internal/language"
	"muistot/api/internal/log"
	"muistot/api/internal/login"
	"muistot/api/internal/mailer"
	"muistot/api/internal/ratelimit"
	"muistot/api/internal/repository"
	"muistot/api/internal/respcache"
	"muistot/api/internal/server"
	"muistot/api/internal/sessions"
	"muistot/api/internal/storage"
	"muistot/api/internal/usernames"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()
	db := database.New(pool, cfg.Database.AcquireTimeout)

	kv, err := cache.NewRedisClient(ctx, cfg.Sessions.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect session redis")
	}
	defer kv.Close()

	var cacheClient *redis.Client
	var responseCache *respcache.Cache
	if cfg.Cache.Enabled {
		cacheClient, err = cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect cache redis")
		}
		defer cacheClient.Close()
		responseCache = respcache.New(cacheClient, cfg.Cache.TTL, cfg.HTTP.Prefix, logger)
	}

	files, err := storage.New(ctx, cfg.Files)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Files.Driver).Msg("failed to init file storage")
	}

	store := sessions.NewStore(kv, cfg.Sessions.Lifetime, cfg.Sessions.TokenBytes)
	engine := login.NewEngine(
		db,
		login.RepositoryUsers,
		store,
		ratelimit.New(kv),
		mailer.NewQueue(kv, cfg.Mailer.Stream),
		usernames.New(cfg.Login.UsernameURL, cfg.Login.UsernameTimeout, logger),
		login.OptionsFrom(cfg),
		logger,
	)

	handlerSet := handlers.NewHandlerSet(handlers.Dependencies{
		Config:       cfg,
		DB:           db,
		Sessions:     store,
		SessionRedis: kv,
		CacheRedis:   cacheClient,
		Images:       repository.NewImages(files, cfg.Files.AllowedMimes),
		Files:        files,
		Login:        engine,
		Logger:       logger,
	})
	httpServer := server.NewHTTPServer(cfg, logger, server.Pipeline{
		Sessions:  store,
		Languages: language.New(cfg.Languages.Default, cfg.Languages.Supported),
		Cache:     responseCache,
	}, handlerSet)

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler = jobs.NewScheduler(db, store, cfg.Login.TokenTTL, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)

	if cfg.Mailer.EmbeddedWorker {
		transport, err := mailer.NewTransport(cfg.Mailer, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init mail transport")
		}
		worker := mailer.NewWorker(kv, mailer.WorkerOptionsFrom(cfg.Mailer), transport, logger)
		g.Go(func() error { return worker.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if scheduler != nil {
			scheduler.Stop(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server exited cleanly")
}
