package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"muistot/api/internal/config"
	"muistot/api/internal/handlers"
	"muistot/api/internal/language"
	"muistot/api/internal/middleware"
	"muistot/api/internal/respcache"
	"muistot/api/internal/sessions"
)

// Pipeline holds the per-request collaborators of the middleware chain.
// Cache is nil when response caching is disabled.
type Pipeline struct {
	Sessions  *sessions.Store
	Languages *language.Negotiator
	Cache     *respcache.Cache
}

type HTTPServer struct {
	engine *gin.Engine
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(cfg *config.AppConfig, log zerolog.Logger, pipeline Pipeline, handlerSet handlers.HandlerSet) *HTTPServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = true
	engine.HandleMethodNotAllowed = true
	engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, errNoRoute)
	})
	engine.NoMethod(func(c *gin.Context) {
		middleware.AbortWithError(c, errNoMethod)
	})

	chain := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.Metrics(),
		middleware.CORS(cfg.CORS.Origins),
	}
	if pipeline.Cache != nil {
		chain = append(chain, pipeline.Cache.Middleware())
	}
	chain = append(chain,
		middleware.Sessions(pipeline.Sessions),
		middleware.Language(pipeline.Languages),
	)
	engine.Use(chain...)

	handlerSet.Register(engine.Group(strings.TrimSuffix(cfg.HTTP.Prefix, "/")))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &HTTPServer{
		engine: engine,
		server: srv,
		log:    log,
	}
}

func (s *HTTPServer) Handler() http.Handler { return s.engine }

func (s *HTTPServer) Start() error {
	s.log.Info().
		Str("addr", s.server.Addr).
		Msg("http server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
