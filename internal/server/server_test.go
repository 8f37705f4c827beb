package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muistot/api/internal/config"
	"muistot/api/internal/handlers"
	"muistot/api/internal/language"
	"muistot/api/internal/respcache"
	"muistot/api/internal/sessions"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.AppConfig{Environment: "test"}
	cfg.HTTP.Prefix = "/api"
	cfg.CORS.Origins = []string{"https://muistot.info"}

	store := sessions.NewStore(client, time.Hour, 32)
	set := handlers.NewHandlerSet(handlers.Dependencies{Config: cfg, Sessions: store, SessionRedis: client, Logger: zerolog.Nop()})

	srv := NewHTTPServer(cfg, zerolog.Nop(), Pipeline{
		Sessions:  store,
		Languages: language.New("fi", []string{"fi", "en"}),
		Cache:     respcache.New(client, time.Minute, cfg.HTTP.Prefix, zerolog.Nop()),
	}, set)
	return srv.Handler()
}

func TestRoutesMountedUnderPrefix(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "fi", rec.Header().Get("Content-Language"))
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.EqualValues(t, 404, env["error"]["code"])
}

func TestPreflightShortCircuits(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "https://muistot.info")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://muistot.info", rec.Header().Get("Access-Control-Allow-Origin"))
}
