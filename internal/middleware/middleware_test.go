package middleware

import (
	"context"
	"encoding/json"
	"errors"
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

	"muistot/api/internal/apperr"
	"muistot/api/internal/identity"
	"muistot/api/internal/language"
	"muistot/api/internal/sessions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAbortWithErrorEnvelope(t *testing.T) {
	r := gin.New()
	r.GET("/conflict", func(c *gin.Context) { AbortWithError(c, apperr.Conflict("site exists")) })
	r.GET("/boom", func(c *gin.Context) { AbortWithError(c, errors.New("connection string leaked")) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 409, env.Error.Code)
	assert.Equal(t, "site exists", env.Error.Message)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "leaked")
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()))
	r.GET("/", func(c *gin.Context) { panic("nope") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 500, decodeEnvelope(t, rec).Error.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := serve(r, req)
	assert.Equal(t, "abc", rec.Body.String())
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://muistot.info"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://muistot.info")
	rec := serve(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://muistot.info", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), language.HeaderOverride)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(r, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func newSessionRouter(t *testing.T) (*gin.Engine, *sessions.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := sessions.NewStore(client, time.Hour, 32)

	r := gin.New()
	r.Use(Sessions(store))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, IdentityFrom(c).UsernameOrEmpty())
	})
	return r, store
}

func TestSessionsAnonymous(t *testing.T) {
	r, _ := newSessionRouter(t)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSessionsBindsIdentity(t *testing.T) {
	r, store := newSessionRouter(t)
	token, err := store.Start(context.Background(), "alice", sessions.Data{Scopes: []string{identity.ScopeAuthenticated}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestSessionsRejectsInvalid(t *testing.T) {
	r, _ := newSessionRouter(t)

	for _, header := range []string{"bearer nonsense", "Basic YWxpY2U6cHc=", "bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := serve(r, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestLanguageStrictForWrites(t *testing.T) {
	r := gin.New()
	r.Use(Language(language.New("fi", []string{"fi", "en"})))
	handler := func(c *gin.Context) { c.String(http.StatusOK, LanguageFrom(c)) }
	r.GET("/", handler)
	r.POST("/", handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de")
	rec := serve(r, req)
	assert.Equal(t, "fi", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-GB,fi;q=0.5")
	rec = serve(r, req)
	assert.Equal(t, "en", rec.Body.String())
	assert.Equal(t, "en", rec.Header().Get("Content-Language"))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Language", "de")
	rec = serve(r, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(language.HeaderOverride, "en")
	req.Header.Set("Content-Language", "de")
	rec = serve(r, req)
	assert.Equal(t, "en", rec.Body.String())
}
