// Package respcache serves anonymous GETs of hot resource paths from Redis and
// drops every entry after a successful write under those paths.
package respcache

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"muistot/api/internal/language"
	"muistot/api/internal/security"
)

const keyPrefix = "cache:"

// Cached entries are hashes holding the response body and its served language.
const (
	bodyField     = "body"
	languageField = "lang"
)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muistot_response_cache_lookups_total",
		Help: "Response cache lookups by family and result",
	}, []string{"family", "result"})

	flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muistot_response_cache_flushes_total",
		Help: "Full response cache evictions",
	})
)

type family struct {
	name    string
	pattern *regexp.Regexp
}

var families = []family{
	{"projects", regexp.MustCompile(`^/projects$`)},
	{"project", regexp.MustCompile(`^/projects/([^/]+)$`)},
	{"sites", regexp.MustCompile(`^/projects/([^/]+)/sites$`)},
	{"site", regexp.MustCompile(`^/projects/([^/]+)/sites/([^/]+)$`)},
	{"memories", regexp.MustCompile(`^/projects/([^/]+)/sites/([^/]+)/memories$`)},
	{"memory", regexp.MustCompile(`^/projects/([^/]+)/sites/([^/]+)/memories/([^/]+)$`)},
}

const publishFamily = "publish"

// match names the family of path and returns its captures. Paths ending in
// "publish" form their own family, and write requests under a family path
// (for example /projects/{p}/sites/{s}/memories/{m}/comments) still count
// as that family through their prefix.
func match(path string, write bool) (string, []string, bool) {
	path = strings.TrimSuffix(path, "/")
	if strings.HasSuffix(path, "publish") {
		return publishFamily, nil, true
	}
	for _, f := range families {
		if m := f.pattern.FindStringSubmatch(path); m != nil {
			return f.name, m[1:], true
		}
	}
	if write && strings.HasPrefix(path, "/projects") {
		return "projects", nil, true
	}
	return "", nil, false
}

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// New builds the cache. prefix is the mount point stripped before matching.
func New(client *redis.Client, ttl time.Duration, prefix string, logger zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With().Str("component", "respcache").Logger(),
	}
}

// key is cache:<family>:<sha1(capture)>...:<sha1(language + query)>.
func key(name string, captures []string, variant string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(name)
	for _, c := range captures {
		b.WriteByte(':')
		b.WriteString(security.SHA1Hex(c))
	}
	b.WriteByte(':')
	b.WriteString(security.SHA1Hex(variant))
	return b.String()
}

func (c *Cache) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		req := ctx.Request
		write := req.Method != http.MethodGet && req.Method != http.MethodHead && req.Method != http.MethodOptions

		name, captures, ok := match(strings.TrimPrefix(req.URL.Path, c.prefix), write)
		if !ok {
			ctx.Next()
			return
		}

		if write {
			ctx.Next()
			if status := ctx.Writer.Status(); status >= 200 && status < 300 {
				go c.Flush(context.Background())
			}
			return
		}

		if req.Method != http.MethodGet || name == publishFamily || req.Header.Get("Authorization") != "" {
			ctx.Next()
			return
		}

		k := key(name, captures, language.Header(req)+"?"+req.URL.RawQuery)
		entry, err := c.client.HGetAll(req.Context(), k).Result()
		if err != nil {
			lookups.WithLabelValues(name, "error").Inc()
			c.logger.Warn().Err(err).Msg("cache read failed")
			ctx.Next()
			return
		}
		if body, ok := entry[bodyField]; ok {
			lookups.WithLabelValues(name, "hit").Inc()
			if lang := entry[languageField]; lang != "" {
				ctx.Header("Content-Language", lang)
			}
			ctx.Data(http.StatusOK, "application/json", []byte(body))
			ctx.Abort()
			return
		}

		lookups.WithLabelValues(name, "miss").Inc()
		w := &recorder{ResponseWriter: ctx.Writer}
		ctx.Writer = w
		ctx.Next()

		if w.Status() == http.StatusOK && !ctx.IsAborted() {
			_, err := c.client.TxPipelined(req.Context(), func(pipe redis.Pipeliner) error {
				pipe.HSet(req.Context(), k,
					bodyField, w.body.Bytes(),
					languageField, w.Header().Get("Content-Language"))
				pipe.Expire(req.Context(), k, c.ttl)
				return nil
			})
			if err != nil {
				c.logger.Warn().Err(err).Msg("cache store failed")
			}
		}
	}
}

// Flush drops every cached response.
func (c *Cache) Flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	flushes.Inc()
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	drop := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("cache flush failed")
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			drop()
		}
	}
	drop()
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache scan failed")
	}
}

// recorder passes the response through while keeping a copy of the body.
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
