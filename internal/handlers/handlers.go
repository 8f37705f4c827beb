package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"muistot/api/internal/apperr"
	"muistot/api/internal/config"
	"muistot/api/internal/database"
	"muistot/api/internal/login"
	"muistot/api/internal/middleware"
	"muistot/api/internal/repository"
	"muistot/api/internal/sessions"
	"muistot/api/internal/storage"
)

// Database is the transactional handle the handlers run repositories in.
type Database interface {
	database.Transactor
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Config   *config.AppConfig
	DB       Database
	Sessions *sessions.Store
	// SessionRedis and CacheRedis are only pinged by the health check.
	// CacheRedis is nil when the response cache is disabled.
	SessionRedis *redis.Client
	CacheRedis   *redis.Client
	Images       *repository.Images
	Files        storage.Store
	Login        *login.Engine
	Logger       zerolog.Logger
}

type HandlerSet struct {
	log         zerolog.Logger
	environment string
	prefix      string
	placeholder string
	db          Database
	sessions    *sessions.Store
	kv          *redis.Client
	cache       *redis.Client
	images      *repository.Images
	files       storage.Store
	login       *login.Engine
}

func NewHandlerSet(deps Dependencies) HandlerSet {
	return HandlerSet{
		log:         deps.Logger.With().Str("component", "handlers").Logger(),
		environment: deps.Config.Environment,
		prefix:      strings.TrimSuffix(deps.Config.HTTP.Prefix, "/"),
		placeholder: deps.Config.Files.Placeholder,
		db:          deps.DB,
		sessions:    deps.Sessions,
		kv:          deps.SessionRedis,
		cache:       deps.CacheRedis,
		images:      deps.Images,
		files:       deps.Files,
		login:       deps.Login,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", h.Metrics)

	projects := router.Group("/projects")
	{
		projects.GET("", h.ListProjects)
		projects.POST("", h.CreateProject)
		projects.GET("/:project", h.GetProject)
		projects.PATCH("/:project", h.ModifyProject)
		projects.DELETE("/:project", h.DeleteProject)
		projects.POST("/:project/publish", h.PublishProject)
		projects.POST("/:project/report", h.ReportProject)
		projects.POST("/:project/admins", h.AddProjectAdmin)
		projects.DELETE("/:project/admins", h.RemoveProjectAdmin)
		projects.PUT("/:project/localize", h.LocalizeProject)

		sites := projects.Group("/:project/sites")
		sites.GET("", h.ListSites)
		sites.POST("", h.CreateSite)
		sites.GET("/:site", h.GetSite)
		sites.PATCH("/:site", h.ModifySite)
		sites.DELETE("/:site", h.DeleteSite)
		sites.POST("/:site/publish", h.PublishSite)
		sites.POST("/:site/report", h.ReportSite)
		sites.PUT("/:site/localize", h.LocalizeSite)

		memories := sites.Group("/:site/memories")
		memories.GET("", h.ListMemories)
		memories.POST("", h.CreateMemory)
		memories.GET("/:memory", h.GetMemory)
		memories.PATCH("/:memory", h.ModifyMemory)
		memories.DELETE("/:memory", h.DeleteMemory)
		memories.POST("/:memory/publish", h.PublishMemory)
		memories.POST("/:memory/report", h.ReportMemory)

		comments := memories.Group("/:memory/comments")
		comments.GET("", h.ListComments)
		comments.POST("", h.CreateComment)
		comments.GET("/:comment", h.GetComment)
		comments.PATCH("/:comment", h.ModifyComment)
		comments.DELETE("/:comment", h.DeleteComment)
		comments.POST("/:comment/publish", h.PublishComment)
		comments.POST("/:comment/report", h.ReportComment)
	}

	router.POST("/admin/publish", h.AdminPublish)

	auth := router.Group("/auth")
	{
		auth.POST("/email", h.EmailLogin)
		auth.POST("/email/exchange", h.EmailExchange)
		auth.POST("/password", h.PasswordLogin)
		auth.POST("/register", h.RegisterUser)
		auth.POST("/confirm", h.Confirm)
		auth.GET("/status", h.Status)
	}

	me := router.Group("/me")
	{
		me.GET("", h.Me)
		me.PATCH("", h.ModifyMe)
		me.DELETE("", h.Logout)
		me.DELETE("/sessions", h.LogoutAll)
		me.POST("/email", h.ChangeEmail)
		me.POST("/username", h.ChangeUsername)
		me.GET("/memories", h.MyMemories)
		me.GET("/comments", h.MyComments)
	}

	router.GET("/images/:name", h.Image)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// tx runs fn in a transaction and writes the error response on failure.
func (h HandlerSet) tx(c *gin.Context, fn func(db database.DB) error) bool {
	if err := h.db.Tx(c.Request.Context(), fn); err != nil {
		middleware.AbortWithError(c, err)
		return false
	}
	return true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.AbortWithError(c, apperr.Unprocessable("invalid request body").WithDetails(err.Error()))
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		middleware.AbortWithError(c, apperr.Unprocessable("invalid %s id", name))
		return 0, false
	}
	return id, true
}

func queryBool(c *gin.Context, name string) (bool, bool) {
	v, err := strconv.ParseBool(c.Query(name))
	if err != nil {
		middleware.AbortWithError(c, apperr.Unprocessable("query parameter %s must be a boolean", name))
		return false, false
	}
	return v, true
}

// hardDelete reads the optional ?hard flag of delete routes.
func hardDelete(c *gin.Context) (bool, bool) {
	if c.Query("hard") == "" {
		return false, true
	}
	return queryBool(c, "hard")
}

func queryRequired(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		middleware.AbortWithError(c, apperr.Unprocessable("query parameter %s is required", name))
		return "", false
	}
	return v, true
}

// url builds the canonical location of a resource below the API prefix.
func (h HandlerSet) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return h.prefix + "/" + strings.Join(escaped, "/")
}

func formatID(v int64) string { return strconv.FormatInt(v, 10) }

func created(c *gin.Context, location string) {
	c.Header("Location", location)
	c.Status(http.StatusCreated)
}

func noContent(c *gin.Context, location string) {
	c.Header("Location", location)
	c.Status(http.StatusNoContent)
}

// changed answers 204 when something changed and 304 otherwise.
func changed(c *gin.Context, didChange bool, location string) {
	c.Header("Location", location)
	if didChange {
		c.Status(http.StatusNoContent)
		return
	}
	c.Status(http.StatusNotModified)
}

func (h HandlerSet) projects(c *gin.Context, db database.DB) *repository.Projects {
	return repository.NewProjects(db, middleware.IdentityFrom(c), middleware.LanguageFrom(c), h.images)
}

func (h HandlerSet) sites(c *gin.Context, db database.DB) *repository.Sites {
	return repository.NewSites(db, middleware.IdentityFrom(c), middleware.LanguageFrom(c), h.images)
}

func (h HandlerSet) memories(c *gin.Context, db database.DB) *repository.Memories {
	return repository.NewMemories(db, middleware.IdentityFrom(c), middleware.LanguageFrom(c), h.images)
}

func (h HandlerSet) comments(c *gin.Context, db database.DB) *repository.Comments {
	return repository.NewComments(db, middleware.IdentityFrom(c), middleware.LanguageFrom(c), h.images)
}
