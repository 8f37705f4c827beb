package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/middleware"
)

type emailLoginRequest struct {
	Email string `json:"email" binding:"required,email,max=320"`
}

type passwordLoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64,excludesall=/?#@ "`
	Email    string `json:"email" binding:"required,email,max=320"`
	Password string `json:"password" binding:"required,min=8,max=256"`
}

type tokenQuery struct {
	User  string `form:"user" binding:"required"`
	Token string `form:"token" binding:"required"`
}

func bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		middleware.AbortWithError(c, apperr.Unprocessable("invalid query parameters").WithDetails(err.Error()))
		return false
	}
	return true
}

// loggedIn hands a fresh session token back to the client.
func loggedIn(c *gin.Context, token string) {
	c.Header("Authorization", "bearer "+token)
	c.Status(http.StatusOK)
}

func (h HandlerSet) EmailLogin(c *gin.Context) {
	var req emailLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.login.RequestEmailLogin(c.Request.Context(), c.ClientIP(), req.Email, middleware.LanguageFrom(c)); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) EmailExchange(c *gin.Context) {
	var q tokenQuery
	if !bindQuery(c, &q) {
		return
	}
	token, err := h.login.Exchange(c.Request.Context(), c.ClientIP(), q.User, q.Token)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	loggedIn(c, token)
}

func (h HandlerSet) Confirm(c *gin.Context) {
	var q tokenQuery
	if !bindQuery(c, &q) {
		return
	}
	token, err := h.login.Confirm(c.Request.Context(), c.ClientIP(), q.User, q.Token)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	loggedIn(c, token)
}

func (h HandlerSet) PasswordLogin(c *gin.Context) {
	var req passwordLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	login := req.Username
	if login == "" {
		login = req.Email
	}
	if login == "" {
		middleware.AbortWithError(c, apperr.Unprocessable("username or email is required"))
		return
	}
	token, err := h.login.PasswordLogin(c.Request.Context(), c.ClientIP(), login, req.Password)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	loggedIn(c, token)
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.login.Register(c.Request.Context(), c.ClientIP(), req.Username, req.Email, req.Password, middleware.LanguageFrom(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h HandlerSet) Status(c *gin.Context) {
	if !middleware.IdentityFrom(c).IsAuthenticated() {
		middleware.AbortWithError(c, apperr.Unauthorized("not logged in"))
		return
	}
	c.Status(http.StatusOK)
}
