package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/identity"
	"muistot/api/internal/middleware"
	"muistot/api/internal/models"
	"muistot/api/internal/repository"
)

type emailQuery struct {
	Email string `form:"email" binding:"required,email,max=320"`
}

type usernameQuery struct {
	Username string `form:"username" binding:"required,min=3,max=64,excludesall=/?#@ "`
}

func requireUser(c *gin.Context) (identity.Identity, bool) {
	id := middleware.IdentityFrom(c)
	if !id.IsAuthenticated() {
		middleware.AbortWithError(c, apperr.Unauthorized("authentication required"))
		return id, false
	}
	return id, true
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var data models.PersonalData
	ok = h.tx(c, func(db database.DB) (err error) {
		data, err = repository.NewUsers(db).PersonalData(c.Request.Context(), user.Username())
		return err
	})
	if ok {
		c.JSON(http.StatusOK, data)
	}
}

func (h HandlerSet) ModifyMe(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var patch models.PersonalDataPatch
	if !bindJSON(c, &patch) {
		return
	}
	if patch.Empty() {
		changed(c, false, h.url("me"))
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return repository.NewUsers(db).UpdatePersonalData(c.Request.Context(), user.Username(), patch)
	})
	if ok {
		noContent(c, h.url("me"))
	}
}

func (h HandlerSet) Logout(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.sessions.End(c.Request.Context(), user.Token()); err != nil {
		middleware.AbortWithError(c, apperr.Unavailable(err, "session store unavailable"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.sessions.Clear(c.Request.Context(), user.Username()); err != nil {
		middleware.AbortWithError(c, apperr.Unavailable(err, "session store unavailable"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ChangeEmail(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var q emailQuery
	if !bindQuery(c, &q) {
		return
	}
	token, err := h.login.ChangeEmail(c.Request.Context(), user.Username(), q.Email, middleware.LanguageFrom(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	loggedIn(c, token)
}

func (h HandlerSet) ChangeUsername(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	var q usernameQuery
	if !bindQuery(c, &q) {
		return
	}
	token, err := h.login.ChangeUsername(c.Request.Context(), user.Username(), q.Username)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	loggedIn(c, token)
}

func (h HandlerSet) MyMemories(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var memories []models.UserMemory
	ok := h.tx(c, func(db database.DB) (err error) {
		memories, err = h.memories(c, db).ByUser(c.Request.Context())
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.UserMemory]{Items: memories})
	}
}

func (h HandlerSet) MyComments(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var comments []models.UserComment
	ok := h.tx(c, func(db database.DB) (err error) {
		comments, err = h.comments(c, db).ByUser(c.Request.Context())
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.UserComment]{Items: comments})
	}
}
