package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/database"
	"muistot/api/internal/models"
)

// commentPath reads the memory and comment ids. comment is skipped when
// withComment is false.
func commentPath(c *gin.Context, withComment bool) (memory, comment int64, ok bool) {
	if memory, ok = paramID(c, "memory"); !ok {
		return
	}
	if withComment {
		comment, ok = paramID(c, "comment")
	}
	return
}

func (h HandlerSet) commentURL(project, site string, memory, comment int64) string {
	return h.url("projects", project, "sites", site, "memories", formatID(memory), "comments", formatID(comment))
}

func (h HandlerSet) ListComments(c *gin.Context) {
	memory, _, ok := commentPath(c, false)
	if !ok {
		return
	}
	var comments []models.Comment
	ok = h.tx(c, func(db database.DB) (err error) {
		comments, err = h.comments(c, db).All(c.Request.Context(), c.Param("project"), c.Param("site"), memory)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.Comment]{Items: comments})
	}
}

func (h HandlerSet) GetComment(c *gin.Context) {
	memory, comment, ok := commentPath(c, true)
	if !ok {
		return
	}
	var out models.Comment
	ok = h.tx(c, func(db database.DB) (err error) {
		out, err = h.comments(c, db).One(c.Request.Context(), c.Param("project"), c.Param("site"), memory, comment)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, out)
	}
}

func (h HandlerSet) CreateComment(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, _, ok := commentPath(c, false)
	if !ok {
		return
	}
	var req models.NewComment
	if !bindJSON(c, &req) {
		return
	}
	var comment int64
	ok = h.tx(c, func(db database.DB) (err error) {
		comment, err = h.comments(c, db).Create(c.Request.Context(), project, site, memory, req)
		return err
	})
	if ok {
		created(c, h.commentURL(project, site, memory, comment))
	}
}

func (h HandlerSet) ModifyComment(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, comment, ok := commentPath(c, true)
	if !ok {
		return
	}
	var patch models.CommentPatch
	if !bindJSON(c, &patch) {
		return
	}
	location := h.commentURL(project, site, memory, comment)
	if patch.Empty() {
		changed(c, false, location)
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.comments(c, db).Modify(c.Request.Context(), project, site, memory, comment, patch)
	})
	if ok {
		noContent(c, location)
	}
}

func (h HandlerSet) DeleteComment(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, comment, ok := commentPath(c, true)
	if !ok {
		return
	}
	hard, ok := hardDelete(c)
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.comments(c, db).Delete(c.Request.Context(), project, site, memory, comment, hard)
	})
	if ok {
		noContent(c, h.url("projects", project, "sites", site, "memories", formatID(memory), "comments"))
	}
}

func (h HandlerSet) PublishComment(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, comment, ok := commentPath(c, true)
	if !ok {
		return
	}
	publish, ok := queryBool(c, "publish")
	if !ok {
		return
	}
	var didChange bool
	ok = h.tx(c, func(db database.DB) (err error) {
		didChange, err = h.comments(c, db).TogglePublish(c.Request.Context(), project, site, memory, comment, publish)
		return err
	})
	if ok {
		changed(c, didChange, h.commentURL(project, site, memory, comment))
	}
}

func (h HandlerSet) ReportComment(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, comment, ok := commentPath(c, true)
	if !ok {
		return
	}
	var inserted bool
	ok = h.tx(c, func(db database.DB) (err error) {
		inserted, err = h.comments(c, db).Report(c.Request.Context(), project, site, memory, comment)
		return err
	})
	if ok {
		changed(c, inserted, h.commentURL(project, site, memory, comment))
	}
}
