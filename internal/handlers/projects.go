package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/database"
	"muistot/api/internal/models"
)

func (h HandlerSet) ListProjects(c *gin.Context) {
	var projects []models.Project
	ok := h.tx(c, func(db database.DB) (err error) {
		projects, err = h.projects(c, db).All(c.Request.Context())
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.Project]{Items: projects})
	}
}

func (h HandlerSet) GetProject(c *gin.Context) {
	var project models.Project
	ok := h.tx(c, func(db database.DB) (err error) {
		project, err = h.projects(c, db).One(c.Request.Context(), c.Param("project"))
		return err
	})
	if ok {
		c.JSON(http.StatusOK, project)
	}
}

func (h HandlerSet) CreateProject(c *gin.Context) {
	var req models.NewProject
	if !bindJSON(c, &req) {
		return
	}
	var name string
	ok := h.tx(c, func(db database.DB) (err error) {
		name, err = h.projects(c, db).Create(c.Request.Context(), req)
		return err
	})
	if ok {
		created(c, h.url("projects", name))
	}
}

func (h HandlerSet) ModifyProject(c *gin.Context) {
	project := c.Param("project")
	var patch models.ProjectPatch
	if !bindJSON(c, &patch) {
		return
	}
	if patch.Empty() {
		changed(c, false, h.url("projects", project))
		return
	}
	ok := h.tx(c, func(db database.DB) error {
		return h.projects(c, db).Modify(c.Request.Context(), project, patch)
	})
	if ok {
		noContent(c, h.url("projects", project))
	}
}

// DeleteProject unpublishes the project. ?hard=true removes it for good.
func (h HandlerSet) DeleteProject(c *gin.Context) {
	hard, ok := hardDelete(c)
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.projects(c, db).Delete(c.Request.Context(), c.Param("project"), hard)
	})
	if ok {
		noContent(c, h.url("projects"))
	}
}

func (h HandlerSet) PublishProject(c *gin.Context) {
	project := c.Param("project")
	publish, ok := queryBool(c, "publish")
	if !ok {
		return
	}
	var didChange bool
	ok = h.tx(c, func(db database.DB) (err error) {
		didChange, err = h.projects(c, db).TogglePublish(c.Request.Context(), project, publish)
		return err
	})
	if ok {
		changed(c, didChange, h.url("projects", project))
	}
}

func (h HandlerSet) ReportProject(c *gin.Context) {
	project := c.Param("project")
	var inserted bool
	ok := h.tx(c, func(db database.DB) (err error) {
		inserted, err = h.projects(c, db).Report(c.Request.Context(), project)
		return err
	})
	if ok {
		changed(c, inserted, h.url("projects", project))
	}
}

func (h HandlerSet) AddProjectAdmin(c *gin.Context) {
	project := c.Param("project")
	username, ok := queryRequired(c, "username")
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.projects(c, db).AddAdmin(c.Request.Context(), project, username)
	})
	if ok {
		noContent(c, h.url("projects", project))
	}
}

func (h HandlerSet) RemoveProjectAdmin(c *gin.Context) {
	project := c.Param("project")
	username, ok := queryRequired(c, "username")
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.projects(c, db).RemoveAdmin(c.Request.Context(), project, username)
	})
	if ok {
		noContent(c, h.url("projects", project))
	}
}

func (h HandlerSet) LocalizeProject(c *gin.Context) {
	project := c.Param("project")
	var info models.ProjectInfo
	if !bindJSON(c, &info) {
		return
	}
	ok := h.tx(c, func(db database.DB) error {
		return h.projects(c, db).Localize(c.Request.Context(), project, info)
	})
	if ok {
		noContent(c, h.url("projects", project))
	}
}
