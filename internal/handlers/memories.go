package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/database"
	"muistot/api/internal/models"
)

func (h HandlerSet) memoryURL(project, site string, memory int64) string {
	return h.url("projects", project, "sites", site, "memories", formatID(memory))
}

func (h HandlerSet) ListMemories(c *gin.Context) {
	var memories []models.Memory
	ok := h.tx(c, func(db database.DB) (err error) {
		memories, err = h.memories(c, db).All(c.Request.Context(), c.Param("project"), c.Param("site"))
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.Memory]{Items: memories})
	}
}

func (h HandlerSet) GetMemory(c *gin.Context) {
	memory, ok := paramID(c, "memory")
	if !ok {
		return
	}
	var out models.Memory
	ok = h.tx(c, func(db database.DB) (err error) {
		out, err = h.memories(c, db).One(c.Request.Context(), c.Param("project"), c.Param("site"), memory)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, out)
	}
}

func (h HandlerSet) CreateMemory(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	var req models.NewMemory
	if !bindJSON(c, &req) {
		return
	}
	var memory int64
	ok := h.tx(c, func(db database.DB) (err error) {
		memory, err = h.memories(c, db).Create(c.Request.Context(), project, site, req)
		return err
	})
	if ok {
		created(c, h.memoryURL(project, site, memory))
	}
}

func (h HandlerSet) ModifyMemory(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, ok := paramID(c, "memory")
	if !ok {
		return
	}
	var patch models.MemoryPatch
	if !bindJSON(c, &patch) {
		return
	}
	if patch.Empty() {
		changed(c, false, h.memoryURL(project, site, memory))
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.memories(c, db).Modify(c.Request.Context(), project, site, memory, patch)
	})
	if ok {
		noContent(c, h.memoryURL(project, site, memory))
	}
}

func (h HandlerSet) DeleteMemory(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, ok := paramID(c, "memory")
	if !ok {
		return
	}
	hard, ok := hardDelete(c)
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.memories(c, db).Delete(c.Request.Context(), project, site, memory, hard)
	})
	if ok {
		noContent(c, h.url("projects", project, "sites", site, "memories"))
	}
}

func (h HandlerSet) PublishMemory(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, ok := paramID(c, "memory")
	if !ok {
		return
	}
	publish, ok := queryBool(c, "publish")
	if !ok {
		return
	}
	var didChange bool
	ok = h.tx(c, func(db database.DB) (err error) {
		didChange, err = h.memories(c, db).TogglePublish(c.Request.Context(), project, site, memory, publish)
		return err
	})
	if ok {
		changed(c, didChange, h.memoryURL(project, site, memory))
	}
}

func (h HandlerSet) ReportMemory(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	memory, ok := paramID(c, "memory")
	if !ok {
		return
	}
	var inserted bool
	ok = h.tx(c, func(db database.DB) (err error) {
		inserted, err = h.memories(c, db).Report(c.Request.Context(), project, site, memory)
		return err
	})
	if ok {
		changed(c, inserted, h.memoryURL(project, site, memory))
	}
}
