package handlers

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/media/sniffer"
	"muistot/api/internal/middleware"
	"muistot/api/internal/storage"
)

// Image streams a stored image. Missing images redirect to the placeholder.
func (h HandlerSet) Image(c *gin.Context) {
	name := c.Param("name")

	file, err := h.files.Open(c.Request.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		if name == h.placeholder {
			middleware.AbortWithError(c, apperr.NotFound("image not found"))
			return
		}
		c.Redirect(http.StatusSeeOther, h.url("images", h.placeholder))
		return
	}
	if err != nil {
		middleware.AbortWithError(c, apperr.Unavailable(err, "file storage unavailable"))
		return
	}
	defer file.Close()

	c.DataFromReader(http.StatusOK, -1, sniffer.ByExtension(path.Ext(name)), file, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}
