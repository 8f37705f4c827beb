package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/database"
	"muistot/api/internal/middleware"
	"muistot/api/internal/models"
)

// nearestQuery reads the optional n, lat and lon parameters.
func nearestQuery(c *gin.Context) (models.NearestQuery, bool) {
	var q models.NearestQuery
	if v := c.Query("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			middleware.AbortWithError(c, apperr.Unprocessable("n must be an integer"))
			return q, false
		}
		q.N = &n
	}
	for name, dst := range map[string]**float64{"lat": &q.Lat, "lon": &q.Lon} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			middleware.AbortWithError(c, apperr.Unprocessable("%s must be a number", name))
			return q, false
		}
		*dst = &f
	}
	return q, true
}

func (h HandlerSet) ListSites(c *gin.Context) {
	near, ok := nearestQuery(c)
	if !ok {
		return
	}
	var sites []models.Site
	ok = h.tx(c, func(db database.DB) (err error) {
		sites, err = h.sites(c, db).All(c.Request.Context(), c.Param("project"), near)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, listResponse[models.Site]{Items: sites})
	}
}

func (h HandlerSet) GetSite(c *gin.Context) {
	var site models.Site
	ok := h.tx(c, func(db database.DB) (err error) {
		site, err = h.sites(c, db).One(c.Request.Context(), c.Param("project"), c.Param("site"))
		return err
	})
	if ok {
		c.JSON(http.StatusOK, site)
	}
}

func (h HandlerSet) CreateSite(c *gin.Context) {
	project := c.Param("project")
	var req models.NewSite
	if !bindJSON(c, &req) {
		return
	}
	var name string
	ok := h.tx(c, func(db database.DB) (err error) {
		name, err = h.sites(c, db).Create(c.Request.Context(), project, req)
		return err
	})
	if ok {
		created(c, h.url("projects", project, "sites", name))
	}
}

func (h HandlerSet) ModifySite(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	location := h.url("projects", project, "sites", site)
	var patch models.SitePatch
	if !bindJSON(c, &patch) {
		return
	}
	if patch.Empty() {
		changed(c, false, location)
		return
	}
	ok := h.tx(c, func(db database.DB) error {
		return h.sites(c, db).Modify(c.Request.Context(), project, site, patch)
	})
	if ok {
		noContent(c, location)
	}
}

func (h HandlerSet) DeleteSite(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	hard, ok := hardDelete(c)
	if !ok {
		return
	}
	ok = h.tx(c, func(db database.DB) error {
		return h.sites(c, db).Delete(c.Request.Context(), project, site, hard)
	})
	if ok {
		noContent(c, h.url("projects", project, "sites"))
	}
}

func (h HandlerSet) PublishSite(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	publish, ok := queryBool(c, "publish")
	if !ok {
		return
	}
	var didChange bool
	ok = h.tx(c, func(db database.DB) (err error) {
		didChange, err = h.sites(c, db).TogglePublish(c.Request.Context(), project, site, publish)
		return err
	})
	if ok {
		changed(c, didChange, h.url("projects", project, "sites", site))
	}
}

func (h HandlerSet) ReportSite(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	var inserted bool
	ok := h.tx(c, func(db database.DB) (err error) {
		inserted, err = h.sites(c, db).Report(c.Request.Context(), project, site)
		return err
	})
	if ok {
		changed(c, inserted, h.url("projects", project, "sites", site))
	}
}

func (h HandlerSet) LocalizeSite(c *gin.Context) {
	project, site := c.Param("project"), c.Param("site")
	var info models.SiteInfo
	if !bindJSON(c, &info) {
		return
	}
	ok := h.tx(c, func(db database.DB) error {
		return h.sites(c, db).Localize(c.Request.Context(), project, site, info)
	})
	if ok {
		noContent(c, h.url("projects", project, "sites", site))
	}
}
