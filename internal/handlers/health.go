package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Sessions    string `json:"sessions"`
	Cache       string `json:"cache"`
	Environment string `json:"environment"`
}

func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Sessions: "ok", Cache: "disabled", Environment: h.environment}

	if err := h.db.Ping(ctx); err != nil {
		resp.Database, resp.Status = "error", "degraded"
		h.log.Error().Err(err).Msg("database ping failed")
	}
	if err := h.kv.Ping(ctx).Err(); err != nil {
		resp.Sessions, resp.Status = "error", "degraded"
		h.log.Error().Err(err).Msg("session store ping failed")
	}
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx).Err(); err != nil {
			resp.Cache = "error"
			h.log.Warn().Err(err).Msg("cache ping failed")
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

var metricsHandler = promhttp.Handler()

func (h HandlerSet) Metrics(c *gin.Context) {
	metricsHandler.ServeHTTP(c.Writer, c.Request)
}
