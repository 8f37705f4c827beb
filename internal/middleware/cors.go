package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/language"
)

var corsAllowHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"Accept-Language",
	"Content-Language",
	language.HeaderOverride,
	requestIDHeader,
}, ", ")

var corsExposeHeaders = strings.Join([]string{
	"Authorization",
	"Location",
	"Content-Language",
	requestIDHeader,
}, ", ")

func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		originMap[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if _, ok := originMap[origin]; ok || allowAll {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Writer.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
