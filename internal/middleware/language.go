package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/language"
)

const languageKey = "language"

// Language resolves the request language. Writes must name a supported
// language; reads fall back to the default.
func Language(n *language.Negotiator) gin.HandlerFunc {
	return func(c *gin.Context) {
		strict := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead
		lang, err := n.Resolve(language.Header(c.Request), strict)
		if err != nil {
			AbortWithError(c, apperr.NotAcceptable("unsupported language").
				WithDetails(gin.H{"header": language.Header(c.Request)}))
			return
		}

		c.Set(languageKey, lang)
		c.Header("Content-Language", lang)
		c.Next()
	}
}

func LanguageFrom(c *gin.Context) string {
	return c.GetString(languageKey)
}
