package middleware

import (
	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
)

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AbortWithError writes the error envelope for err and stops the chain.
// Internal failures are reported with a generic message; the cause is kept
// on the context for the request log.
func AbortWithError(c *gin.Context, err error) {
	e := apperr.From(err)
	_ = c.Error(err)

	body := errorBody{Code: e.Status(), Message: e.Message, Details: e.Details}
	if e.Kind == apperr.KindInternal {
		body.Message = "internal server error"
		body.Details = nil
	}
	c.AbortWithStatusJSON(body.Code, gin.H{"error": body})
}
