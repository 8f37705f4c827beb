package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"muistot/api/internal/apperr"
	"muistot/api/internal/identity"
	"muistot/api/internal/sessions"
)

const identityKey = "identity"

// Sessions binds the caller identity. Requests without an Authorization
// header are anonymous; a header that does not name a live session is
// rejected.
func Sessions(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(identityKey, identity.Null())
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			AbortWithError(c, apperr.Unauthorized("invalid authorization header"))
			return
		}

		session, err := store.Get(c.Request.Context(), token)
		if errors.Is(err, sessions.ErrInvalidSession) {
			AbortWithError(c, apperr.Unauthorized("invalid session"))
			return
		}
		if err != nil {
			AbortWithError(c, apperr.Unavailable(err, "session store unavailable"))
			return
		}

		c.Set(identityKey, identity.FromSession(token, session))
		c.Next()
	}
}

// IdentityFrom returns the bound identity, or the anonymous one when the
// session middleware has not run.
func IdentityFrom(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Null()
}
