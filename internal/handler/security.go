package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/firehorse/bookstore/internal/auth"
)

// claimsKey is the gin context key holding the authenticated token claims.
const claimsKey = "auth.claims"

// RequireAuth returns gin middleware that rejects requests without a valid
// Bearer token. On success the verified claims are stored in the request
// context for handlers that need the caller identity.
func RequireAuth(tokens *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom extracts the authenticated claims set by RequireAuth.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
