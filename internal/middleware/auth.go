package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminContextKey is set to true on requests carrying a valid admin token.
const AdminContextKey = "isAdmin"

// AdminIdentity marks requests that present the shared admin bearer token.
// Requests without an Authorization header pass through as visitors; a
// malformed or wrong token is rejected. An empty token disables admin access.
func AdminIdentity(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(AdminContextKey, false)
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization header"})
			return
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		c.Set(AdminContextKey, true)
		c.Next()
	}
}

// RequireAdmin rejects requests that AdminIdentity did not mark as admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "admin authorization required"})
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the request was authenticated as admin.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(AdminContextKey)
}
