package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the trusted gateway in front of the dialer.
const (
	HeaderRepID = "X-Rep-Id"
	HeaderRole  = "X-Role"
)

// DefaultRole applies when the gateway sends a rep id without a role.
const DefaultRole = "rep"

// RequireIdentity reads the caller identity from gateway headers and injects
// it into the request context. No credentials are checked here; RBAC checks
// belong to internal/rbac.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		repID := strings.TrimSpace(c.GetHeader(HeaderRepID))
		if repID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderRepID})
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))
		if role == "" {
			role = DefaultRole
		}

		ctx := WithIdentity(c.Request.Context(), repID, role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("rep_id", repID)
		c.Set("role", role)

		c.Next()
	}
}
