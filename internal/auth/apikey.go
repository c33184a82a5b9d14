package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// projectCtxKey is the Gin context key used to store the authenticated project ID.
const projectCtxKey = "project_id"

// APIKeyMiddleware scopes every request to a project by mapping X-API-Key -> projectID.
func APIKeyMiddleware(keys map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		projectID, ok := keys[apiKey]
		if !ok || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(projectCtxKey, projectID)
		c.Next()
	}
}

// ProjectID returns the authenticated project ID, or 0 when the request was not
// authenticated.
func ProjectID(c *gin.Context) int64 {
	return c.GetInt64(projectCtxKey)
}
