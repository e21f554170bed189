package api

import "github.com/gin-gonic/gin"

// extractAuthor determines the acting user from reverse-proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email >
// X-Remote-User > "api-client" fallback for unauthenticated deployments.
func extractAuthor(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.GetHeader("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}
