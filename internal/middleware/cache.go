package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as private and uncacheable. Attempt results and
// identity photos must not linger in shared caches.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "private, no-store")
		c.Next()
	}
}
