package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids caching of responses. Session snapshots carry a live
// countdown and must never be served stale by a proxy or the browser.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
