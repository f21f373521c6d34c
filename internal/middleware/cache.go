package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks every response as uncacheable. Queue and booking state is
// live data; a cached board or position would mislead the patient.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
