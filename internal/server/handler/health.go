package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthReporter interface {
	Healthy() bool
	Degraded() []string
}

// Healthz returns GET /healthz. A nil reporter always reports ok.
func Healthz(r healthReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil || r.Healthy() {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "degraded": r.Degraded()})
	}
}
