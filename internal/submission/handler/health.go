package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/fangate/internal/health"
)

// Readiness is satisfied by *health.Checker.
type Readiness interface {
	Ready() bool
	Snapshot() []health.ComponentStatus
}

// RegisterHealth mounts /healthz (liveness) and /readyz (dependency
// readiness) on r.
func RegisterHealth(r gin.IRoutes, checker Readiness) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		status, code := "ready", http.StatusOK
		if !checker.Ready() {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "components": checker.Snapshot()})
	})
}
