package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// handleHealth reports service, database and vault health
// GET /api/health
func (s *Server) handleHealth(c *gin.Context) {
	info, err := s.repo.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"status":  "degraded",
			"message": "database unreachable",
		})
		return
	}

	body := gin.H{
		"success":        true,
		"status":         "ok",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"database":       info,
		"dev_mode":       s.config.DevMode,
	}
	if s.vaultClient != nil && s.vaultClient.Enabled() {
		vaultStatus := "ok"
		if err := s.vaultClient.HealthCheck(c.Request.Context()); err != nil {
			vaultStatus = "unreachable"
		}
		body["vault"] = vaultStatus
	}
	c.JSON(http.StatusOK, body)
}
