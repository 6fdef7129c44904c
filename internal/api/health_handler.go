package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleRoot identifies the service for anyone poking the bare host.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "TradeCouncil API",
		"version": s.version,
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth reports liveness, including database round-trip time.
func (s *Server) handleGetHealth(c *gin.Context) {
	rtt, err := s.store.Health(c.Request.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Database health check failed")
		c.JSON(http.StatusServiceUnavailable, envelope{
			Success: false,
			Data: gin.H{
				"status": "unhealthy",
				"db": gin.H{
					"connection": "disconnected",
				},
				"version": s.version,
			},
			Error: "database unavailable",
		})
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"status": "healthy",
		"db": gin.H{
			"connection":    "connected",
			"response_time": rtt.String(),
		},
		"version": s.version,
	})
}
