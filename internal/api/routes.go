package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tradecouncil/tradecouncil/internal/metrics"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// API v1 group
	v1 := s.router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", s.limiter.Middleware(RuleLogin), s.handleLogin)
			auth.POST("/logout", s.handleLogout)
			auth.POST("/refresh", s.handleRefresh)
			auth.GET("/me", s.requireAuth(), s.handleMe)
		}

		analysis := v1.Group("/analysis", s.requireAuth())
		{
			analysis.POST("/start", s.limiter.Middleware(RuleStartAnalysis), s.handleStartAnalysis)
			analysis.GET("", s.handleListSessions)
			analysis.GET("/:session_id", s.handleGetReport)
			analysis.GET("/:session_id/events", s.handleSessionEvents)
			analysis.POST("/:session_id/cancel", s.handleCancelSession)
			analysis.DELETE("/:session_id", s.handleDeleteSession)
		}

		market := v1.Group("/market")
		{
			market.GET("/quote/:ticker", s.handleGetQuote)
			market.GET("/quotes", s.handleGetQuotes)
			market.GET("/fear-greed/history", s.handleFearGreedHistory)
			market.GET("/sentiment", s.handleSentiment)
		}

		prefs := v1.Group("/preferences", s.requireAuth())
		{
			prefs.GET("", s.handleListPreferences)
			prefs.PUT("", s.handlePutPreference)
		}

		v1.GET("/health", s.handleGetHealth)
	}

	// Operational endpoints outside the versioned prefix.
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/", s.handleRoot)
}
