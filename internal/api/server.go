// Package api exposes the REST surface: authentication, analysis lifecycle,
// market data passthrough, and the server-sent progress stream. Handlers are
// thin; each validates input, invokes one store/orchestrator/gateway
// operation, and wraps the result in the uniform response envelope.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/config"
	"github.com/tradecouncil/tradecouncil/internal/db"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
	"github.com/tradecouncil/tradecouncil/internal/metrics"
	"github.com/tradecouncil/tradecouncil/internal/progress"
)

// Store is the persistence surface the handlers need; satisfied by *db.DB.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*db.AnalysisSession, error)
	GetFullReport(ctx context.Context, sessionID uuid.UUID) (*db.FullReport, error)
	ListSessions(ctx context.Context, filter db.SessionFilter) ([]*db.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID, requestingOwner string) error
	UpsertPreference(ctx context.Context, userID uuid.UUID, key string, value json.RawMessage, category *string) error
	ListPreferences(ctx context.Context, userID uuid.UUID, category string) ([]*db.UserPreference, error)
	Health(ctx context.Context) (time.Duration, error)
}

// Analyzer drives session lifecycles; satisfied by *orchestrator.Orchestrator.
type Analyzer interface {
	StartAnalysis(ctx context.Context, owner string, userID *uuid.UUID, ticker string, analysisDate time.Time, cfg json.RawMessage) (uuid.UUID, error)
	Cancel(ctx context.Context, sessionID uuid.UUID) error
}

// MarketData is the read-only market surface; satisfied by *gateway.Gateway.
type MarketData interface {
	Quote(ctx context.Context, ticker string) (*gateway.Quote, error)
	Quotes(ctx context.Context, tickers []string) ([]gateway.QuoteResult, error)
	FearGreedHistory(ctx context.Context, days int) ([]gateway.FearGreedPoint, error)
	FearGreedMonthly(ctx context.Context, days int) ([]gateway.FearGreedMonth, error)
	Sentiment(ctx context.Context, ticker string, windowDays int) (*gateway.SentimentSnapshot, error)
}

// Server represents the REST API server
type Server struct {
	router   *gin.Engine
	store    Store
	analyzer Analyzer
	market   MarketData
	bus      *progress.Bus
	auth     *TokenIssuer
	limiter  *RateLimiter
	version  string
	debug    bool
	addr     string
	server   *http.Server
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	Debug          bool
	AllowedOrigins []string
	GlobalRate     config.RateRule
	LoginRate      config.RateRule
	StartRate      config.RateRule

	Store    Store
	Analyzer Analyzer
	Market   MarketData
	Bus      *progress.Bus
	Auth     *TokenIssuer
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		router:   router,
		store:    cfg.Store,
		analyzer: cfg.Analyzer,
		market:   cfg.Market,
		bus:      cfg.Bus,
		auth:     cfg.Auth,
		limiter:  NewRateLimiter(cfg.GlobalRate, cfg.LoginRate, cfg.StartRate),
		version:  cfg.Version,
		debug:    cfg.Debug,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(server.limiter.Middleware(RuleGlobal))

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Write timeout is generous because the events endpoint streams.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}

// metricsMiddleware records per-route request counters and latencies. The
// route label is the registered pattern, not the raw path, to keep metric
// cardinality bounded.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
