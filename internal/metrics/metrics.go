// Package metrics declares the process-wide Prometheus instruments. All
// instruments are registered once via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle counters.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecouncil_sessions_started_total",
		Help: "Total number of analysis sessions started",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecouncil_sessions_completed_total",
		Help: "Total number of analysis sessions completed successfully",
	})

	SessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecouncil_sessions_failed_total",
		Help: "Total number of analysis sessions that failed",
	})

	SessionsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecouncil_sessions_canceled_total",
		Help: "Total number of analysis sessions canceled by client or deadline",
	})

	// Per-agent step outcomes. Labels are bounded: agent names are the
	// fixed pipeline roles, status is completed/failed.
	AgentSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_agent_steps_total",
		Help: "Agent steps by role and outcome",
	}, []string{"agent", "status"})

	AgentStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradecouncil_agent_step_duration_seconds",
		Help:    "Agent step wall time by role",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"agent"})

	// Gateway instruments.
	GatewayCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_gateway_cache_hits_total",
		Help: "Gateway cache hits by operation class",
	}, []string{"class"})

	GatewayCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_gateway_cache_misses_total",
		Help: "Gateway cache misses by operation class",
	}, []string{"class"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_llm_calls_total",
		Help: "LLM chat calls by outcome",
	}, []string{"outcome"})

	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_llm_tokens_total",
		Help: "LLM tokens consumed by direction (prompt/completion)",
	}, []string{"direction"})

	// HTTP surface.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_http_requests_total",
		Help: "HTTP requests by route and status class",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradecouncil_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradecouncil_rate_limit_rejections_total",
		Help: "Requests rejected by the sliding-window rate limiter, by rule",
	}, []string{"rule"})
)
