package api

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/config"
	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/metrics"
)

// Rule names one rate-limit bucket class.
type Rule string

const (
	RuleGlobal        Rule = "global"
	RuleLogin         Rule = "login"
	RuleStartAnalysis Rule = "start_analysis"
)

const sweepInterval = 5 * time.Minute

// RateLimiter enforces sliding-window limits per (rule, identifier). The
// identifier is the authenticated username when present, otherwise the
// client IP joined with a short hash of the user agent.
type RateLimiter struct {
	mu        sync.Mutex
	rules     map[Rule]config.RateRule
	hits      map[string][]time.Time
	lastSweep time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewRateLimiter builds a limiter with the three standard rules. Zero-valued
// rules get the documented defaults.
func NewRateLimiter(global, login, start config.RateRule) *RateLimiter {
	if global.MaxRequests <= 0 {
		global = config.RateRule{MaxRequests: 500, Window: time.Minute}
	}
	if login.MaxRequests <= 0 {
		login = config.RateRule{MaxRequests: 5, Window: 5 * time.Minute}
	}
	if start.MaxRequests <= 0 {
		start = config.RateRule{MaxRequests: 10, Window: 5 * time.Minute}
	}
	return &RateLimiter{
		rules: map[Rule]config.RateRule{
			RuleGlobal:        global,
			RuleLogin:         login,
			RuleStartAnalysis: start,
		},
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow records one request for the identifier under the rule. When the
// window is full it reports the seconds until the oldest in-window request
// expires, which becomes the Retry-After header.
func (r *RateLimiter) Allow(rule Rule, identifier string) (bool, int) {
	cfg, ok := r.rules[rule]
	if !ok {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := string(rule) + "|" + identifier
	cutoff := now.Add(-cfg.Window)

	window := r.hits[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= cfg.MaxRequests {
		r.hits[key] = kept
		retryAfter := int(kept[0].Add(cfg.Window).Sub(now).Seconds() + 0.999)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	r.hits[key] = append(kept, now)
	r.sweepLocked(now)
	return true, 0
}

// sweepLocked drops identifiers whose whole window has aged out so the map
// does not grow with client churn.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < sweepInterval {
		return
	}
	r.lastSweep = now

	var maxWindow time.Duration
	for _, rule := range r.rules {
		if rule.Window > maxWindow {
			maxWindow = rule.Window
		}
	}
	cutoff := now.Add(-maxWindow)
	for key, window := range r.hits {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(r.hits, key)
		}
	}
}

// clientIdentifier keys the limiter by user when authenticated; anonymous
// callers are keyed by IP plus a short user-agent hash so distinct clients
// behind one NAT do not share a bucket.
func clientIdentifier(c *gin.Context) string {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return "user:" + id.Username
		}
	}
	sum := sha256.Sum256([]byte(c.Request.UserAgent()))
	return c.ClientIP() + "/" + hex.EncodeToString(sum[:4])
}

// Middleware enforces the named rule, answering 429 with a Retry-After
// header on breach.
func (r *RateLimiter) Middleware(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := clientIdentifier(c)
		ok, retryAfter := r.Allow(rule, identifier)
		if ok {
			c.Next()
			return
		}

		metrics.RateLimitRejections.WithLabelValues(string(rule)).Inc()
		log.Warn().
			Str("rule", string(rule)).
			Str("identifier", identifier).
			Int("retry_after", retryAfter).
			Msg("Rate limit exceeded")

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(errs.HTTPStatus(errs.New(errs.KindRateLimited, "")), envelope{
			Success: false,
			Error:   "rate limit exceeded, retry later",
		})
		c.Abort()
	}
}
