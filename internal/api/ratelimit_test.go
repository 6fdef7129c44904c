package api

import (
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecouncil/tradecouncil/internal/config"
)

func newTestLimiter(rule config.RateRule) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(
		config.RateRule{MaxRequests: 10000, Window: time.Minute},
		rule,
		config.RateRule{MaxRequests: 10, Window: 5 * time.Minute},
	)
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, now := newTestLimiter(config.RateRule{MaxRequests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow(RuleLogin, "client-a")
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, retryAfter := rl.Allow(RuleLogin, "client-a")
	assert.False(t, ok)
	assert.Equal(t, 60, retryAfter, "window is still full")

	// Advancing past the window frees the oldest slots.
	*now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(RuleLogin, "client-a")
	assert.True(t, ok)
}

func TestRateLimiterRetryAfterTracksOldest(t *testing.T) {
	rl, now := newTestLimiter(config.RateRule{MaxRequests: 2, Window: 100 * time.Second})

	rl.Allow(RuleLogin, "c")
	*now = now.Add(30 * time.Second)
	rl.Allow(RuleLogin, "c")
	*now = now.Add(30 * time.Second)

	// The oldest hit expires 100s after t0; we are at t0+60s.
	ok, retryAfter := rl.Allow(RuleLogin, "c")
	assert.False(t, ok)
	assert.Equal(t, 40, retryAfter)
}

func TestRateLimiterIdentifierIsolation(t *testing.T) {
	rl, _ := newTestLimiter(config.RateRule{MaxRequests: 1, Window: time.Minute})

	ok, _ := rl.Allow(RuleLogin, "alice")
	assert.True(t, ok)
	ok, _ = rl.Allow(RuleLogin, "alice")
	assert.False(t, ok)

	// A different identifier has its own window.
	ok, _ = rl.Allow(RuleLogin, "bob")
	assert.True(t, ok)
}

func TestRateLimiterUnknownRulePasses(t *testing.T) {
	rl, _ := newTestLimiter(config.RateRule{MaxRequests: 1, Window: time.Minute})
	ok, _ := rl.Allow(Rule("no-such-rule"), "x")
	assert.True(t, ok)
}

// The sixth login attempt inside the window answers 429 with a Retry-After
// between 1 and 300 seconds, regardless of credential validity.
func TestLoginRateLimitOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(t, "alice", "correct-password", false)

	login := func() *httptest.ResponseRecorder {
		form := url.Values{"username": {"alice"}, "password": {"wrong"}}
		req := httptest.NewRequest("POST", "/api/v1/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", "rate-limit-test")
		req.RemoteAddr = "10.1.2.3:4000"
		w := httptest.NewRecorder()
		env.server.router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 5; i++ {
		w := login()
		assert.Equal(t, 401, w.Code, "attempt %d counts but fails auth", i+1)
	}

	w := login()
	require.Equal(t, 429, w.Code)

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err, "Retry-After must be an integer")
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 300)
}

func TestRateLimitDistinctUserAgentsSeparateBuckets(t *testing.T) {
	env := newTestEnv(t)

	login := func(agent string) int {
		form := url.Values{"username": {"ghost"}, "password": {"x"}}
		req := httptest.NewRequest("POST", "/api/v1/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", agent)
		req.RemoteAddr = "10.1.2.3:4000"
		w := httptest.NewRecorder()
		env.server.router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, 401, login("agent-one"))
	}
	assert.Equal(t, 429, login("agent-one"))

	// Same IP, different user agent: separate identifier.
	assert.Equal(t, 401, login("agent-two"))
}
