// Package gateway is the single chokepoint for all external service access.
// Every upstream call goes through per-provider rate limiting, bounded
// retry for idempotent reads, and a process-local TTL cache with request
// coalescing. LLM chat calls are never cached and never retried.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tradecouncil/tradecouncil/internal/config"
	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// Gateway mediates access to market data, news, economic series, the fear
// and greed index, and the LLM. A nil provider means that capability is
// disabled; calls against it fail with an unavailable error instead of
// panicking.
type Gateway struct {
	quoteProvider QuoteProvider
	newsProvider  NewsProvider
	seriesProv    SeriesProvider
	fgProvider    FearGreedProvider
	llm           ChatClient

	// One cache per TTL class so quote churn cannot evict slower data.
	quoteCache  *Cache
	newsCache   *Cache
	seriesCache *Cache
	fgCache     *Cache

	quoteLimiter *Limiter
	newsLimiter  *Limiter
	fredLimiter  *Limiter
	fgLimiter    *Limiter
	llmLimiter   *Limiter

	retry       RetryConfig
	callTimeout time.Duration
	fanoutCap   int
}

// Providers bundles the upstream clients injected into the gateway.
// Any nil entry disables that capability.
type Providers struct {
	Quotes    QuoteProvider
	News      NewsProvider
	Series    SeriesProvider
	FearGreed FearGreedProvider
	LLM       ChatClient
}

// New assembles a gateway from configuration and injected providers.
func New(cfg config.GatewayConfig, providers Providers) *Gateway {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	retry := RetryConfig{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: 5 * time.Second}
	if retry.Attempts <= 0 {
		retry = DefaultRetryConfig()
	}
	fanoutCap := cfg.QuoteFanoutCap
	if fanoutCap <= 0 {
		fanoutCap = 8
	}

	limiter := func(name string) *Limiter {
		return NewLimiter(name, cfg.RatePerSecond, cfg.RateBurst, cfg.RateWaitBudget)
	}

	return &Gateway{
		quoteProvider: providers.Quotes,
		newsProvider:  providers.News,
		seriesProv:    providers.Series,
		fgProvider:    providers.FearGreed,
		llm:           providers.LLM,
		quoteCache:    NewCache("quote", size, cfg.QuoteTTL),
		newsCache:     NewCache("news", size, cfg.NewsTTL),
		seriesCache:   NewCache("series", size, cfg.SeriesTTL),
		fgCache:       NewCache("fear_greed", size, cfg.FearGreedTTL),
		quoteLimiter:  limiter("yahoo"),
		newsLimiter:   limiter("finnhub"),
		fredLimiter:   limiter("fred"),
		fgLimiter:     limiter("feargreed"),
		llmLimiter:    limiter("llm"),
		retry:         retry,
		callTimeout:   callTimeout,
		fanoutCap:     fanoutCap,
	}
}

// fetch runs one guarded upstream read: rate limit, then bounded retry with
// a per-attempt timeout.
func fetch[T any](ctx context.Context, g *Gateway, limiter *Limiter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, g.retry, op, func(ctx context.Context) error {
		if err := limiter.Acquire(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// cached wraps fetch with the TTL cache for op's class.
func cached[T any](ctx context.Context, g *Gateway, cache *Cache, limiter *Limiter, key, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := cache.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx, g, limiter, op, fn)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Quote returns the current quote for one ticker.
func (g *Gateway) Quote(ctx context.Context, ticker string) (*Quote, error) {
	if g.quoteProvider == nil {
		return nil, errs.New(errs.KindUnavailable, "market data provider not configured")
	}
	key := Fingerprint("quote", ticker)
	return cached(ctx, g, g.quoteCache, g.quoteLimiter, key, "quote", func(ctx context.Context) (*Quote, error) {
		return g.quoteProvider.Quote(ctx, ticker)
	})
}

// Quotes fetches a batch of quotes with bounded concurrency. Individual
// ticker failures are reported per row; the batch itself only fails on
// caller cancel.
func (g *Gateway) Quotes(ctx context.Context, tickers []string) ([]QuoteResult, error) {
	if g.quoteProvider == nil {
		return nil, errs.New(errs.KindUnavailable, "market data provider not configured")
	}
	return g.quotes(ctx, tickers, g.fanoutCap)
}

// CompanyNews returns headlines for a ticker within [from, to].
func (g *Gateway) CompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsArticle, error) {
	if g.newsProvider == nil {
		return nil, errs.New(errs.KindUnavailable, "news provider not configured")
	}
	key := Fingerprint("company_news", struct {
		Ticker   string `json:"ticker"`
		From, To string
	}{ticker, from.Format("2006-01-02"), to.Format("2006-01-02")})
	return cached(ctx, g, g.newsCache, g.newsLimiter, key, "company_news", func(ctx context.Context) ([]NewsArticle, error) {
		return g.newsProvider.CompanyNews(ctx, ticker, from, to)
	})
}

// MarketNews returns general market headlines for a category.
func (g *Gateway) MarketNews(ctx context.Context, category string) ([]NewsArticle, error) {
	if g.newsProvider == nil {
		return nil, errs.New(errs.KindUnavailable, "news provider not configured")
	}
	key := Fingerprint("market_news", category)
	return cached(ctx, g, g.newsCache, g.newsLimiter, key, "market_news", func(ctx context.Context) ([]NewsArticle, error) {
		return g.newsProvider.MarketNews(ctx, category)
	})
}

// Series returns FRED observations for a series within [start, end].
func (g *Gateway) Series(ctx context.Context, seriesID string, start, end time.Time) (*EconomicSeries, error) {
	if g.seriesProv == nil {
		return nil, errs.New(errs.KindUnavailable, "economic data provider not configured")
	}
	key := Fingerprint("series", struct {
		ID         string
		Start, End string
	}{seriesID, start.Format("2006-01-02"), end.Format("2006-01-02")})
	return cached(ctx, g, g.seriesCache, g.fredLimiter, key, "series", func(ctx context.Context) (*EconomicSeries, error) {
		return g.seriesProv.Series(ctx, seriesID, start, end)
	})
}

// FearGreedHistory returns up to days of daily index readings, oldest first.
func (g *Gateway) FearGreedHistory(ctx context.Context, days int) ([]FearGreedPoint, error) {
	if g.fgProvider == nil {
		return nil, errs.New(errs.KindUnavailable, "fear greed provider not configured")
	}
	key := Fingerprint("fear_greed", days)
	return cached(ctx, g, g.fgCache, g.fgLimiter, key, "fear_greed", func(ctx context.Context) ([]FearGreedPoint, error) {
		return g.fgProvider.History(ctx, days)
	})
}

// FearGreedCurrent returns the most recent daily index reading.
func (g *Gateway) FearGreedCurrent(ctx context.Context) (*FearGreedPoint, error) {
	points, err := g.FearGreedHistory(ctx, 7)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, errs.New(errs.KindUpstream, "no fear greed data returned")
	}
	latest := points[len(points)-1]
	return &latest, nil
}

// FearGreedMonthly returns the index history aggregated by calendar month.
func (g *Gateway) FearGreedMonthly(ctx context.Context, days int) ([]FearGreedMonth, error) {
	points, err := g.FearGreedHistory(ctx, days)
	if err != nil {
		return nil, err
	}
	return AggregateMonthly(points), nil
}

// SentimentSnapshot is a composite view of current market mood for a ticker.
type SentimentSnapshot struct {
	Ticker         string          `json:"ticker"`
	FearGreed      *FearGreedPoint `json:"fear_greed,omitempty"`
	NewsCount      int             `json:"news_count"`
	RecentHeadline string          `json:"recent_headline,omitempty"`
	WindowDays     int             `json:"window_days"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// Sentiment combines the latest fear and greed reading with the ticker's
// recent news volume. Either half may be missing when its provider is down
// or disabled; the snapshot degrades instead of failing outright, and only
// fails when both halves are unavailable.
func (g *Gateway) Sentiment(ctx context.Context, ticker string, windowDays int) (*SentimentSnapshot, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	snap := &SentimentSnapshot{Ticker: ticker, WindowDays: windowDays, FetchedAt: time.Now().UTC()}

	var fgErr, newsErr error
	if points, err := g.FearGreedHistory(ctx, windowDays); err != nil {
		fgErr = err
	} else if len(points) > 0 {
		latest := points[len(points)-1]
		snap.FearGreed = &latest
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -windowDays)
	if articles, err := g.CompanyNews(ctx, ticker, from, to); err != nil {
		newsErr = err
	} else {
		snap.NewsCount = len(articles)
		if len(articles) > 0 {
			snap.RecentHeadline = articles[0].Title
		}
	}

	if ctx.Err() != nil {
		return nil, errs.Wrap(errs.KindCanceled, "sentiment fetch canceled", ctx.Err())
	}
	if fgErr != nil && newsErr != nil {
		return nil, errs.Wrap(errs.KindUnavailable, fmt.Sprintf("sentiment sources unavailable (news: %v)", newsErr), fgErr)
	}
	return snap, nil
}

// Chat forwards a completion request to the LLM. Responses are never
// cached and failed calls are never retried.
func (g *Gateway) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResult, error) {
	if g.llm == nil {
		return nil, errs.New(errs.KindUnavailable, "llm not configured")
	}
	if err := g.llmLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return g.llm.Chat(ctx, model, messages, tools)
}
