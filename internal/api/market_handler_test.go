package api

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
)

func TestGetQuote(t *testing.T) {
	env := newTestEnv(t)
	env.market.quoteFn = func(ticker string) (*gateway.Quote, error) {
		return &gateway.Quote{Ticker: ticker, Price: 101.5, FetchedAt: time.Now().UTC()}, nil
	}

	w := env.do(t, "GET", "/api/v1/market/quote/aapl", "", nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var quote gateway.Quote
	decodeData(t, w, &quote)
	assert.Equal(t, "AAPL", quote.Ticker)
	assert.Equal(t, 101.5, quote.Price)
}

func TestGetQuoteInvalidTicker(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/market/quote/TOOLONGTICKER", "", nil)
	assert.Equal(t, 400, w.Code)
}

func TestGetQuoteProviderDisabled(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/market/quote/AAPL", "", nil)
	assert.Equal(t, 503, w.Code)
}

func TestGetQuoteUpstreamNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.market.quoteFn = func(ticker string) (*gateway.Quote, error) {
		return nil, errs.Newf(errs.KindNotFound, "no quote for %s", ticker)
	}

	w := env.do(t, "GET", "/api/v1/market/quote/ZZZZ", "", nil)
	assert.Equal(t, 404, w.Code)
}

func TestGetQuotesBatch(t *testing.T) {
	env := newTestEnv(t)
	env.market.quotesFn = func(tickers []string) ([]gateway.QuoteResult, error) {
		out := make([]gateway.QuoteResult, len(tickers))
		for i, ticker := range tickers {
			out[i] = gateway.QuoteResult{Ticker: ticker, Quote: &gateway.Quote{Ticker: ticker}}
		}
		return out, nil
	}

	w := env.do(t, "GET", "/api/v1/market/quotes?tickers=AAPL,msft,GOOG", "", nil)
	require.Equal(t, 200, w.Code)

	var results []gateway.QuoteResult
	decodeData(t, w, &results)
	require.Len(t, results, 3)
	assert.Equal(t, "MSFT", results[1].Ticker)
}

func TestGetQuotesValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/market/quotes", "", nil)
	assert.Equal(t, 400, w.Code, "tickers parameter required")

	w = env.do(t, "GET", "/api/v1/market/quotes?tickers=AAPL,NOT_A_TICKER!", "", nil)
	assert.Equal(t, 400, w.Code)

	many := make([]string, 51)
	for i := range many {
		many[i] = fmt.Sprintf("T%d", i)
	}
	w = env.do(t, "GET", "/api/v1/market/quotes?tickers="+strings.Join(many, ","), "", nil)
	assert.Equal(t, 400, w.Code, "batch capped at 50")
}

func TestFearGreedHistoryDaily(t *testing.T) {
	env := newTestEnv(t)
	env.market.historyFn = func(days int) ([]gateway.FearGreedPoint, error) {
		return []gateway.FearGreedPoint{
			{Date: "2025-01-19", Value: 30, Classification: "Fear"},
			{Date: "2025-01-20", Value: 60, Classification: "Greed"},
		}, nil
	}

	w := env.do(t, "GET", "/api/v1/market/fear-greed/history?days=2", "", nil)
	require.Equal(t, 200, w.Code)

	var points []gateway.FearGreedPoint
	decodeData(t, w, &points)
	require.Len(t, points, 2)
	assert.Equal(t, "Fear", points[0].Classification)
}

// A full month of identical values aggregates to a single monthly point
// carrying the mean and its classification.
func TestFearGreedHistoryMonthly(t *testing.T) {
	env := newTestEnv(t)
	env.market.historyFn = func(days int) ([]gateway.FearGreedPoint, error) {
		points := make([]gateway.FearGreedPoint, 31)
		for i := range points {
			points[i] = gateway.FearGreedPoint{
				Date:           fmt.Sprintf("2025-01-%02d", i+1),
				Value:          40,
				Classification: "Fear",
			}
		}
		return points, nil
	}

	w := env.do(t, "GET", "/api/v1/market/fear-greed/history?days=31&aggregation=monthly", "", nil)
	require.Equal(t, 200, w.Code)

	var months []gateway.FearGreedMonth
	decodeData(t, w, &months)
	require.Len(t, months, 1)
	assert.Equal(t, 2025, months[0].Year)
	assert.Equal(t, 1, months[0].Month)
	assert.Equal(t, 40, months[0].Value)
	assert.Equal(t, "Fear", months[0].Classification)
	assert.Equal(t, 31, months[0].Days)
}

func TestFearGreedHistoryValidation(t *testing.T) {
	env := newTestEnv(t)
	env.market.historyFn = func(days int) ([]gateway.FearGreedPoint, error) { return nil, nil }

	for _, path := range []string{
		"/api/v1/market/fear-greed/history?days=0",
		"/api/v1/market/fear-greed/history?days=2001",
		"/api/v1/market/fear-greed/history?days=abc",
		"/api/v1/market/fear-greed/history?aggregation=weekly",
	} {
		w := env.do(t, "GET", path, "", nil)
		assert.Equal(t, 400, w.Code, path)
	}
}

func TestSentiment(t *testing.T) {
	env := newTestEnv(t)
	env.market.sentimentFn = func(ticker string) (*gateway.SentimentSnapshot, error) {
		return &gateway.SentimentSnapshot{Ticker: ticker, NewsCount: 4, WindowDays: 7}, nil
	}

	w := env.do(t, "GET", "/api/v1/market/sentiment?ticker=TSLA", "", nil)
	require.Equal(t, 200, w.Code)

	var snap gateway.SentimentSnapshot
	decodeData(t, w, &snap)
	assert.Equal(t, "TSLA", snap.Ticker)
	assert.Equal(t, 4, snap.NewsCount)
}

func TestSentimentUnavailable(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/market/sentiment", "", nil)
	assert.Equal(t, 503, w.Code)
}
