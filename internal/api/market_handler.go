package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/validation"
)

const (
	maxBatchTickers = 50

	defaultFearGreedDays = 30
	maxFearGreedDays     = 2000

	defaultSentimentTicker = "SPY"
	sentimentWindowDays    = 7
)

// handleGetQuote returns the real-time quote for one ticker.
func (s *Server) handleGetQuote(c *gin.Context) {
	ticker, err := validation.ValidateTicker(c.Param("ticker"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	quote, err := s.market.Quote(c.Request.Context(), ticker)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, quote)
}

// handleGetQuotes returns quotes for up to 50 comma-separated tickers.
// Failures of individual tickers are reported per row, not as a batch error.
func (s *Server) handleGetQuotes(c *gin.Context) {
	raw := c.Query("tickers")
	if strings.TrimSpace(raw) == "" {
		s.respondError(c, errs.New(errs.KindInvalidArgument, "tickers query parameter is required"))
		return
	}

	var tickers []string
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ticker, err := validation.ValidateTicker(part)
		if err != nil {
			s.respondError(c, err)
			return
		}
		tickers = append(tickers, ticker)
	}
	if len(tickers) == 0 {
		s.respondError(c, errs.New(errs.KindInvalidArgument, "tickers query parameter is required"))
		return
	}
	if len(tickers) > maxBatchTickers {
		s.respondError(c, errs.Newf(errs.KindInvalidArgument, "at most %d tickers per request, got %d", maxBatchTickers, len(tickers)))
		return
	}

	results, err := s.market.Quotes(c.Request.Context(), tickers)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, results)
}

// handleFearGreedHistory returns the CNN fear and greed index history,
// daily or aggregated by calendar month.
func (s *Server) handleFearGreedHistory(c *gin.Context) {
	days := defaultFearGreedDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(c, errs.Newf(errs.KindInvalidArgument, "invalid days %q", raw))
			return
		}
		days = n
	}
	aggregation := c.DefaultQuery("aggregation", "daily")

	v := validation.NewValidator()
	v.Range("days", days, 1, maxFearGreedDays)
	v.OneOf("aggregation", aggregation, "daily", "monthly")
	if err := v.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	if aggregation == "monthly" {
		months, err := s.market.FearGreedMonthly(c.Request.Context(), days)
		if err != nil {
			s.respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, months)
		return
	}

	points, err := s.market.FearGreedHistory(c.Request.Context(), days)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, points)
}

// handleSentiment returns the composite market-mood snapshot. It answers 503
// only when every underlying source is unavailable.
func (s *Server) handleSentiment(c *gin.Context) {
	ticker := defaultSentimentTicker
	if raw := c.Query("ticker"); raw != "" {
		t, err := validation.ValidateTicker(raw)
		if err != nil {
			s.respondError(c, err)
			return
		}
		ticker = t
	}

	snapshot, err := s.market.Sentiment(c.Request.Context(), ticker, sentimentWindowDays)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, snapshot)
}
