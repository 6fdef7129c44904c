package gateway

import (
	"context"
	"time"

	"github.com/piquette/finance-go/quote"
	"golang.org/x/sync/errgroup"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// Quote is a point-in-time market snapshot for one ticker.
type Quote struct {
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	MarketState   string    `json:"market_state"`
	Exchange      string    `json:"exchange"`
	Currency      string    `json:"currency"`
	ShortName     string    `json:"short_name"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// QuoteResult carries one ticker's outcome inside a batch response.
// Err is a message rather than an error so the batch marshals cleanly.
type QuoteResult struct {
	Ticker string `json:"ticker"`
	Quote  *Quote `json:"quote,omitempty"`
	Err    string `json:"error,omitempty"`
}

// QuoteProvider fetches live quotes for equity tickers.
type QuoteProvider interface {
	Quote(ctx context.Context, ticker string) (*Quote, error)
}

// YahooQuoteProvider serves quotes from Yahoo Finance.
type YahooQuoteProvider struct{}

// NewYahooQuoteProvider creates a Yahoo-backed quote provider.
func NewYahooQuoteProvider() *YahooQuoteProvider {
	return &YahooQuoteProvider{}
}

// Quote fetches the current quote for ticker. The underlying client has no
// context support, so the call runs in a goroutine and the caller's cancel
// abandons it.
func (p *YahooQuoteProvider) Quote(ctx context.Context, ticker string) (*Quote, error) {
	type outcome struct {
		q   *Quote
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		q, err := quote.Get(ticker)
		if err != nil {
			ch <- outcome{err: errs.Wrap(errs.KindUpstream, "yahoo quote fetch failed", err)}
			return
		}
		if q == nil {
			ch <- outcome{err: errs.Newf(errs.KindNotFound, "no quote for ticker %s", ticker)}
			return
		}
		ch <- outcome{q: &Quote{
			Ticker:        ticker,
			Price:         q.RegularMarketPrice,
			Open:          q.RegularMarketOpen,
			High:          q.RegularMarketDayHigh,
			Low:           q.RegularMarketDayLow,
			PreviousClose: q.RegularMarketPreviousClose,
			Change:        q.RegularMarketChange,
			ChangePercent: q.RegularMarketChangePercent,
			Volume:        int64(q.RegularMarketVolume),
			MarketState:   string(q.MarketState),
			Exchange:      q.FullExchangeName,
			Currency:      q.CurrencyID,
			ShortName:     q.ShortName,
			FetchedAt:     time.Now().UTC(),
		}}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCanceled, "quote fetch canceled", ctx.Err())
	case out := <-ch:
		return out.q, out.err
	}
}

// quotes fans a batch out across the provider with bounded concurrency.
// Per-ticker failures land in the result row; only a caller cancel aborts
// the whole batch.
func (g *Gateway) quotes(ctx context.Context, tickers []string, fanout int) ([]QuoteResult, error) {
	results := make([]QuoteResult, len(tickers))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fanout)
	for i, ticker := range tickers {
		eg.Go(func() error {
			q, err := g.Quote(egCtx, ticker)
			if err != nil {
				if errs.KindOf(err) == errs.KindCanceled {
					return err
				}
				results[i] = QuoteResult{Ticker: ticker, Err: err.Error()}
				return nil
			}
			results[i] = QuoteResult{Ticker: ticker, Quote: q}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
