package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// NewsArticle is a normalized headline from any news source.
type NewsArticle struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Category    string    `json:"category,omitempty"`
	Related     string    `json:"related,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsProvider fetches company and market headlines.
type NewsProvider interface {
	CompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsArticle, error)
	MarketNews(ctx context.Context, category string) ([]NewsArticle, error)
}

// FinnhubProvider serves news from the Finnhub REST API.
type FinnhubProvider struct {
	client *resty.Client
	apiKey string
}

// NewFinnhubProvider creates a Finnhub client. baseURL overrides the
// production endpoint for tests; empty means the real API.
func NewFinnhubProvider(apiKey, baseURL string, timeout time.Duration) *FinnhubProvider {
	if baseURL == "" {
		baseURL = "https://finnhub.io/api/v1"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &FinnhubProvider{client: client, apiKey: apiKey}
}

type finnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// CompanyNews fetches headlines for a ticker within [from, to].
func (p *FinnhubProvider) CompanyNews(ctx context.Context, ticker string, from, to time.Time) ([]NewsArticle, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": ticker,
			"from":   from.Format("2006-01-02"),
			"to":     to.Format("2006-01-02"),
			"token":  p.apiKey,
		}).
		Get("/company-news")
	if err != nil {
		return nil, classifyRestyErr(ctx, "finnhub company news", err)
	}
	return p.parseNews(resp)
}

// MarketNews fetches general market headlines for a category.
func (p *FinnhubProvider) MarketNews(ctx context.Context, category string) ([]NewsArticle, error) {
	if category == "" {
		category = "general"
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": category,
			"token":    p.apiKey,
		}).
		Get("/news")
	if err != nil {
		return nil, classifyRestyErr(ctx, "finnhub market news", err)
	}
	return p.parseNews(resp)
}

func (p *FinnhubProvider) parseNews(resp *resty.Response) ([]NewsArticle, error) {
	if err := classifyStatus("finnhub", resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	var raw []finnhubNews
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "failed to parse finnhub response", err)
	}

	articles := make([]NewsArticle, 0, len(raw))
	for _, n := range raw {
		articles = append(articles, NewsArticle{
			Title:       n.Headline,
			Summary:     n.Summary,
			URL:         n.URL,
			Source:      n.Source,
			Category:    n.Category,
			Related:     n.Related,
			PublishedAt: time.Unix(n.DateTime, 0).UTC(),
		})
	}
	return articles, nil
}

// classifyRestyErr maps a transport-level resty error to an error kind.
func classifyRestyErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindCanceled, op+" canceled", ctx.Err())
	}
	return errs.Wrap(errs.KindTimeout, op+" request failed", err)
}

// classifyStatus maps an upstream HTTP status to an error kind, nil on 200.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return errs.Newf(errs.KindRateLimited, "%s rate limited: %s", provider, body)
	case status == http.StatusNotFound:
		return errs.Newf(errs.KindNotFound, "%s resource not found", provider)
	case status >= 500:
		return errs.Newf(errs.KindUpstream, "%s error (status %d): %s", provider, status, body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Newf(errs.KindUnavailable, "%s auth rejected", provider)
	default:
		return errs.Newf(errs.KindInvalidArgument, "%s rejected request (status %d): %s", provider, status, body)
	}
}
