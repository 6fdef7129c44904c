package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// SeriesPoint is one dated observation of an economic series.
type SeriesPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

// EconomicSeries is a named run of observations, oldest first.
type EconomicSeries struct {
	SeriesID     string        `json:"series_id"`
	Units        string        `json:"units,omitempty"`
	Observations []SeriesPoint `json:"observations"`
}

// SeriesProvider fetches economic data series.
type SeriesProvider interface {
	Series(ctx context.Context, seriesID string, start, end time.Time) (*EconomicSeries, error)
}

// FREDProvider serves series from the St. Louis Fed FRED API.
type FREDProvider struct {
	client *resty.Client
	apiKey string
}

// NewFREDProvider creates a FRED client. baseURL overrides the production
// endpoint for tests; empty means the real API.
func NewFREDProvider(apiKey, baseURL string, timeout time.Duration) *FREDProvider {
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &FREDProvider{client: client, apiKey: apiKey}
}

type fredResponse struct {
	Units        string `json:"units"`
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Series fetches observations for seriesID within [start, end]. FRED marks
// missing observations with "."; those are dropped.
func (p *FREDProvider) Series(ctx context.Context, seriesID string, start, end time.Time) (*EconomicSeries, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"series_id":         seriesID,
			"api_key":           p.apiKey,
			"file_type":         "json",
			"observation_start": start.Format("2006-01-02"),
			"observation_end":   end.Format("2006-01-02"),
			"sort_order":        "asc",
		}).
		Get("/series/observations")
	if err != nil {
		return nil, classifyRestyErr(ctx, "fred series", err)
	}
	if err := classifyStatus("fred", resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	var raw fredResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "failed to parse fred response", err)
	}

	series := &EconomicSeries{SeriesID: seriesID, Units: raw.Units}
	for _, obs := range raw.Observations {
		if obs.Value == "." {
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		series.Observations = append(series.Observations, SeriesPoint{Date: obs.Date, Value: v})
	}
	return series, nil
}
