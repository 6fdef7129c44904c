package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// FearGreedPoint is one daily reading of the market fear and greed index.
type FearGreedPoint struct {
	Date           string  `json:"date"` // YYYY-MM-DD
	Value          int     `json:"value"`
	Classification string  `json:"classification"`
	Raw            float64 `json:"-"`
}

// FearGreedMonth is the aggregated index for one calendar month.
type FearGreedMonth struct {
	Year           int    `json:"year"`
	Month          int    `json:"month"` // 1-12
	Value          int    `json:"value"`
	Classification string `json:"classification"`
	Days           int    `json:"days"`
}

// FearGreedProvider fetches the daily fear and greed history.
type FearGreedProvider interface {
	History(ctx context.Context, days int) ([]FearGreedPoint, error)
}

// Classify maps an index value to its sentiment band.
func Classify(value int) string {
	switch {
	case value <= 25:
		return "Extreme Fear"
	case value <= 45:
		return "Fear"
	case value <= 55:
		return "Neutral"
	case value <= 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

// AggregateMonthly groups daily points by calendar month and averages them.
// The mean is rounded half-up to an integer and reclassified, so a month's
// band always matches its displayed value. Output is ordered oldest first.
func AggregateMonthly(points []FearGreedPoint) []FearGreedMonth {
	type key struct {
		year  int
		month int
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for _, p := range points {
		t, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue
		}
		k := key{year: t.Year(), month: int(t.Month())}
		sums[k] += float64(p.Value)
		counts[k]++
	}

	months := make([]FearGreedMonth, 0, len(sums))
	for k, sum := range sums {
		mean := sum / float64(counts[k])
		value := int(mean + 0.5)
		months = append(months, FearGreedMonth{
			Year:           k.year,
			Month:          k.month,
			Value:          value,
			Classification: Classify(value),
			Days:           counts[k],
		})
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	return months
}

// CNNFearGreedProvider serves the index from CNN's graphdata endpoint.
type CNNFearGreedProvider struct {
	client *resty.Client
}

// NewCNNFearGreedProvider creates a CNN-backed provider. baseURL overrides
// the production endpoint for tests; empty means the real API.
func NewCNNFearGreedProvider(baseURL string, timeout time.Duration) *CNNFearGreedProvider {
	if baseURL == "" {
		baseURL = "https://production.dataviz.cnn.io/index/fearandgreed"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	// The endpoint rejects default library user agents.
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; tradecouncil/1.0)")

	return &CNNFearGreedProvider{client: client}
}

type cnnGraphData struct {
	FearAndGreedHistorical struct {
		Data []struct {
			X float64 `json:"x"` // epoch millis
			Y float64 `json:"y"` // index value
		} `json:"data"`
	} `json:"fear_and_greed_historical"`
}

// History fetches up to days of daily readings, oldest first.
func (p *CNNFearGreedProvider) History(ctx context.Context, days int) ([]FearGreedPoint, error) {
	start := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	resp, err := p.client.R().
		SetContext(ctx).
		Get("/graphdata/" + start)
	if err != nil {
		return nil, classifyRestyErr(ctx, "fear greed history", err)
	}
	if err := classifyStatus("cnn", resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	var raw cnnGraphData
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "failed to parse fear greed response", err)
	}

	points := make([]FearGreedPoint, 0, len(raw.FearAndGreedHistorical.Data))
	for _, d := range raw.FearAndGreedHistorical.Data {
		value := int(d.Y + 0.5)
		points = append(points, FearGreedPoint{
			Date:           time.UnixMilli(int64(d.X)).UTC().Format("2006-01-02"),
			Value:          value,
			Classification: Classify(value),
			Raw:            d.Y,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}
