package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/gateway"
)

// Tool binds one callable capability: its declaration for the model and
// the function that executes it. Run returns the tool result as text that
// is fed back to the model.
type Tool struct {
	Def gateway.ToolDef
	Run func(ctx context.Context, args json.RawMessage) (string, error)
}

// Toolset is the capability set bound to one agent step. The agent may
// only invoke tools present here.
type Toolset map[string]Tool

// Defs returns the tool declarations in a stable order for the LLM request.
func (ts Toolset) Defs() []gateway.ToolDef {
	if len(ts) == 0 {
		return nil
	}
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]gateway.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, ts[name].Def)
	}
	return defs
}

// Dispatch executes one model-requested tool call and wraps the outcome as
// a tool message. An unknown tool name or a tool error is reported back to
// the model as text rather than failing the step; only a context cancel
// aborts.
func (ts Toolset) Dispatch(ctx context.Context, call gateway.ToolCall) (gateway.Message, error) {
	msg := gateway.Message{Role: "tool", Name: call.Name, ToolCallID: call.ID}

	tool, ok := ts[call.Name]
	if !ok {
		msg.Content = fmt.Sprintf("error: tool %q is not available", call.Name)
		return msg, nil
	}

	result, err := tool.Run(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		if errs.KindOf(err) == errs.KindCanceled {
			return msg, err
		}
		log.Warn().Err(err).Str("tool", call.Name).Msg("Tool call failed")
		msg.Content = fmt.Sprintf("error: %v", err)
		return msg, nil
	}
	msg.Content = result
	return msg, nil
}

// marketTicker is the common argument shape for ticker-scoped tools.
type marketTicker struct {
	Ticker string `json:"ticker"`
}

func tickerParam() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ticker": map[string]any{"type": "string", "description": "Equity ticker symbol, e.g. AAPL"},
		},
		"required": []string{"ticker"},
	}
}

func marshalResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "failed to encode tool result", err)
	}
	return string(data), nil
}

// OnlineTools is the full capability set for agents allowed to reach live
// data sources. defaultTicker seeds tool calls whose arguments omit the
// ticker.
func OnlineTools(gw *gateway.Gateway, defaultTicker string) Toolset {
	resolveTicker := func(args json.RawMessage) string {
		var in marketTicker
		if err := json.Unmarshal(args, &in); err == nil && in.Ticker != "" {
			return in.Ticker
		}
		return defaultTicker
	}

	return Toolset{
		"get_quote": {
			Def: gateway.ToolDef{
				Name:        "get_quote",
				Description: "Fetch the current market quote for an equity ticker.",
				Parameters:  tickerParam(),
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				q, err := gw.Quote(ctx, resolveTicker(args))
				if err != nil {
					return "", err
				}
				return marshalResult(q)
			},
		},
		"get_company_news": {
			Def: gateway.ToolDef{
				Name:        "get_company_news",
				Description: "Fetch recent news headlines for an equity ticker (last 7 days).",
				Parameters:  tickerParam(),
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				to := time.Now().UTC()
				articles, err := gw.CompanyNews(ctx, resolveTicker(args), to.AddDate(0, 0, -7), to)
				if err != nil {
					return "", err
				}
				if len(articles) > 20 {
					articles = articles[:20]
				}
				return marshalResult(articles)
			},
		},
		"get_market_news": {
			Def: gateway.ToolDef{
				Name:        "get_market_news",
				Description: "Fetch general market headlines.",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				articles, err := gw.MarketNews(ctx, "general")
				if err != nil {
					return "", err
				}
				if len(articles) > 20 {
					articles = articles[:20]
				}
				return marshalResult(articles)
			},
		},
		"get_economic_series": {
			Def: gateway.ToolDef{
				Name:        "get_economic_series",
				Description: "Fetch a FRED economic data series (e.g. DGS10, CPIAUCSL, UNRATE) for the last year.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"series_id": map[string]any{"type": "string", "description": "FRED series identifier"},
					},
					"required": []string{"series_id"},
				},
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				var in struct {
					SeriesID string `json:"series_id"`
				}
				if err := json.Unmarshal(args, &in); err != nil || in.SeriesID == "" {
					return "", errs.New(errs.KindInvalidArgument, "series_id is required")
				}
				end := time.Now().UTC()
				series, err := gw.Series(ctx, in.SeriesID, end.AddDate(-1, 0, 0), end)
				if err != nil {
					return "", err
				}
				// Recent observations carry the signal; cap the payload.
				if n := len(series.Observations); n > 60 {
					series.Observations = series.Observations[n-60:]
				}
				return marshalResult(series)
			},
		},
		"get_fear_greed": {
			Def: gateway.ToolDef{
				Name:        "get_fear_greed",
				Description: "Fetch the current market fear and greed index reading.",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				point, err := gw.FearGreedCurrent(ctx)
				if err != nil {
					return "", err
				}
				return marshalResult(point)
			},
		},
		"get_sentiment": {
			Def: gateway.ToolDef{
				Name:        "get_sentiment",
				Description: "Fetch a composite sentiment snapshot for an equity ticker.",
				Parameters:  tickerParam(),
			},
			Run: func(ctx context.Context, args json.RawMessage) (string, error) {
				snap, err := gw.Sentiment(ctx, resolveTicker(args), 7)
				if err != nil {
					return "", err
				}
				return marshalResult(snap)
			},
		},
	}
}

// OfflineTools is the capability set for runs configured without live data
// access. Agents work from the session state alone; no tool may reach the
// network.
func OfflineTools() Toolset {
	return Toolset{}
}

// ToolsForRole narrows the full set to what each role actually needs. Debate
// and manager roles argue over material already in the state and get no
// tools.
func ToolsForRole(role Role, full Toolset) Toolset {
	var names []string
	switch role {
	case RoleMarketAnalyst:
		names = []string{"get_quote", "get_economic_series"}
	case RoleSocialAnalyst:
		names = []string{"get_sentiment", "get_fear_greed"}
	case RoleNewsAnalyst:
		names = []string{"get_company_news", "get_market_news"}
	case RoleFundamentalsAnalyst:
		names = []string{"get_quote", "get_company_news"}
	case RoleBenGraham, RoleWarrenBuffett:
		names = []string{"get_quote"}
	default:
		return Toolset{}
	}

	out := make(Toolset, len(names))
	for _, name := range names {
		if tool, ok := full[name]; ok {
			out[name] = tool
		}
	}
	return out
}
