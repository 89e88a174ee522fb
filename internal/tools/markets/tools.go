package markets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "markets"

const (
	quoteTTL   = 5 * time.Minute
	historyTTL = 5 * time.Minute

	dateLayout = "2006-01-02"

	// defaultLookback bounds history windows when no start is given.
	defaultLookback = 90 * 24 * time.Hour
)

// Deps carries the shared infrastructure for this server.
type Deps struct {
	Cache   *cache.TTLCache
	Limiter *ratelimit.Limiter
	Log     *observability.Logger
	Timeout time.Duration
}

// Register adds the market tools to the registry.
func Register(r *agent.Registry, deps Deps) error {
	getter := newGetter(deps.Timeout, deps.Limiter)
	poly := &polymarketClient{httpGetter: getter, gammaBase: gammaEndpoint, clobBase: clobEndpoint}
	mani := &manifoldClient{httpGetter: getter, base: manifoldEndpoint}
	stock := &stockClient{httpGetter: getter, base: yahooEndpoint}

	for _, t := range []agent.Tool{
		&PolymarketPriceTool{deps: deps, client: poly},
		&PolymarketHistoryTool{deps: deps, client: poly},
		&ManifoldPriceTool{deps: deps, client: mani},
		&ManifoldHistoryTool{deps: deps, client: mani},
		&StockPriceTool{deps: deps, client: stock},
		&StockHistoryTool{deps: deps, client: stock},
	} {
		if err := r.Register(Namespace, t); err != nil {
			return err
		}
	}
	return nil
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// endWindow resolves an optional end_date argument into a [start, end)
// window. An empty end date means "now".
func endWindow(endDate string) (start, end time.Time, err error) {
	end = time.Now().UTC()
	if endDate != "" {
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// Include the whole end day.
		end = end.Add(24*time.Hour - time.Second)
	}
	return end.Add(-defaultLookback), end, nil
}

// PolymarketPriceTool returns the current outcome prices of a market.
type PolymarketPriceTool struct {
	deps   Deps
	client *polymarketClient
}

func (t *PolymarketPriceTool) Name() string { return "polymarket_price" }

func (t *PolymarketPriceTool) Description() string {
	return "Get current Polymarket outcome prices for a market by slug."
}

func (t *PolymarketPriceTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"market_slug": map[string]any{"type": "string", "description": "Market slug from the polymarket.com URL."},
		},
		"required": []string{"market_slug"},
	})
}

func (t *PolymarketPriceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		MarketSlug string `json:"market_slug"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.MarketSlug == "" {
		return agent.NewToolError("market_slug is required"), nil
	}
	if retrodict.Active(ctx) {
		return agent.NewToolError("live market prices are not available under the research cutoff"), nil
	}

	key := cache.Key("polymarket_price", map[string]any{"slug": input.MarketSlug})
	v, err := t.deps.Cache.GetOrFill(key, quoteTTL, func() (any, error) {
		m, err := t.client.market(ctx, input.MarketSlug)
		if err != nil {
			return nil, err
		}
		outcomes, prices, _ := m.decode()
		quoted := make([]map[string]string, 0, len(outcomes))
		for i, o := range outcomes {
			price := ""
			if i < len(prices) {
				price = prices[i]
			}
			quoted = append(quoted, map[string]string{"outcome": o, "price": price})
		}
		return map[string]any{
			"question": m.Question,
			"closed":   m.Closed,
			"end_date": m.EndDate,
			"prices":   quoted,
		}, nil
	})
	if err != nil {
		return agent.NewToolError("polymarket lookup failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// PolymarketHistoryTool returns the price series of a market's first
// outcome token up to end_date.
type PolymarketHistoryTool struct {
	deps   Deps
	client *polymarketClient
}

func (t *PolymarketHistoryTool) Name() string { return "polymarket_price_history" }

func (t *PolymarketHistoryTool) Description() string {
	return "Get historical Polymarket prices for a market by slug, up to an end date."
}

func (t *PolymarketHistoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"market_slug": map[string]any{"type": "string"},
			"end_date":    map[string]any{"type": "string", "description": "Last date of the series (YYYY-MM-DD, default today)."},
		},
		"required": []string{"market_slug"},
	})
}

func (t *PolymarketHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		MarketSlug string `json:"market_slug"`
		EndDate    string `json:"end_date"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.MarketSlug == "" {
		return agent.NewToolError("market_slug is required"), nil
	}
	start, end, err := endWindow(input.EndDate)
	if err != nil {
		return agent.NewToolError("invalid end_date: %v", err), nil
	}

	key := cache.Key("polymarket_history", map[string]any{"slug": input.MarketSlug, "end": input.EndDate})
	v, err := t.deps.Cache.GetOrFill(key, historyTTL, func() (any, error) {
		m, err := t.client.market(ctx, input.MarketSlug)
		if err != nil {
			return nil, err
		}
		_, _, tokens := m.decode()
		if len(tokens) == 0 {
			return map[string]any{"question": m.Question, "note": "market has no tradable tokens"}, nil
		}
		points, err := t.client.history(ctx, tokens[0], start, end)
		if err != nil {
			return nil, err
		}
		series := make([]map[string]any, 0, len(points))
		for _, p := range points {
			series = append(series, map[string]any{
				"date":  time.Unix(p.Time, 0).UTC().Format(dateLayout),
				"price": p.Price,
			})
		}
		return map[string]any{"question": m.Question, "history": series}, nil
	})
	if err != nil {
		return agent.NewToolError("polymarket history failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// ManifoldPriceTool returns the current probability of a market.
type ManifoldPriceTool struct {
	deps   Deps
	client *manifoldClient
}

func (t *ManifoldPriceTool) Name() string { return "manifold_price" }

func (t *ManifoldPriceTool) Description() string {
	return "Get the current Manifold Markets probability for a market by slug."
}

func (t *ManifoldPriceTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"market_slug": map[string]any{"type": "string", "description": "Market slug from the manifold.markets URL."},
		},
		"required": []string{"market_slug"},
	})
}

func (t *ManifoldPriceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		MarketSlug string `json:"market_slug"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.MarketSlug == "" {
		return agent.NewToolError("market_slug is required"), nil
	}
	if retrodict.Active(ctx) {
		return agent.NewToolError("live market prices are not available under the research cutoff"), nil
	}

	key := cache.Key("manifold_price", map[string]any{"slug": input.MarketSlug})
	v, err := t.deps.Cache.GetOrFill(key, quoteTTL, func() (any, error) {
		m, err := t.client.market(ctx, input.MarketSlug)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"question":    m.Question,
			"probability": m.Probability,
			"resolved":    m.IsResolved,
			"resolution":  m.Resolution,
		}, nil
	})
	if err != nil {
		return agent.NewToolError("manifold lookup failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// ManifoldHistoryTool reconstructs the probability series from the bet
// stream, truncated at end_date.
type ManifoldHistoryTool struct {
	deps   Deps
	client *manifoldClient
}

func (t *ManifoldHistoryTool) Name() string { return "manifold_price_history" }

func (t *ManifoldHistoryTool) Description() string {
	return "Get historical Manifold probabilities for a market by slug, up to an end date."
}

func (t *ManifoldHistoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"market_slug": map[string]any{"type": "string"},
			"end_date":    map[string]any{"type": "string", "description": "Last date of the series (YYYY-MM-DD, default today)."},
		},
		"required": []string{"market_slug"},
	})
}

func (t *ManifoldHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		MarketSlug string `json:"market_slug"`
		EndDate    string `json:"end_date"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.MarketSlug == "" {
		return agent.NewToolError("market_slug is required"), nil
	}
	_, end, err := endWindow(input.EndDate)
	if err != nil {
		return agent.NewToolError("invalid end_date: %v", err), nil
	}

	key := cache.Key("manifold_history", map[string]any{"slug": input.MarketSlug, "end": input.EndDate})
	v, err := t.deps.Cache.GetOrFill(key, historyTTL, func() (any, error) {
		bets, err := t.client.bets(ctx, input.MarketSlug, 500)
		if err != nil {
			return nil, err
		}
		endMillis := end.UnixMilli()
		series := make([]map[string]any, 0, len(bets))
		for _, b := range bets {
			if b.CreatedTime > endMillis {
				continue
			}
			series = append(series, map[string]any{
				"time":        time.UnixMilli(b.CreatedTime).UTC().Format(time.RFC3339),
				"probability": b.ProbAfter,
			})
		}
		return map[string]any{"history": series}, nil
	})
	if err != nil {
		return agent.NewToolError("manifold history failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// StockPriceTool returns the latest quote for a ticker.
type StockPriceTool struct {
	deps   Deps
	client *stockClient
}

func (t *StockPriceTool) Name() string { return "stock_price" }

func (t *StockPriceTool) Description() string {
	return "Get the latest stock or index price for a ticker symbol."
}

func (t *StockPriceTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ticker": map[string]any{"type": "string", "description": "Ticker symbol, e.g. AAPL or ^GSPC."},
		},
		"required": []string{"ticker"},
	})
}

func (t *StockPriceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Ticker string `json:"ticker"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Ticker == "" {
		return agent.NewToolError("ticker is required"), nil
	}
	if retrodict.Active(ctx) {
		return agent.NewToolError("live stock prices are not available under the research cutoff"), nil
	}

	key := cache.Key("stock_price", map[string]any{"ticker": input.Ticker})
	v, err := t.deps.Cache.GetOrFill(key, quoteTTL, func() (any, error) {
		now := time.Now().UTC()
		resp, err := t.client.chart(ctx, input.Ticker, now.Add(-7*24*time.Hour), now)
		if err != nil {
			return nil, err
		}
		meta := resp.Chart.Result[0].Meta
		return map[string]any{
			"symbol":   meta.Symbol,
			"currency": meta.Currency,
			"price":    meta.RegularMarketPrice,
		}, nil
	})
	if err != nil {
		return agent.NewToolError("stock quote failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// StockHistoryTool returns daily closes up to end_date.
type StockHistoryTool struct {
	deps   Deps
	client *stockClient
}

func (t *StockHistoryTool) Name() string { return "stock_price_history" }

func (t *StockHistoryTool) Description() string {
	return "Get daily closing prices for a ticker symbol, up to an end date."
}

func (t *StockHistoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ticker":   map[string]any{"type": "string"},
			"end_date": map[string]any{"type": "string", "description": "Last date of the series (YYYY-MM-DD, default today)."},
		},
		"required": []string{"ticker"},
	})
}

func (t *StockHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Ticker  string `json:"ticker"`
		EndDate string `json:"end_date"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Ticker == "" {
		return agent.NewToolError("ticker is required"), nil
	}
	start, end, err := endWindow(input.EndDate)
	if err != nil {
		return agent.NewToolError("invalid end_date: %v", err), nil
	}

	key := cache.Key("stock_history", map[string]any{"ticker": input.Ticker, "end": input.EndDate})
	v, err := t.deps.Cache.GetOrFill(key, historyTTL, func() (any, error) {
		resp, err := t.client.chart(ctx, input.Ticker, start, end)
		if err != nil {
			return nil, err
		}
		result := resp.Chart.Result[0]
		var closes []float64
		if len(result.Indicators.Quote) > 0 {
			closes = result.Indicators.Quote[0].Close
		}
		series := make([]map[string]any, 0, len(result.Timestamp))
		for i, ts := range result.Timestamp {
			if i >= len(closes) {
				break
			}
			series = append(series, map[string]any{
				"date":  time.Unix(ts, 0).UTC().Format(dateLayout),
				"close": closes[i],
			})
		}
		return map[string]any{"symbol": result.Meta.Symbol, "history": series}, nil
	})
	if err != nil {
		return agent.NewToolError("stock history failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}
