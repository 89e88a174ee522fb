package econ

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "econ"

const (
	seriesTTL = 5 * time.Minute
	factsTTL  = 30 * time.Minute

	dateLayout = "2006-01-02"
)

// Concepts surfaced by company_financials, in output order.
var financialConcepts = []string{
	"Revenues",
	"RevenueFromContractWithCustomerExcludingAssessedTax",
	"NetIncomeLoss",
	"Assets",
	"Liabilities",
	"StockholdersEquity",
	"EarningsPerShareDiluted",
}

// Config carries the provider credentials.
type Config struct {
	FredAPIKey string
	Timeout    time.Duration
}

// Deps carries the shared infrastructure for this server.
type Deps struct {
	Config  Config
	Cache   *cache.TTLCache
	Limiter *ratelimit.Limiter
	Log     *observability.Logger
}

// Register adds the economic data tools to the registry.
func Register(r *agent.Registry, deps Deps) error {
	getter := newGetter(deps.Config.Timeout, deps.Limiter)
	fred := &fredClient{httpGetter: getter, apiKey: deps.Config.FredAPIKey, base: fredEndpoint}
	sec := &secClient{httpGetter: getter, factsBase: secFactsEndpoint, tickersURL: secTickersEndpoint}

	for _, t := range []agent.Tool{
		&FredSeriesTool{deps: deps, client: fred},
		&FredSearchTool{deps: deps, client: fred},
		&CompanyFinancialsTool{deps: deps, client: sec},
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

// FredSeriesTool returns observations for a FRED series. Under a research
// cutoff the observation_end argument arrives pre-capped by the
// invocation hook.
type FredSeriesTool struct {
	deps   Deps
	client *fredClient
}

func (t *FredSeriesTool) Name() string { return "fred_series" }

func (t *FredSeriesTool) Description() string {
	return "Get observations for a FRED economic data series by series id (e.g. UNRATE, CPIAUCSL)."
}

func (t *FredSeriesTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"series_id":         map[string]any{"type": "string"},
			"observation_start": map[string]any{"type": "string", "description": "First observation date (YYYY-MM-DD)."},
			"observation_end":   map[string]any{"type": "string", "description": "Last observation date (YYYY-MM-DD)."},
			"limit":             map[string]any{"type": "integer", "description": "Maximum observations (default 60, newest first)."},
		},
		"required": []string{"series_id"},
	})
}

func (t *FredSeriesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		SeriesID         string `json:"series_id"`
		ObservationStart string `json:"observation_start"`
		ObservationEnd   string `json:"observation_end"`
		Limit            int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.SeriesID == "" {
		return agent.NewToolError("series_id is required"), nil
	}
	if input.Limit <= 0 {
		input.Limit = 60
	}

	key := cache.Key("fred_series", map[string]any{
		"id": input.SeriesID, "start": input.ObservationStart,
		"end": input.ObservationEnd, "limit": input.Limit,
	})
	v, err := t.deps.Cache.GetOrFill(key, seriesTTL, func() (any, error) {
		obs, err := t.client.observations(ctx, input.SeriesID, input.ObservationStart, input.ObservationEnd, input.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"series_id": input.SeriesID, "observations": obs}, nil
	})
	if err != nil {
		return agent.NewToolError("fred lookup failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// FredSearchTool finds series ids by free-text search.
type FredSearchTool struct {
	deps   Deps
	client *fredClient
}

func (t *FredSearchTool) Name() string { return "fred_search" }

func (t *FredSearchTool) Description() string {
	return "Search FRED for economic data series by keyword. Returns series ids and metadata."
}

func (t *FredSearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum series (default 10)."},
		},
		"required": []string{"query"},
	})
}

func (t *FredSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Query == "" {
		return agent.NewToolError("query is required"), nil
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	key := cache.Key("fred_search", map[string]any{"query": input.Query, "limit": input.Limit})
	v, err := t.deps.Cache.GetOrFill(key, seriesTTL, func() (any, error) {
		return t.client.search(ctx, input.Query, input.Limit)
	})
	if err != nil {
		return agent.NewToolError("fred search failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// CompanyFinancialsTool surfaces annual fundamentals from SEC filings.
// Under a research cutoff, values reported for periods ending after the
// cutoff are dropped.
type CompanyFinancialsTool struct {
	deps   Deps
	client *secClient
}

func (t *CompanyFinancialsTool) Name() string { return "company_financials" }

func (t *CompanyFinancialsTool) Description() string {
	return "Get annual financial fundamentals (revenue, net income, assets) for a US-listed company by ticker."
}

func (t *CompanyFinancialsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ticker": map[string]any{"type": "string"},
		},
		"required": []string{"ticker"},
	})
}

func (t *CompanyFinancialsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Ticker string `json:"ticker"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Ticker == "" {
		return agent.NewToolError("ticker is required"), nil
	}

	cutoff, restricted := retrodict.Cutoff(ctx)
	cutoffDate := ""
	if restricted {
		cutoffDate = cutoff.Format(dateLayout)
	}

	key := cache.Key("company_financials", map[string]any{"ticker": input.Ticker, "cutoff": cutoffDate})
	v, err := t.deps.Cache.GetOrFill(key, factsTTL, func() (any, error) {
		cik, err := t.client.cik(ctx, input.Ticker)
		if err != nil {
			return nil, err
		}
		facts, err := t.client.facts(ctx, cik)
		if err != nil {
			return nil, err
		}

		out := map[string]any{"entity": facts.EntityName, "ticker": input.Ticker}
		concepts := map[string][]map[string]any{}
		for _, concept := range financialConcepts {
			fact, ok := facts.Facts.USGAAP[concept]
			if !ok {
				continue
			}
			var values []factValue
			for _, unitValues := range fact.Units {
				values = append(values, unitValues...)
			}
			annual := annualValues(values, cutoffDate, 4)
			if len(annual) == 0 {
				continue
			}
			rows := make([]map[string]any, 0, len(annual))
			for _, fv := range annual {
				rows = append(rows, map[string]any{
					"period_end": fv.End,
					"value":      fv.Value,
					"fiscal":     fv.FY,
				})
			}
			concepts[concept] = rows
		}
		out["annual"] = concepts
		return out, nil
	})
	if err != nil {
		return agent.NewToolError("company financials failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// annualValues keeps 10-K values ending on or before the cutoff (when set),
// newest first, capped at n.
func annualValues(values []factValue, cutoffDate string, n int) []factValue {
	var annual []factValue
	seen := map[string]bool{}
	for _, fv := range values {
		if fv.Form != "10-K" || fv.FP != "FY" {
			continue
		}
		if cutoffDate != "" && fv.End > cutoffDate {
			continue
		}
		if seen[fv.End] {
			continue
		}
		seen[fv.End] = true
		annual = append(annual, fv)
	}
	sort.Slice(annual, func(i, j int) bool { return annual[i].End > annual[j].End })
	if len(annual) > n {
		annual = annual[:n]
	}
	return annual
}
