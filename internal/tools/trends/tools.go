package trends

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "trends"

const (
	trendsTTL = 5 * time.Minute

	defaultTimeframe = "today 12-m"
)

// Deps carries the shared infrastructure for this server.
type Deps struct {
	Cache   *cache.TTLCache
	Limiter *ratelimit.Limiter
	Log     *observability.Logger
	Timeout time.Duration
}

// Register adds the search-interest tools to the registry.
func Register(r *agent.Registry, deps Deps) error {
	c := newClient(deps.Timeout, deps.Limiter)
	for _, t := range []agent.Tool{
		&InterestTool{deps: deps, client: c},
		&CompareTool{deps: deps, client: c},
		&RelatedTool{deps: deps, client: c},
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

// interestSeries resolves a timeline for a keyword set. Under a research
// cutoff the timeframe argument arrives already rewritten to an explicit
// pre-cutoff date range by the invocation hook.
func interestSeries(ctx context.Context, deps Deps, c *client, keywords []string, timeframe string) (any, error) {
	key := cache.Key("google_trends", map[string]any{"keywords": keywords, "timeframe": timeframe})
	return deps.Cache.GetOrFill(key, trendsTTL, func() (any, error) {
		widgets, err := c.explore(ctx, keywords, timeframe)
		if err != nil {
			return nil, err
		}
		w, ok := findWidget(widgets, "TIMESERIES")
		if !ok {
			return nil, errNoWidget("TIMESERIES")
		}
		points, err := c.timeline(ctx, w)
		if err != nil {
			return nil, err
		}
		series := make([]map[string]any, 0, len(points))
		for _, p := range points {
			series = append(series, map[string]any{
				"time":   p.FormattedTime,
				"values": p.Value,
			})
		}
		return map[string]any{
			"keywords":  keywords,
			"timeframe": timeframe,
			"interest":  series,
		}, nil
	})
}

type errNoWidget string

func (e errNoWidget) Error() string { return "trends response missing " + string(e) + " widget" }

// InterestTool returns interest-over-time for a single keyword.
type InterestTool struct {
	deps   Deps
	client *client
}

func (t *InterestTool) Name() string { return "google_trends" }

func (t *InterestTool) Description() string {
	return "Get Google Trends search interest over time for a keyword (0-100 scale)."
}

func (t *InterestTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword":   map[string]any{"type": "string"},
			"timeframe": map[string]any{"type": "string", "description": "e.g. 'now 7-d', 'today 12-m', 'today 5-y', or 'YYYY-MM-DD YYYY-MM-DD'."},
		},
		"required": []string{"keyword"},
	})
}

func (t *InterestTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Keyword   string `json:"keyword"`
		Timeframe string `json:"timeframe"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Keyword == "" {
		return agent.NewToolError("keyword is required"), nil
	}
	if input.Timeframe == "" {
		input.Timeframe = defaultTimeframe
	}

	v, err := interestSeries(ctx, t.deps, t.client, []string{input.Keyword}, input.Timeframe)
	if err != nil {
		return agent.NewToolError("trends lookup failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// CompareTool returns relative interest for up to five keywords.
type CompareTool struct {
	deps   Deps
	client *client
}

func (t *CompareTool) Name() string { return "google_trends_compare" }

func (t *CompareTool) Description() string {
	return "Compare Google Trends search interest across up to 5 keywords on a shared 0-100 scale."
}

func (t *CompareTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keywords":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeframe": map[string]any{"type": "string"},
		},
		"required": []string{"keywords"},
	})
}

func (t *CompareTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Keywords  []string `json:"keywords"`
		Timeframe string   `json:"timeframe"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if len(input.Keywords) == 0 {
		return agent.NewToolError("keywords is required"), nil
	}
	if len(input.Keywords) > 5 {
		return agent.NewToolError("at most 5 keywords can be compared"), nil
	}
	if input.Timeframe == "" {
		input.Timeframe = defaultTimeframe
	}

	v, err := interestSeries(ctx, t.deps, t.client, input.Keywords, input.Timeframe)
	if err != nil {
		return agent.NewToolError("trends comparison failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// RelatedTool returns top related queries for a keyword.
type RelatedTool struct {
	deps   Deps
	client *client
}

func (t *RelatedTool) Name() string { return "google_trends_related" }

func (t *RelatedTool) Description() string {
	return "Get top related Google Trends queries for a keyword."
}

func (t *RelatedTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword":   map[string]any{"type": "string"},
			"timeframe": map[string]any{"type": "string"},
		},
		"required": []string{"keyword"},
	})
}

func (t *RelatedTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Keyword   string `json:"keyword"`
		Timeframe string `json:"timeframe"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Keyword == "" {
		return agent.NewToolError("keyword is required"), nil
	}
	if input.Timeframe == "" {
		input.Timeframe = defaultTimeframe
	}

	key := cache.Key("google_trends_related", map[string]any{"keyword": input.Keyword, "timeframe": input.Timeframe})
	v, err := t.deps.Cache.GetOrFill(key, trendsTTL, func() (any, error) {
		widgets, err := t.client.explore(ctx, []string{input.Keyword}, input.Timeframe)
		if err != nil {
			return nil, err
		}
		w, ok := findWidget(widgets, "RELATED_QUERIES")
		if !ok {
			return nil, errNoWidget("RELATED_QUERIES")
		}
		queries, err := t.client.related(ctx, w)
		if err != nil {
			return nil, err
		}
		return map[string]any{"keyword": input.Keyword, "related": queries}, nil
	})
	if err != nil {
		return agent.NewToolError("related queries failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}
