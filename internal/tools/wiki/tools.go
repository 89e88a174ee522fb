package wiki

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/htmltext"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "wiki"

const (
	articleTTL = 5 * time.Minute

	summaryChars = 2000
	pageChars    = 24000
)

// Deps carries the shared infrastructure for this server.
type Deps struct {
	Cache   *cache.TTLCache
	Limiter *ratelimit.Limiter
	Log     *observability.Logger
	Timeout time.Duration
}

// Register adds the Wikipedia tools to the registry.
func Register(r *agent.Registry, deps Deps) error {
	c := newClient(deps.Timeout, deps.Limiter)
	for _, t := range []agent.Tool{
		&SearchTool{deps: deps, client: c},
		&SummaryTool{deps: deps, client: c},
		&PageTool{deps: deps, client: c},
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

// SearchTool finds candidate article titles.
type SearchTool struct {
	deps   Deps
	client *client
}

func (t *SearchTool) Name() string { return "search_wikipedia" }

func (t *SearchTool) Description() string {
	return "Search Wikipedia article titles. Returns titles and snippets."
}

func (t *SearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 10)."},
		},
		"required": []string{"query"},
	})
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
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

	key := cache.Key("search_wikipedia", map[string]any{"query": input.Query, "limit": input.Limit})
	v, err := t.deps.Cache.GetOrFill(key, articleTTL, func() (any, error) {
		return t.client.search(ctx, input.Query, input.Limit)
	})
	if err != nil {
		return agent.NewToolError("wikipedia search failed: %v", err), nil
	}

	hits := v.([]searchHit)
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{
			"title":   h.Title,
			"snippet": htmltext.Text(h.Snippet),
		})
	}
	return agent.JSONResult(out), nil
}

// SummaryTool returns the lead-section summary of an article. Under a
// research cutoff the article is pinned to its last pre-cutoff revision.
type SummaryTool struct {
	deps   Deps
	client *client
}

func (t *SummaryTool) Name() string { return "get_wikipedia_summary" }

func (t *SummaryTool) Description() string {
	return "Get the summary of a Wikipedia article by exact title."
}

func (t *SummaryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	})
}

func (t *SummaryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Title == "" {
		return agent.NewToolError("title is required"), nil
	}

	if cutoff, ok := retrodict.Cutoff(ctx); ok {
		return pinnedArticle(ctx, t.deps, t.client, input.Title, cutoff, summaryChars)
	}

	key := cache.Key("wikipedia_summary", map[string]any{"title": input.Title})
	v, err := t.deps.Cache.GetOrFill(key, articleTTL, func() (any, error) {
		return t.client.summary(ctx, input.Title)
	})
	if err != nil {
		return agent.NewToolError("wikipedia summary failed: %v", err), nil
	}
	s := v.(*pageSummary)
	return agent.JSONResult(map[string]any{
		"title":       s.Title,
		"description": s.Description,
		"extract":     htmltext.Truncate(s.Extract, summaryChars),
	}), nil
}

// PageTool returns the full readable text of an article, revision-pinned
// under a research cutoff.
type PageTool struct {
	deps   Deps
	client *client
}

func (t *PageTool) Name() string { return "get_wikipedia_page" }

func (t *PageTool) Description() string {
	return "Get the full text of a Wikipedia article by exact title."
}

func (t *PageTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	})
}

func (t *PageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Title == "" {
		return agent.NewToolError("title is required"), nil
	}

	if cutoff, ok := retrodict.Cutoff(ctx); ok {
		return pinnedArticle(ctx, t.deps, t.client, input.Title, cutoff, pageChars)
	}

	key := cache.Key("wikipedia_page", map[string]any{"title": input.Title})
	v, err := t.deps.Cache.GetOrFill(key, articleTTL, func() (any, error) {
		html, err := articleText(ctx, t.client, input.Title, 0)
		if err != nil {
			return nil, err
		}
		return html, nil
	})
	if err != nil {
		return agent.NewToolError("wikipedia page failed: %v", err), nil
	}
	return agent.JSONResult(map[string]any{
		"title": input.Title,
		"text":  htmltext.Truncate(v.(string), pageChars),
	}), nil
}

// pinnedArticle resolves the last revision at or before the cutoff and
// extracts that revision's text.
func pinnedArticle(ctx context.Context, deps Deps, c *client, title string, cutoff time.Time, maxChars int) (*agent.ToolResult, error) {
	key := cache.Key("wikipedia_pinned", map[string]any{
		"title":  title,
		"cutoff": cutoff.Format("2006-01-02"),
		"chars":  maxChars,
	})
	v, err := deps.Cache.GetOrFill(key, articleTTL, func() (any, error) {
		rev, err := c.revisionAt(ctx, title, cutoff)
		if err != nil {
			return nil, err
		}
		if rev == nil {
			return map[string]any{
				"title": title,
				"note":  "article has no revision on or before the research cutoff",
			}, nil
		}
		text, err := articleText(ctx, c, title, rev.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"title":              title,
			"revision_id":        rev.ID,
			"revision_timestamp": rev.Timestamp,
			"text":               htmltext.Truncate(text, maxChars),
		}, nil
	})
	if err != nil {
		return agent.NewToolError("wikipedia revision lookup failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

func articleText(ctx context.Context, c *client, title string, revID int64) (string, error) {
	html, err := c.pageHTML(ctx, title, revID)
	if err != nil {
		return "", err
	}
	return htmltext.Text(html), nil
}
