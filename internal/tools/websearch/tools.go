package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/htmltext"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "websearch"

const (
	searchTTL = 5 * time.Minute

	// snippetChars bounds the text carried per result.
	snippetChars = 500
)

// Config carries the search provider credentials.
type Config struct {
	ExaKey          string
	AskNewsClientID string
	AskNewsSecret   string
	Timeout         time.Duration
}

// Deps carries the shared infrastructure for this server.
type Deps struct {
	Config  Config
	Cache   *cache.TTLCache
	Limiter *ratelimit.Limiter
	Wayback *retrodict.Wayback
	Log     *observability.Logger
}

// Register adds the search tools to the registry. Tools whose credentials
// are missing are still registered; the policy layer controls exposure.
func Register(r *agent.Registry, deps Deps) error {
	exa := newExaClient(deps.Config.ExaKey, deps.Config.Timeout, deps.Limiter)
	news := newAskNewsClient(deps.Config.AskNewsClientID, deps.Config.AskNewsSecret, deps.Config.Timeout, deps.Limiter)

	tools := []agent.Tool{
		&SearchExaTool{deps: deps, exa: exa},
		&SearchNewsTool{deps: deps, news: news},
		&RetrodictSearchTool{deps: deps, exa: exa},
	}
	for _, t := range tools {
		if err := r.Register(Namespace, t); err != nil {
			return err
		}
	}
	return nil
}

// searchHit is the wire shape returned to the model.
type searchHit struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"published_date,omitempty"`
	Snippet       string `json:"snippet,omitempty"`
	Archived      bool   `json:"archived,omitempty"`
}

// SearchExaTool queries the Exa search API. In retrodict mode the
// pre-invocation hook injects published_before and disables live crawling;
// the tool then drops undatable or post-cutoff results and swaps surviving
// snippets for archived text.
type SearchExaTool struct {
	deps Deps
	exa  *exaClient
}

func (t *SearchExaTool) Name() string { return "search_exa" }

func (t *SearchExaTool) Description() string {
	return "Search the web. Returns titles, URLs, publication dates, and text snippets."
}

func (t *SearchExaTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":            map[string]any{"type": "string"},
			"limit":            map[string]any{"type": "integer", "description": "Maximum results (default 10)."},
			"published_before": map[string]any{"type": "string", "description": "Only results published on or before this date (YYYY-MM-DD)."},
			"livecrawl":        map[string]any{"type": "string", "description": "Live crawl mode: always, never, fallback."},
		},
		"required": []string{"query"},
	})
}

func (t *SearchExaTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query           string `json:"query"`
		Limit           int    `json:"limit"`
		PublishedBefore string `json:"published_before"`
		Livecrawl       string `json:"livecrawl"`
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

	// published_before is part of the cache key: the same query under a
	// different cutoff is a different search.
	key := cache.Key("search_exa", map[string]any{
		"query": input.Query, "limit": input.Limit,
		"published_before": input.PublishedBefore, "livecrawl": input.Livecrawl,
	})
	v, err := t.deps.Cache.GetOrFill(key, searchTTL, func() (any, error) {
		return t.exa.search(ctx, exaRequest{
			Query:            input.Query,
			NumResults:       input.Limit,
			EndPublishedDate: input.PublishedBefore,
			Livecrawl:        input.Livecrawl,
			Contents:         &exaContents{Text: exaText{MaxCharacters: snippetChars}},
		})
	})
	if err != nil {
		return agent.NewToolError("web search failed: %v", err), nil
	}
	results := v.([]exaResult)

	cutoff, restricted := retrodict.Cutoff(ctx)
	if !restricted {
		hits := make([]searchHit, 0, len(results))
		for _, r := range results {
			hits = append(hits, searchHit{
				Title: r.Title, URL: r.URL,
				PublishedDate: r.PublishedDate, Snippet: r.Text,
			})
		}
		return agent.JSONResult(hits), nil
	}

	hits := t.archiveValidated(ctx, results, cutoff)
	return agent.JSONResult(hits), nil
}

// archiveValidated keeps only results that are datably pre-cutoff and have
// a pre-cutoff archive snapshot, rewriting each to its archived form.
// Validation fans out concurrently; the wayback client bounds concurrency.
func (t *SearchExaTool) archiveValidated(ctx context.Context, results []exaResult, cutoff time.Time) []searchHit {
	candidates := make([]exaResult, 0, len(results))
	for _, r := range results {
		published, ok := r.publishedTime()
		if !ok || published.After(cutoff) {
			continue
		}
		candidates = append(candidates, r)
	}

	hits := make([]*searchHit, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range candidates {
		g.Go(func() error {
			snap, err := t.deps.Wayback.Snapshot(gctx, r.URL, cutoff)
			if err != nil || snap == nil {
				return nil
			}
			snippet := fetchArchivedText(gctx, snap.URL)
			if snippet == "" {
				snippet = "(archived copy available; text extraction failed)"
			}
			hits[i] = &searchHit{
				Title:         r.Title,
				URL:           snap.URL,
				PublishedDate: r.PublishedDate,
				Snippet:       snippet,
				Archived:      true,
			}
			return nil
		})
	}
	g.Wait()

	out := make([]searchHit, 0, len(hits))
	for _, h := range hits {
		if h != nil {
			out = append(out, *h)
		}
	}
	return out
}

// SearchNewsTool queries the news API. It has no historical equivalent, so
// the policy layer excludes it in retrodict mode.
type SearchNewsTool struct {
	deps Deps
	news *askNewsClient
}

func (t *SearchNewsTool) Name() string { return "search_news" }

func (t *SearchNewsTool) Description() string {
	return "Search recent news. Returns titles, summaries, dates, and sources."
}

func (t *SearchNewsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum articles (default 10)."},
		},
		"required": []string{"query"},
	})
}

func (t *SearchNewsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
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
	if retrodict.Active(ctx) {
		return agent.NewToolError("news search is not available under the research cutoff"), nil
	}

	key := cache.Key("search_news", map[string]any{"query": input.Query, "limit": input.Limit})
	v, err := t.deps.Cache.GetOrFill(key, searchTTL, func() (any, error) {
		return t.news.search(ctx, input.Query, input.Limit)
	})
	if err != nil {
		return agent.NewToolError("news search failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// RetrodictSearchTool is the archive-only search added in retrodict mode:
// a URL-only web search whose every result must exist in the archive as of
// the cutoff. Results never cite the live web.
type RetrodictSearchTool struct {
	deps Deps
	exa  *exaClient
}

func (t *RetrodictSearchTool) Name() string { return "retrodict_search" }

func (t *RetrodictSearchTool) Description() string {
	return "Search the historical web: returns only pages archived on or before the research cutoff, with archived titles and snippets."
}

func (t *RetrodictSearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 10)."},
		},
		"required": []string{"query"},
	})
}

func (t *RetrodictSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
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
	cutoff, restricted := retrodict.Cutoff(ctx)
	if !restricted {
		return agent.NewToolError("retrodict_search is only available in retrodict mode"), nil
	}

	key := cache.Key("retrodict_search", map[string]any{
		"query": input.Query, "limit": input.Limit,
		"cutoff": cutoff.Format("2006-01-02"),
	})
	v, err := t.deps.Cache.GetOrFill(key, searchTTL, func() (any, error) {
		// URL-only search: no content extraction, the archive supplies text.
		return t.exa.search(ctx, exaRequest{
			Query:            input.Query,
			NumResults:       input.Limit,
			EndPublishedDate: cutoff.Format("2006-01-02"),
			Livecrawl:        "never",
		})
	})
	if err != nil {
		return agent.NewToolError("archive search failed: %v", err), nil
	}
	results := v.([]exaResult)

	hits := make([]*searchHit, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range results {
		g.Go(func() error {
			snap, err := t.deps.Wayback.Snapshot(gctx, r.URL, cutoff)
			if err != nil || snap == nil {
				return nil
			}
			hits[i] = &searchHit{
				Title:         r.Title,
				URL:           snap.URL,
				PublishedDate: r.PublishedDate,
				Snippet:       fetchArchivedText(gctx, snap.URL),
				Archived:      true,
			}
			return nil
		})
	}
	g.Wait()

	out := make([]searchHit, 0, len(hits))
	for _, h := range hits {
		if h != nil {
			out = append(out, *h)
		}
	}
	return agent.JSONResult(out), nil
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// fetchArchivedText pulls the archived page and reduces it to a plain-text
// snippet. Failures return the empty string; callers degrade gracefully.
func fetchArchivedText(ctx context.Context, archiveURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return ""
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	return snippetFromHTML(string(body))
}

// snippetFromHTML keeps the first snippetChars of visible text.
func snippetFromHTML(html string) string {
	return htmltext.Truncate(htmltext.Text(html), snippetChars)
}
