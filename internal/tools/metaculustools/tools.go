// Package metaculustools exposes the tournament platform to the model:
// question metadata, tournament listings, coherence links, community
// prediction history, and the local forecast history.
package metaculustools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/metaculus"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/retrodict"
	"github.com/haasonsaas/augur/internal/store"
)

// Namespace is the registry namespace for this tool server.
const Namespace = "metaculus"

const metadataTTL = 5 * time.Minute

// Deps carries the shared infrastructure every tool in this server uses.
type Deps struct {
	Client *metaculus.Client
	Cache  *cache.TTLCache
	Store  *store.Store
	Log    *observability.Logger
}

// Register adds all platform tools to the registry under the metaculus
// namespace.
func Register(r *agent.Registry, deps Deps) error {
	tools := []agent.Tool{
		&GetQuestionsTool{deps},
		&ListTournamentTool{deps},
		&SearchTool{deps},
		&CoherenceLinksTool{deps},
		&CPHistoryTool{deps: deps},
		&PredictionHistoryTool{deps},
	}
	for _, t := range tools {
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

// GetQuestionsTool fetches question records by id, in parallel under the
// platform rate limit. Callers sometimes pass a question_id where a post_id
// is expected; the client recovers that automatically.
type GetQuestionsTool struct {
	deps Deps
}

func (t *GetQuestionsTool) Name() string { return "get_metaculus_questions" }

func (t *GetQuestionsTool) Description() string {
	return "Fetch Metaculus questions by post id. Accepts a list of ids and returns full question records including type, bounds, options, and resolution criteria."
}

func (t *GetQuestionsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"post_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "Post ids to fetch.",
			},
		},
		"required": []string{"post_ids"},
	})
}

func (t *GetQuestionsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		PostIDs []int64 `json:"post_ids"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if len(input.PostIDs) == 0 {
		return agent.NewToolError("post_ids is required"), nil
	}

	type fetched struct {
		ID        int64                 `json:"id"`
		Questions []*metaculus.Question `json:"questions,omitempty"`
		Error     string                `json:"error,omitempty"`
	}
	results := make([]fetched, len(input.PostIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range input.PostIDs {
		g.Go(func() error {
			key := cache.Key("get_metaculus_questions", map[string]any{"id": id})
			v, err := t.deps.Cache.GetOrFill(key, metadataTTL, func() (any, error) {
				questions, err := t.deps.Client.GetPost(gctx, id)
				if err == nil && len(questions) == 0 {
					// The id may be a question id; the question lookup
					// resolves it through its parent post.
					q, qerr := t.deps.Client.GetQuestion(gctx, id)
					if qerr == nil && q != nil {
						questions = []*metaculus.Question{q}
					}
				}
				return questions, err
			})
			if err != nil {
				results[i] = fetched{ID: id, Error: err.Error()}
				return nil
			}
			results[i] = fetched{ID: id, Questions: v.([]*metaculus.Question)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agent.NewToolError("fetching questions: %v", err), nil
	}
	return agent.JSONResult(results), nil
}

// ListTournamentTool lists open questions in a tournament.
type ListTournamentTool struct {
	deps Deps
}

func (t *ListTournamentTool) Name() string { return "list_tournament_questions" }

func (t *ListTournamentTool) Description() string {
	return "List questions in a Metaculus tournament, optionally filtered by status."
}

func (t *ListTournamentTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tournament": map[string]any{"type": "string", "description": "Tournament slug or id."},
			"status":     map[string]any{"type": "string", "description": "Filter: open, closed, resolved."},
			"limit":      map[string]any{"type": "integer", "description": "Maximum questions to return (default 50)."},
		},
		"required": []string{"tournament"},
	})
}

func (t *ListTournamentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Tournament string `json:"tournament"`
		Status     string `json:"status"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.Tournament == "" {
		return agent.NewToolError("tournament is required"), nil
	}
	if input.Limit <= 0 {
		input.Limit = 50
	}

	key := cache.Key("list_tournament_questions", map[string]any{
		"tournament": input.Tournament, "status": input.Status, "limit": input.Limit,
	})
	v, err := t.deps.Cache.GetOrFill(key, metadataTTL, func() (any, error) {
		return t.deps.Client.ListPosts(ctx, metaculus.ListFilter{
			Tournaments: []string{input.Tournament},
			Status:      input.Status,
			Limit:       input.Limit,
		})
	})
	if err != nil {
		return agent.NewToolError("listing tournament: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// SearchTool runs a free-text question search on the platform.
type SearchTool struct {
	deps Deps
}

func (t *SearchTool) Name() string { return "search_metaculus" }

func (t *SearchTool) Description() string {
	return "Search Metaculus questions by free text."
}

func (t *SearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 20)."},
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
		input.Limit = 20
	}

	key := cache.Key("search_metaculus", map[string]any{"query": input.Query, "limit": input.Limit})
	v, err := t.deps.Cache.GetOrFill(key, metadataTTL, func() (any, error) {
		return t.deps.Client.ListPosts(ctx, metaculus.ListFilter{
			Search: input.Query,
			Limit:  input.Limit,
		})
	})
	if err != nil {
		return agent.NewToolError("searching questions: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// CoherenceLinksTool returns the adjacency set of logically related
// questions.
type CoherenceLinksTool struct {
	deps Deps
}

func (t *CoherenceLinksTool) Name() string { return "get_coherence_links" }

func (t *CoherenceLinksTool) Description() string {
	return "Fetch the coherence graph edges for a question: logically related questions with link direction and strength."
}

func (t *CoherenceLinksTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question_id": map[string]any{"type": "integer"},
		},
		"required": []string{"question_id"},
	})
}

func (t *CoherenceLinksTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		QuestionID int64 `json:"question_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.QuestionID == 0 {
		return agent.NewToolError("question_id is required"), nil
	}

	key := cache.Key("get_coherence_links", map[string]any{"question_id": input.QuestionID})
	v, err := t.deps.Cache.GetOrFill(key, metadataTTL, func() (any, error) {
		return t.deps.Client.CoherenceLinks(ctx, input.QuestionID)
	})
	if err != nil {
		return agent.NewToolError("fetching coherence links: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

// CPHistoryTool returns the community median prediction time series. In
// retrodict mode, entries after the cutoff are filtered out.
type CPHistoryTool struct {
	deps Deps

	fallbackOnce sync.Once
}

func (t *CPHistoryTool) Name() string { return "get_cp_history" }

func (t *CPHistoryTool) Description() string {
	return "Fetch the community prediction history for a question as a time series of quantile centres."
}

func (t *CPHistoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question_id": map[string]any{"type": "integer"},
			"days":        map[string]any{"type": "integer", "description": "History window in days (default 90)."},
		},
		"required": []string{"question_id"},
	})
}

type cpHistoryResponse struct {
	QuestionID int64       `json:"question_id"`
	Entries    []cpEntry   `json:"entries"`
	Note       string      `json:"note,omitempty"`
}

type cpEntry struct {
	Time    string    `json:"time"`
	Centers []float64 `json:"centers"`
}

func (t *CPHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		QuestionID int64 `json:"question_id"`
		Days       int   `json:"days"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.QuestionID == 0 {
		return agent.NewToolError("question_id is required"), nil
	}
	if input.Days <= 0 {
		input.Days = 90
	}

	key := cache.Key("get_cp_history", map[string]any{"question_id": input.QuestionID, "days": input.Days})
	v, err := t.deps.Cache.GetOrFill(key, metadataTTL, func() (any, error) {
		return t.deps.Client.AggregateHistory(ctx, input.QuestionID, input.Days)
	})
	if err != nil {
		return agent.NewToolError("fetching prediction history: %v", err), nil
	}
	entries := v.([]metaculus.AggregateEntry)

	cutoff, restricted := retrodict.Cutoff(ctx)
	resp := cpHistoryResponse{QuestionID: input.QuestionID}
	dropped := 0
	for i := range entries {
		ts, ok := entries[i].Time()
		if !ok {
			continue
		}
		if entries[i].StartTime == 0 && entries[i].EndTime > 0 {
			t.fallbackOnce.Do(func() {
				t.deps.Log.Warn(ctx, "aggregate history entries missing start_time, using end_time",
					"question_id", input.QuestionID)
			})
		}
		if restricted && ts.After(cutoff) {
			dropped++
			continue
		}
		resp.Entries = append(resp.Entries, cpEntry{
			Time:    ts.Format(time.RFC3339),
			Centers: entries[i].Centers,
		})
	}
	if restricted && len(resp.Entries) == 0 && dropped > 0 {
		resp.Note = fmt.Sprintf("all %d history entries postdate the research cutoff %s",
			dropped, cutoff.Format("2006-01-02"))
	}
	return agent.JSONResult(resp), nil
}

// PredictionHistoryTool reads the local on-disk record of prior forecasts
// for a question. In retrodict mode, entries after the cutoff are filtered
// and resolution fields are masked.
type PredictionHistoryTool struct {
	deps Deps
}

func (t *PredictionHistoryTool) Name() string { return "get_prediction_history" }

func (t *PredictionHistoryTool) Description() string {
	return "Read this agent's own prior forecasts for a question from the local history."
}

func (t *PredictionHistoryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"post_id": map[string]any{"type": "integer"},
		},
		"required": []string{"post_id"},
	})
}

func (t *PredictionHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		PostID int64 `json:"post_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if input.PostID == 0 {
		return agent.NewToolError("post_id is required"), nil
	}

	records, err := t.deps.Store.List(input.PostID)
	if err != nil {
		return agent.NewToolError("reading prediction history: %v", err), nil
	}

	cutoff, restricted := retrodict.Cutoff(ctx)
	out := make([]*store.Record, 0, len(records))
	for _, rec := range records {
		if restricted {
			if rec.CreatedAt.After(cutoff) {
				continue
			}
			masked := *rec
			masked.Resolution = ""
			rec = &masked
		}
		out = append(out, rec)
	}
	return agent.JSONResult(out), nil
}
