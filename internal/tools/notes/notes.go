// Package notes gives the model durable scratch space: structured JSON
// notes plus per-session meta and research documents. In time-restricted
// sessions the orchestrator points the base path at a throwaway directory
// so notes from live sessions cannot leak into past-date reasoning.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
)

const readTTL = 5 * time.Minute

// Valid note ids: no path traversal, no separators.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && id != "." && id != ".."
}

// Config locates a session's notes on disk.
type Config struct {
	// BaseDir is the notes root (live sessions) or a session-scoped
	// temporary directory (retrodict sessions).
	BaseDir string
	PostID  int64
	// SessionStamp names the session subdirectories for meta and
	// research documents.
	SessionStamp string
}

// Deps carries the shared infrastructure for this tool.
type Deps struct {
	Config Config
	Cache  *cache.TTLCache
	Log    *observability.Logger
}

// Register adds the notes tool under its built-in (unqualified) name.
func Register(r *agent.Registry, deps Deps) error {
	return r.RegisterBuiltin(&Tool{deps: deps})
}

// structuredNote is the stored form of a JSON note.
type structuredNote struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	Content   json.RawMessage `json:"content"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Tool is the multi-mode notes tool.
type Tool struct {
	deps Deps
}

func (t *Tool) Name() string { return "notes" }

func (t *Tool) Description() string {
	return "Persistent notes. Modes: list, search (query), read (id), write (id, content), write_meta (content), write_report (title, content)."
}

func (t *Tool) Schema() json.RawMessage {
	payload, err := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode":    map[string]any{"type": "string", "enum": []string{"list", "search", "read", "write", "write_meta", "write_report"}},
			"id":      map[string]any{"type": "string", "description": "Note id (read/write)."},
			"query":   map[string]any{"type": "string", "description": "Substring to search for (search)."},
			"title":   map[string]any{"type": "string", "description": "Note or report title."},
			"content": map[string]any{"description": "Note content: JSON for write, markdown text for write_meta/write_report."},
		},
		"required": []string{"mode"},
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Mode    string          `json:"mode"`
		ID      string          `json:"id"`
		Query   string          `json:"query"`
		Title   string          `json:"title"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}

	switch input.Mode {
	case "list":
		return t.list()
	case "search":
		if input.Query == "" {
			return agent.NewToolError("query is required for search"), nil
		}
		return t.search(input.Query)
	case "read":
		if !validID(input.ID) {
			return agent.NewToolError("invalid note id"), nil
		}
		return t.read(input.ID)
	case "write":
		if !validID(input.ID) {
			return agent.NewToolError("invalid note id"), nil
		}
		if len(input.Content) == 0 {
			return agent.NewToolError("content is required for write"), nil
		}
		return t.write(input.ID, input.Title, input.Content)
	case "write_meta":
		return t.writeDoc(filepath.Join("sessions", t.postDir(), t.deps.Config.SessionStamp), "meta.md", input.Content)
	case "write_report":
		name := reportFileName(input.Title)
		return t.writeDoc(filepath.Join("research", t.postDir(), t.deps.Config.SessionStamp), name, input.Content)
	default:
		return agent.NewToolError("unknown mode %q", input.Mode), nil
	}
}

func (t *Tool) postDir() string {
	return fmt.Sprintf("%d", t.deps.Config.PostID)
}

func (t *Tool) structuredDir() string {
	return filepath.Join(t.deps.Config.BaseDir, "structured")
}

func (t *Tool) list() (*agent.ToolResult, error) {
	notes, err := t.loadAll()
	if err != nil {
		return agent.NewToolError("listing notes failed: %v", err), nil
	}
	out := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		out = append(out, map[string]any{
			"id":         n.ID,
			"title":      n.Title,
			"updated_at": n.UpdatedAt.Format(time.RFC3339),
		})
	}
	return agent.JSONResult(out), nil
}

func (t *Tool) search(query string) (*agent.ToolResult, error) {
	notes, err := t.loadAll()
	if err != nil {
		return agent.NewToolError("searching notes failed: %v", err), nil
	}
	needle := strings.ToLower(query)
	var matches []structuredNote
	for _, n := range notes {
		haystack := strings.ToLower(n.ID + " " + n.Title + " " + string(n.Content))
		if strings.Contains(haystack, needle) {
			matches = append(matches, n)
		}
	}
	return agent.JSONResult(matches), nil
}

func (t *Tool) read(id string) (*agent.ToolResult, error) {
	key := cache.Key("notes_read", map[string]any{"base": t.deps.Config.BaseDir, "id": id})
	v, err := t.deps.Cache.GetOrFill(key, readTTL, func() (any, error) {
		data, err := os.ReadFile(filepath.Join(t.structuredDir(), id+".json"))
		if err != nil {
			return nil, err
		}
		var n structuredNote
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return agent.NewToolError("no note with id %q", id), nil
		}
		return agent.NewToolError("reading note failed: %v", err), nil
	}
	return agent.JSONResult(v), nil
}

func (t *Tool) write(id, title string, content json.RawMessage) (*agent.ToolResult, error) {
	if !json.Valid(content) {
		return agent.NewToolError("content must be valid JSON"), nil
	}
	n := structuredNote{
		ID:        id,
		Title:     title,
		Content:   content,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return agent.NewToolError("encoding note failed: %v", err), nil
	}
	dir := t.structuredDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agent.NewToolError("writing note failed: %v", err), nil
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644); err != nil {
		return agent.NewToolError("writing note failed: %v", err), nil
	}
	// A rewritten note invalidates its cached read.
	t.deps.Cache.Delete(cache.Key("notes_read", map[string]any{"base": t.deps.Config.BaseDir, "id": id}))
	return agent.JSONResult(map[string]any{"written": id}), nil
}

func (t *Tool) writeDoc(relDir, name string, content json.RawMessage) (*agent.ToolResult, error) {
	if len(content) == 0 {
		return agent.NewToolError("content is required"), nil
	}
	// Accept either a JSON string or raw text.
	var text string
	if err := json.Unmarshal(content, &text); err != nil {
		text = string(content)
	}

	dir := filepath.Join(t.deps.Config.BaseDir, relDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agent.NewToolError("writing document failed: %v", err), nil
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return agent.NewToolError("writing document failed: %v", err), nil
	}
	return agent.JSONResult(map[string]any{"written": filepath.Join(relDir, name)}), nil
}

func (t *Tool) loadAll() ([]structuredNote, error) {
	entries, err := os.ReadDir(t.structuredDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var notes []structuredNote
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.structuredDir(), entry.Name()))
		if err != nil {
			continue
		}
		var n structuredNote
		if err := json.Unmarshal(data, &n); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
	return notes, nil
}

func reportFileName(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "report"
	}
	return slug + ".md"
}
