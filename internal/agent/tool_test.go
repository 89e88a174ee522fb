package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type stubTool struct {
	name    string
	desc    string
	result  *ToolResult
	err     error
	lastArg json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return s.desc }
func (s *stubTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	s.lastArg = params
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return NewToolResult("ok"), nil
}

func TestRegistryNamespacing(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("metaculus", &stubTool{name: "search_metaculus"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterBuiltin(&stubTool{name: "notes"}); err != nil {
		t.Fatal(err)
	}

	tool, ok := r.Get("metaculus__search_metaculus")
	if !ok {
		t.Fatal("namespaced tool not found under qualified name")
	}
	if tool.Name() != "metaculus__search_metaculus" {
		t.Errorf("qualified name = %q", tool.Name())
	}

	if _, ok := r.Get("search_metaculus"); ok {
		t.Error("namespaced tool must not resolve under its bare name")
	}
	if _, ok := r.Get("notes"); !ok {
		t.Error("builtin tool should resolve under its bare name")
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("ns", &stubTool{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("ns", &stubTool{name: "a"}); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestRegistryFilter(t *testing.T) {
	r := NewRegistry()
	r.Register("ns", &stubTool{name: "a"})
	r.Register("ns", &stubTool{name: "b"})
	r.RegisterBuiltin(&stubTool{name: "c"})

	filtered := r.Filter([]string{"ns__b", "c"})
	if _, ok := filtered.Get("ns__a"); ok {
		t.Error("filtered registry should not contain ns__a")
	}
	if _, ok := filtered.Get("ns__b"); !ok {
		t.Error("filtered registry should contain ns__b")
	}
	if got := len(filtered.Names()); got != 2 {
		t.Errorf("filtered size = %d, want 2", got)
	}

	// The source registry is untouched.
	if got := len(r.Names()); got != 3 {
		t.Errorf("source registry mutated: %d tools", got)
	}
}

func TestRegistryDocs(t *testing.T) {
	r := NewRegistry()
	r.Register("markets", &stubTool{name: "stock_price", desc: "Fetch the latest stock price."})

	docs := r.Docs()
	if !strings.Contains(docs, "markets__stock_price") {
		t.Errorf("docs missing qualified name:\n%s", docs)
	}
	if !strings.Contains(docs, "Fetch the latest stock price.") {
		t.Errorf("docs missing description:\n%s", docs)
	}
}

func TestJSONResult(t *testing.T) {
	res := JSONResult(map[string]int{"count": 3})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	var decoded map[string]int
	if err := json.Unmarshal([]byte(res.Content), &decoded); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if decoded["count"] != 3 {
		t.Errorf("count = %d", decoded["count"])
	}
}
