package notes

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	base := t.TempDir()
	return &Tool{deps: Deps{
		Config: Config{BaseDir: base, PostID: 42, SessionStamp: "20260110T080000"},
		Cache:  cache.New(cache.Options{}),
		Log:    observability.Nop(),
	}}, base
}

func exec(t *testing.T, tool *Tool, args string) string {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	return res.Content
}

func TestWriteListSearchRead(t *testing.T) {
	tool, _ := newTestTool(t)

	exec(t, tool, `{"mode":"write","id":"base-rates","title":"Base rates","content":{"incumbent_wins":0.67}}`)
	exec(t, tool, `{"mode":"write","id":"sources","content":{"count":12}}`)

	listed := exec(t, tool, `{"mode":"list"}`)
	if !strings.Contains(listed, "base-rates") || !strings.Contains(listed, "sources") {
		t.Errorf("list = %s", listed)
	}

	found := exec(t, tool, `{"mode":"search","query":"incumbent"}`)
	if !strings.Contains(found, "base-rates") || strings.Contains(found, "sources") {
		t.Errorf("search = %s", found)
	}

	read := exec(t, tool, `{"mode":"read","id":"base-rates"}`)
	if !strings.Contains(read, "0.67") {
		t.Errorf("read = %s", read)
	}
}

func TestRewriteInvalidatesCachedRead(t *testing.T) {
	tool, _ := newTestTool(t)

	exec(t, tool, `{"mode":"write","id":"n","content":{"v":1}}`)
	exec(t, tool, `{"mode":"read","id":"n"}`)
	exec(t, tool, `{"mode":"write","id":"n","content":{"v":2}}`)

	read := exec(t, tool, `{"mode":"read","id":"n"}`)
	if !strings.Contains(read, `"v": 2`) && !strings.Contains(read, `"v":2`) {
		t.Errorf("stale cached read: %s", read)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	tool, base := newTestTool(t)

	for _, id := range []string{"../evil", "a/b", `a\b`, "..", ""} {
		arg, _ := json.Marshal(map[string]any{"mode": "write", "id": id, "content": map[string]int{"v": 1}})
		res, err := tool.Execute(context.Background(), json.RawMessage(arg))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Errorf("id %q should be rejected", id)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "evil.json")); err == nil {
		t.Error("traversal escaped the notes directory")
	}
}

func TestMetaAndReportDocuments(t *testing.T) {
	tool, base := newTestTool(t)

	exec(t, tool, `{"mode":"write_meta","content":"reflections on the session"}`)
	meta := filepath.Join(base, "sessions", "42", "20260110T080000", "meta.md")
	data, err := os.ReadFile(meta)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "reflections on the session" {
		t.Errorf("meta = %q", data)
	}

	exec(t, tool, `{"mode":"write_report","title":"Polling Deep Dive","content":"# Findings"}`)
	report := filepath.Join(base, "research", "42", "20260110T080000", "polling-deep-dive.md")
	if _, err := os.Stat(report); err != nil {
		t.Errorf("report not written: %v", err)
	}
}

func TestReadMissingNote(t *testing.T) {
	tool, _ := newTestTool(t)
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"mode":"read","id":"absent"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "absent") {
		t.Errorf("result = %+v", res)
	}
}
