package metaculustools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/metaculus"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
	"github.com/haasonsaas/augur/internal/store"
	"github.com/haasonsaas/augur/internal/tools/policy"
)

func testDeps(t *testing.T, baseURL string) Deps {
	t.Helper()
	return Deps{
		Client: metaculus.NewClient(baseURL, "token", 5*time.Second, ratelimit.NewDefaultLimiter()),
		Cache:  cache.New(cache.Options{}),
		Store:  store.New(t.TempDir()),
		Log:    observability.Nop(),
	}
}

func TestGetQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/posts/101/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":101,"title":"Will X happen?","question":{"id":101,"type":"binary","title":"Will X happen?"}}`))
	}))
	defer srv.Close()

	tool := &GetQuestionsTool{testDeps(t, srv.URL)}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"post_ids":[101]}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Will X happen?") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestGetQuestionsPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/posts/101/") {
			w.Write([]byte(`{"id":101,"question":{"id":101,"type":"binary","title":"ok"}}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := &GetQuestionsTool{testDeps(t, srv.URL)}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"post_ids":[101,999]}`))
	if err != nil {
		t.Fatal(err)
	}
	// Per-id failures ride along in the result instead of failing the call.
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	var fetched []struct {
		ID    int64  `json:"id"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(res.Content), &fetched); err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 2 || fetched[0].Error != "" || fetched[1].Error == "" {
		t.Errorf("fetched = %+v", fetched)
	}
}

func cpHistoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1767787200 = 2026-01-07T12:00:00Z, 1770422400 = 2026-02-07T00:00:00Z.
		w.Write([]byte(`{"history":[
			{"start_time":1767787200,"centers":[0.6]},
			{"start_time":1770422400,"centers":[0.8]}
		]}`))
	}))
}

func TestCPHistory(t *testing.T) {
	srv := cpHistoryServer(t)
	defer srv.Close()

	tool := &CPHistoryTool{deps: testDeps(t, srv.URL)}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"question_id":101}`))
	if err != nil {
		t.Fatal(err)
	}
	var resp cpHistoryResponse
	if err := json.Unmarshal([]byte(res.Content), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %+v", resp.Entries)
	}
}

func TestCPHistoryTruncatedUnderCutoff(t *testing.T) {
	srv := cpHistoryServer(t)
	defer srv.Close()

	// 2026-01-07 is in range, 2026-02-07 is past the cutoff.
	ctx := retrodict.WithCutoff(context.Background(),
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	tool := &CPHistoryTool{deps: testDeps(t, srv.URL)}
	res, err := tool.Execute(ctx, json.RawMessage(`{"question_id":101}`))
	if err != nil {
		t.Fatal(err)
	}
	var resp cpHistoryResponse
	if err := json.Unmarshal([]byte(res.Content), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Centers[0] != 0.6 {
		t.Errorf("entries = %+v", resp.Entries)
	}
}

func TestPredictionHistoryMasksResolutionUnderCutoff(t *testing.T) {
	deps := testDeps(t, "http://unused.invalid")

	early := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	for _, rec := range []*store.Record{
		{PostID: 7, QuestionID: 7, QuestionType: "binary", CreatedAt: early, Resolution: "yes"},
		{PostID: 7, QuestionID: 7, QuestionType: "binary", CreatedAt: late, Resolution: "yes"},
	} {
		if _, err := deps.Store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}

	tool := &PredictionHistoryTool{deps}

	// Live: both records, resolutions intact.
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"post_id":7}`))
	if err != nil {
		t.Fatal(err)
	}
	var live []*store.Record
	if err := json.Unmarshal([]byte(res.Content), &live); err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 || live[0].Resolution != "yes" {
		t.Errorf("live records = %+v", live)
	}

	// Retrodict: the late record is dropped and resolution is masked.
	ctx := retrodict.WithCutoff(context.Background(),
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	res, err = tool.Execute(ctx, json.RawMessage(`{"post_id":7}`))
	if err != nil {
		t.Fatal(err)
	}
	var masked []*store.Record
	if err := json.Unmarshal([]byte(res.Content), &masked); err != nil {
		t.Fatal(err)
	}
	if len(masked) != 1 {
		t.Fatalf("masked records = %+v", masked)
	}
	if masked[0].Resolution != "" {
		t.Error("resolution must be masked under a cutoff")
	}
}

func TestToolNamesMatchPolicy(t *testing.T) {
	tools := []interface{ Name() string }{
		&GetQuestionsTool{}, &ListTournamentTool{}, &SearchTool{},
		&CoherenceLinksTool{}, &CPHistoryTool{}, &PredictionHistoryTool{},
	}
	qualified := map[string]bool{}
	for _, tl := range tools {
		qualified[Namespace+"__"+tl.Name()] = true
	}

	p := policy.Policy{HasMetaculusToken: true}
	for _, name := range p.AllowedTools(false) {
		if strings.HasPrefix(name, Namespace+"__") && !qualified[name] {
			t.Errorf("policy allows unknown tool %q", name)
		}
	}
}
