package wiki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Cache:   cache.New(cache.Options{}),
		Limiter: ratelimit.NewDefaultLimiter(),
		Log:     observability.Nop(),
	}
}

func newTestClient(t *testing.T, mux *http.ServeMux) *client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newClient(5*time.Second, ratelimit.NewDefaultLimiter())
	c.actionBase = srv.URL + "/w/api.php"
	c.restBase = srv.URL + "/api/rest_v1"
	return c
}

func TestSearchStripsMarkup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("srsearch"); got != "fusion power" {
			t.Errorf("srsearch = %q", got)
		}
		rw.Write([]byte(`{"query":{"search":[
			{"title":"Fusion power","snippet":"<span class=\"hl\">Fusion</span> power is...","pageid":11},
			{"title":"ITER","snippet":"tokamak","pageid":12}
		]}}`))
	})

	tool := &SearchTool{deps: testDeps(t), client: newTestClient(t, mux)}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"fusion power"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if strings.Contains(res.Content, "<span") {
		t.Errorf("markup leaked into snippet: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Fusion power is") {
		t.Errorf("snippet text lost: %s", res.Content)
	}
}

func TestSummaryLive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest_v1/page/summary/Fusion_power", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"title":"Fusion power","description":"Power generation","extract":"Fusion power is a proposed form of power generation."}`))
	})

	tool := &SummaryTool{deps: testDeps(t), client: newTestClient(t, mux)}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"Fusion_power"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "proposed form of power generation") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestPageRevisionPinned(t *testing.T) {
	var revQuery, htmlPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(rw http.ResponseWriter, r *http.Request) {
		revQuery = r.URL.Query().Get("rvstart")
		rw.Write([]byte(`{"query":{"pages":{"11":{"revisions":[{"revid":98765,"timestamp":"2026-01-12T04:00:00Z"}]}}}}`))
	})
	mux.HandleFunc("/api/rest_v1/page/html/", func(rw http.ResponseWriter, r *http.Request) {
		htmlPath = r.URL.Path
		rw.Write([]byte("<html><body><p>historical article body</p></body></html>"))
	})

	tool := &PageTool{deps: testDeps(t), client: newTestClient(t, mux)}
	ctx := retrodict.WithCutoff(context.Background(), time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	res, err := tool.Execute(ctx, json.RawMessage(`{"title":"Fusion power"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}

	if revQuery != "2026-01-15T00:00:00Z" {
		t.Errorf("rvstart = %q, want cutoff", revQuery)
	}
	if !strings.HasSuffix(htmlPath, "/98765") {
		t.Errorf("html fetch not pinned to revision: %s", htmlPath)
	}
	if !strings.Contains(res.Content, "historical article body") {
		t.Errorf("content = %s", res.Content)
	}
	if !strings.Contains(res.Content, "98765") {
		t.Errorf("revision id missing from result: %s", res.Content)
	}
}

func TestGetRetriesTransientStatus(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(rw http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(rw, "try again", http.StatusServiceUnavailable)
			return
		}
		rw.Write([]byte(`{"query":{"search":[{"title":"Recovered","pageid":1}]}}`))
	})

	c := newTestClient(t, mux)
	c.retry.InitialDelay = time.Millisecond

	hits, err := c.search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("transient 503 should be retried away: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(hits) != 1 || hits[0].Title != "Recovered" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSummaryNoPreCutoffRevision(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"query":{"pages":{"11":{"revisions":[]}}}}`))
	})

	tool := &SummaryTool{deps: testDeps(t), client: newTestClient(t, mux)}
	ctx := retrodict.WithCutoff(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	res, err := tool.Execute(ctx, json.RawMessage(`{"title":"Brand new article"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("missing revision should not be an error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "no revision on or before") {
		t.Errorf("content = %s", res.Content)
	}
}
