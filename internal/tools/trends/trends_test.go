package trends

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
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Cache:   cache.New(cache.Options{}),
		Limiter: ratelimit.NewDefaultLimiter(),
		Log:     observability.Nop(),
	}
}

const xssiGuard = ")]}'\n"

func trendsFixture(t *testing.T) *client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/explore", func(rw http.ResponseWriter, r *http.Request) {
		var req struct {
			ComparisonItem []struct {
				Keyword string `json:"keyword"`
				Time    string `json:"time"`
			} `json:"comparisonItem"`
		}
		if err := json.Unmarshal([]byte(r.URL.Query().Get("req")), &req); err != nil {
			t.Errorf("explore req undecodable: %v", err)
		}
		if len(req.ComparisonItem) == 0 || req.ComparisonItem[0].Time != "2025-01-15 2026-01-15" {
			t.Errorf("explore request = %+v", req)
		}
		rw.Write([]byte(xssiGuard + `{"widgets":[
			{"id":"TIMESERIES","token":"tok-ts","request":{"k":"v"}},
			{"id":"RELATED_QUERIES","token":"tok-rq","request":{"k":"v"}}
		]}`))
	})
	mux.HandleFunc("/widgetdata/multiline", func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "tok-ts" {
			t.Errorf("token = %q", got)
		}
		rw.Write([]byte(xssiGuard + `{"default":{"timelineData":[
			{"time":"1735689600","formattedTime":"Jan 1, 2025","value":[42]},
			{"time":"1738368000","formattedTime":"Feb 1, 2025","value":[58]}
		]}}`))
	})
	mux.HandleFunc("/widgetdata/relatedsearches", func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "tok-rq" {
			t.Errorf("token = %q", got)
		}
		rw.Write([]byte(xssiGuard + `{"default":{"rankedList":[
			{"rankedKeyword":[{"query":"fusion reactor","value":100},{"query":"iter","value":60}]}
		]}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newClient(5*time.Second, ratelimit.NewDefaultLimiter())
	c.base = srv.URL
	return c
}

func TestInterestTimeline(t *testing.T) {
	tool := &InterestTool{deps: testDeps(t), client: trendsFixture(t)}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"keyword":"fusion","timeframe":"2025-01-15 2026-01-15"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Jan 1, 2025") || !strings.Contains(res.Content, "42") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestCompareRejectsTooManyKeywords(t *testing.T) {
	tool := &CompareTool{deps: testDeps(t)}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"keywords":["a","b","c","d","e","f"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("six keywords must be rejected")
	}
}

func TestRelatedQueries(t *testing.T) {
	tool := &RelatedTool{deps: testDeps(t), client: trendsFixture(t)}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"keyword":"fusion","timeframe":"2025-01-15 2026-01-15"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "fusion reactor") || !strings.Contains(res.Content, "iter") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestStripPrefix(t *testing.T) {
	if got := string(stripPrefix([]byte(")]}'\n{\"a\":1}"))); got != `{"a":1}` {
		t.Errorf("got %q", got)
	}
	// Already-bare JSON passes through.
	if got := string(stripPrefix([]byte(`{"a":1}`))); got != `{"a":1}` {
		t.Errorf("got %q", got)
	}
}
