package markets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
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

func testServer(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

const gammaFixture = `[{
	"question": "Will X happen?",
	"slug": "will-x-happen",
	"outcomes": "[\"Yes\",\"No\"]",
	"outcomePrices": "[\"0.37\",\"0.63\"]",
	"clobTokenIds": "[\"token-yes\",\"token-no\"]",
	"endDate": "2026-12-31",
	"closed": false
}]`

func TestPolymarketPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slug"); got != "will-x-happen" {
			t.Errorf("slug = %q", got)
		}
		rw.Write([]byte(gammaFixture))
	})
	base := testServer(t, mux)

	getter := newGetter(5*time.Second, ratelimit.NewDefaultLimiter())
	tool := &PolymarketPriceTool{
		deps:   testDeps(t),
		client: &polymarketClient{httpGetter: getter, gammaBase: base, clobBase: base},
	}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"market_slug":"will-x-happen"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "0.37") || !strings.Contains(res.Content, "Yes") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestLivePricesDeniedUnderCutoff(t *testing.T) {
	ctx := retrodict.WithCutoff(context.Background(), time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	poly := &PolymarketPriceTool{deps: testDeps(t)}
	if res, _ := poly.Execute(ctx, json.RawMessage(`{"market_slug":"s"}`)); !res.IsError {
		t.Error("polymarket_price must refuse under a research cutoff")
	}
	mani := &ManifoldPriceTool{deps: testDeps(t)}
	if res, _ := mani.Execute(ctx, json.RawMessage(`{"market_slug":"s"}`)); !res.IsError {
		t.Error("manifold_price must refuse under a research cutoff")
	}
	stock := &StockPriceTool{deps: testDeps(t)}
	if res, _ := stock.Execute(ctx, json.RawMessage(`{"ticker":"AAPL"}`)); !res.IsError {
		t.Error("stock_price must refuse under a research cutoff")
	}
}

func TestPolymarketHistory(t *testing.T) {
	var gotEndTs string
	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(gammaFixture))
	})
	mux.HandleFunc("/prices-history", func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("market"); got != "token-yes" {
			t.Errorf("market token = %q", got)
		}
		gotEndTs = r.URL.Query().Get("endTs")
		rw.Write([]byte(`{"history":[{"t":1767866400,"p":0.31},{"t":1767952800,"p":0.35}]}`))
	})
	base := testServer(t, mux)

	getter := newGetter(5*time.Second, ratelimit.NewDefaultLimiter())
	tool := &PolymarketHistoryTool{
		deps:   testDeps(t),
		client: &polymarketClient{httpGetter: getter, gammaBase: base, clobBase: base},
	}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"market_slug":"will-x-happen","end_date":"2026-01-15"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}

	// endTs covers the whole end day.
	wantEnd := time.Date(2026, 1, 15, 23, 59, 59, 0, time.UTC).Unix()
	if gotEndTs != strconv.FormatInt(wantEnd, 10) {
		t.Errorf("endTs = %s, want %d", gotEndTs, wantEnd)
	}
	if !strings.Contains(res.Content, "0.31") || !strings.Contains(res.Content, "2026-01-08") {
		t.Errorf("content = %s", res.Content)
	}
}

func TestManifoldHistoryTruncatesAtEndDate(t *testing.T) {
	end := time.Date(2026, 1, 15, 23, 59, 59, 0, time.UTC)
	before := end.Add(-48 * time.Hour).UnixMilli()
	after := end.Add(48 * time.Hour).UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("/bets", func(rw http.ResponseWriter, r *http.Request) {
		json.NewEncoder(rw).Encode([]manifoldBet{
			{CreatedTime: after, ProbAfter: 0.9},
			{CreatedTime: before, ProbAfter: 0.4},
		})
	})
	base := testServer(t, mux)

	getter := newGetter(5*time.Second, ratelimit.NewDefaultLimiter())
	tool := &ManifoldHistoryTool{
		deps:   testDeps(t),
		client: &manifoldClient{httpGetter: getter, base: base},
	}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"market_slug":"s","end_date":"2026-01-15"}`))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Content, "0.9") {
		t.Errorf("post-end bet leaked into history: %s", res.Content)
	}
	if !strings.Contains(res.Content, "0.4") {
		t.Errorf("pre-end bet missing: %s", res.Content)
	}
}

func TestGetJSONStatusHandling(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(rw http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(rw, "upstream down", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/missing", func(rw http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(rw, "no such market", http.StatusNotFound)
	})
	base := testServer(t, mux)

	getter := newGetter(5*time.Second, ratelimit.NewDefaultLimiter())
	getter.retry.InitialDelay = time.Millisecond
	getter.retry.MaxDelay = time.Millisecond

	// 5xx is retried up to the attempt limit and the last error surfaces.
	var out []gammaMarket
	err := getter.getJSON(context.Background(), base+"/markets", &out)
	if err == nil {
		t.Fatal("persistent 503 must surface as an error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want status in message", err)
	}
	if calls != getter.retry.MaxAttempts {
		t.Errorf("503 retried %d times, want %d", calls, getter.retry.MaxAttempts)
	}

	// 4xx is permanent: one call, immediate error.
	calls = 0
	err = getter.getJSON(context.Background(), base+"/missing", &out)
	if err == nil || calls != 1 {
		t.Errorf("404 should fail after one call, got err=%v calls=%d", err, calls)
	}
	if !strings.Contains(err.Error(), "no such market") {
		t.Errorf("response body missing from error: %v", err)
	}
}

func TestStockHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v8/finance/chart/AAPL", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"chart":{"result":[{
			"meta":{"symbol":"AAPL","currency":"USD","regularMarketPrice":231.5},
			"timestamp":[1767866400,1767952800],
			"indicators":{"quote":[{"close":[229.1,231.5]}]}
		}],"error":null}}`))
	})
	base := testServer(t, mux)

	getter := newGetter(5*time.Second, ratelimit.NewDefaultLimiter())
	tool := &StockHistoryTool{
		deps:   testDeps(t),
		client: &stockClient{httpGetter: getter, base: base},
	}
	res, err := tool.Execute(context.Background(),
		json.RawMessage(`{"ticker":"AAPL","end_date":"2026-01-15"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "229.1") || !strings.Contains(res.Content, "AAPL") {
		t.Errorf("content = %s", res.Content)
	}
}
