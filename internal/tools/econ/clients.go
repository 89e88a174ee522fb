// Package econ exposes macroeconomic series and company fundamentals.
package econ

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

const (
	fredEndpoint       = "https://api.stlouisfed.org/fred"
	secFactsEndpoint   = "https://data.sec.gov/api/xbrl/companyfacts"
	secTickersEndpoint = "https://www.sec.gov/files/company_tickers.json"
)

type httpGetter struct {
	timeout time.Duration
	limiter *ratelimit.Limiter
	retry   retry.Config
}

func newGetter(timeout time.Duration, limiter *ratelimit.Limiter) httpGetter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpGetter{
		timeout: timeout,
		limiter: limiter,
		retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
	}
}

func (g httpGetter) getJSON(ctx context.Context, u string, out any) error {
	release, err := g.limiter.Acquire(ctx, ratelimit.ResourceSearch)
	if err != nil {
		return err
	}
	defer release()

	result := retry.Do(ctx, g.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "augur-forecaster research@augur.local")

		client := &http.Client{Timeout: g.timeout}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp, string(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
	return result.Err
}

// fredClient reads the FRED observations and search APIs.
type fredClient struct {
	httpGetter
	apiKey string
	base   string
}

type fredObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

func (c *fredClient) observations(ctx context.Context, seriesID, start, end string, limit int) ([]fredObservation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", strconv.Itoa(limit))
	if start != "" {
		q.Set("observation_start", start)
	}
	if end != "" {
		q.Set("observation_end", end)
	}

	var out struct {
		Observations []fredObservation `json:"observations"`
	}
	if err := c.getJSON(ctx, c.base+"/series/observations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Observations, nil
}

type fredSeries struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Frequency    string `json:"frequency"`
	Units        string `json:"units"`
	LastUpdated  string `json:"last_updated"`
	Popularity   int    `json:"popularity"`
	SeasonalAdj  string `json:"seasonal_adjustment_short"`
	ObservationE string `json:"observation_end"`
}

func (c *fredClient) search(ctx context.Context, text string, limit int) ([]fredSeries, error) {
	q := url.Values{}
	q.Set("search_text", text)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Series []fredSeries `json:"seriess"`
	}
	if err := c.getJSON(ctx, c.base+"/series/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Series, nil
}

// secClient reads EDGAR company facts. The ticker-to-CIK map is fetched
// once and held for the process lifetime.
type secClient struct {
	httpGetter
	factsBase   string
	tickersURL  string
	tickerToCIK map[string]int64
}

func (c *secClient) cik(ctx context.Context, ticker string) (int64, error) {
	if c.tickerToCIK == nil {
		var raw map[string]struct {
			CIK    int64  `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := c.getJSON(ctx, c.tickersURL, &raw); err != nil {
			return 0, err
		}
		c.tickerToCIK = make(map[string]int64, len(raw))
		for _, entry := range raw {
			c.tickerToCIK[strings.ToUpper(entry.Ticker)] = entry.CIK
		}
	}
	cik, ok := c.tickerToCIK[strings.ToUpper(ticker)]
	if !ok {
		return 0, fmt.Errorf("no SEC registrant for ticker %q", ticker)
	}
	return cik, nil
}

type factValue struct {
	End   string  `json:"end"`
	Value float64 `json:"val"`
	Form  string  `json:"form"`
	FY    int     `json:"fy"`
	FP    string  `json:"fp"`
}

type companyFacts struct {
	EntityName string `json:"entityName"`
	Facts      struct {
		USGAAP map[string]struct {
			Label string `json:"label"`
			Units map[string][]factValue
		} `json:"us-gaap"`
	} `json:"facts"`
}

func (c *secClient) facts(ctx context.Context, cik int64) (*companyFacts, error) {
	var out companyFacts
	u := fmt.Sprintf("%s/CIK%010d.json", c.factsBase, cik)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
