// Package markets exposes prediction-market and equity prices. Live quotes
// are policy-excluded in time-restricted sessions; history tools have their
// end date capped by the pre-invocation hook.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

const (
	gammaEndpoint    = "https://gamma-api.polymarket.com"
	clobEndpoint     = "https://clob.polymarket.com"
	manifoldEndpoint = "https://api.manifold.markets/v0"
	yahooEndpoint    = "https://query1.finance.yahoo.com"
)

// httpGetter shares the fetch discipline across the three market APIs.
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
		req.Header.Set("User-Agent", "augur-forecaster (research tool)")

		client := &http.Client{Timeout: g.timeout}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp, string(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding market response: %w", err))
		}
		return nil
	})
	return result.Err
}

// polymarketClient reads the Gamma metadata API and the CLOB price API.
type polymarketClient struct {
	httpGetter
	gammaBase string
	clobBase  string
}

// gammaMarket is the subset of Gamma market metadata the tools surface.
// Outcomes, prices, and token ids arrive as JSON-encoded strings.
type gammaMarket struct {
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	EndDate       string `json:"endDate"`
	Closed        bool   `json:"closed"`
}

func (m *gammaMarket) decode() (outcomes []string, prices []string, tokens []string) {
	json.Unmarshal([]byte(m.Outcomes), &outcomes)
	json.Unmarshal([]byte(m.OutcomePrices), &prices)
	json.Unmarshal([]byte(m.ClobTokenIDs), &tokens)
	return
}

func (c *polymarketClient) market(ctx context.Context, slug string) (*gammaMarket, error) {
	var out []gammaMarket
	u := c.gammaBase + "/markets?slug=" + url.QueryEscape(slug)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no polymarket market with slug %q", slug)
	}
	return &out[0], nil
}

type pricePoint struct {
	Time  int64   `json:"t"`
	Price float64 `json:"p"`
}

func (c *polymarketClient) history(ctx context.Context, tokenID string, start, end time.Time) ([]pricePoint, error) {
	q := url.Values{}
	q.Set("market", tokenID)
	q.Set("startTs", strconv.FormatInt(start.Unix(), 10))
	q.Set("endTs", strconv.FormatInt(end.Unix(), 10))
	q.Set("fidelity", "720") // twice-daily points

	var out struct {
		History []pricePoint `json:"history"`
	}
	if err := c.getJSON(ctx, c.clobBase+"/prices-history?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// manifoldClient reads the Manifold v0 API.
type manifoldClient struct {
	httpGetter
	base string
}

type manifoldMarket struct {
	Question    string  `json:"question"`
	Probability float64 `json:"probability"`
	URL         string  `json:"url"`
	IsResolved  bool    `json:"isResolved"`
	Resolution  string  `json:"resolution"`
	CloseTime   int64   `json:"closeTime"`
}

func (c *manifoldClient) market(ctx context.Context, slug string) (*manifoldMarket, error) {
	var out manifoldMarket
	u := c.base + "/slug/" + url.PathEscape(slug)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type manifoldBet struct {
	CreatedTime int64   `json:"createdTime"` // unix millis
	ProbAfter   float64 `json:"probAfter"`
}

func (c *manifoldClient) bets(ctx context.Context, slug string, limit int) ([]manifoldBet, error) {
	q := url.Values{}
	q.Set("contractSlug", slug)
	q.Set("limit", strconv.Itoa(limit))

	var out []manifoldBet
	if err := c.getJSON(ctx, c.base+"/bets?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stockClient reads the Yahoo Finance chart API.
type stockClient struct {
	httpGetter
	base string
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *stockClient) chart(ctx context.Context, ticker string, start, end time.Time) (*chartResponse, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))

	var out chartResponse
	u := c.base + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + q.Encode()
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if out.Chart.Error != nil {
		return nil, fmt.Errorf("chart api: %s", out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart data for %q", ticker)
	}
	return &out, nil
}
