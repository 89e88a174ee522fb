// Package trends exposes Google Trends interest data. The upstream API is
// the unofficial two-phase protocol: an explore call issues widget tokens,
// which unlock the timeline and related-searches endpoints.
package trends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

const trendsEndpoint = "https://trends.google.com/trends/api"

type client struct {
	base    string
	timeout time.Duration
	limiter *ratelimit.Limiter
	retry   retry.Config
}

func newClient(timeout time.Duration, limiter *ratelimit.Limiter) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		base:    trendsEndpoint,
		timeout: timeout,
		limiter: limiter,
		retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
	}
}

type widget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}

type timelinePoint struct {
	Time          string `json:"time"`
	FormattedTime string `json:"formattedTime"`
	Value         []int  `json:"value"`
}

type relatedQuery struct {
	Query string `json:"query"`
	Value int    `json:"value"`
}

// explore issues widget tokens for a set of keywords over a timeframe.
func (c *client) explore(ctx context.Context, keywords []string, timeframe string) ([]widget, error) {
	items := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		items = append(items, map[string]any{"keyword": kw, "geo": "", "time": timeframe})
	}
	req, err := json.Marshal(map[string]any{
		"comparisonItem": items,
		"category":       0,
		"property":       "",
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("hl", "en-US")
	q.Set("tz", "0")
	q.Set("req", string(req))

	body, err := c.get(ctx, c.base+"/explore?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var out struct {
		Widgets []widget `json:"widgets"`
	}
	if err := json.Unmarshal(stripPrefix(body), &out); err != nil {
		return nil, fmt.Errorf("decoding explore response: %w", err)
	}
	return out.Widgets, nil
}

// timeline fetches interest-over-time points using a TIMESERIES widget.
func (c *client) timeline(ctx context.Context, w widget) ([]timelinePoint, error) {
	q := url.Values{}
	q.Set("hl", "en-US")
	q.Set("tz", "0")
	q.Set("req", string(w.Request))
	q.Set("token", w.Token)

	body, err := c.get(ctx, c.base+"/widgetdata/multiline?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var out struct {
		Default struct {
			TimelineData []timelinePoint `json:"timelineData"`
		} `json:"default"`
	}
	if err := json.Unmarshal(stripPrefix(body), &out); err != nil {
		return nil, fmt.Errorf("decoding timeline response: %w", err)
	}
	return out.Default.TimelineData, nil
}

// related fetches top related queries using a RELATED_QUERIES widget.
func (c *client) related(ctx context.Context, w widget) ([]relatedQuery, error) {
	q := url.Values{}
	q.Set("hl", "en-US")
	q.Set("tz", "0")
	q.Set("req", string(w.Request))
	q.Set("token", w.Token)

	body, err := c.get(ctx, c.base+"/widgetdata/relatedsearches?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var out struct {
		Default struct {
			RankedList []struct {
				RankedKeyword []relatedQuery `json:"rankedKeyword"`
			} `json:"rankedList"`
		} `json:"default"`
	}
	if err := json.Unmarshal(stripPrefix(body), &out); err != nil {
		return nil, fmt.Errorf("decoding related response: %w", err)
	}
	var queries []relatedQuery
	for _, list := range out.Default.RankedList {
		queries = append(queries, list.RankedKeyword...)
	}
	return queries, nil
}

func findWidget(widgets []widget, id string) (widget, bool) {
	for _, w := range widgets {
		if w.ID == id {
			return w, true
		}
	}
	return widget{}, false
}

// stripPrefix removes the XSSI guard Google prepends to every response.
func stripPrefix(body []byte) []byte {
	if idx := bytes.IndexByte(body, '\n'); idx >= 0 && idx < 16 {
		return body[idx+1:]
	}
	return body
}

func (c *client) get(ctx context.Context, u string) ([]byte, error) {
	release, err := c.limiter.Acquire(ctx, ratelimit.ResourceSearch)
	if err != nil {
		return nil, err
	}
	defer release()

	var body []byte
	result := retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; augur-forecaster)")

		httpClient := &http.Client{Timeout: c.timeout}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp, string(b))
		}
		body = b
		return nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return body, nil
}
