// Package websearch exposes web and news search to the model, with archive
// validation in time-restricted sessions.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

const exaEndpoint = "https://api.exa.ai/search"

// exaClient is a minimal client for the Exa search API.
type exaClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	limiter *ratelimit.Limiter
	retry   retry.Config
}

func newExaClient(apiKey string, timeout time.Duration, limiter *ratelimit.Limiter) *exaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &exaClient{
		apiKey:  apiKey,
		baseURL: exaEndpoint,
		timeout: timeout,
		limiter: limiter,
		retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
	}
}

type exaRequest struct {
	Query              string       `json:"query"`
	NumResults         int          `json:"numResults,omitempty"`
	EndPublishedDate   string       `json:"endPublishedDate,omitempty"`
	StartPublishedDate string       `json:"startPublishedDate,omitempty"`
	Livecrawl          string       `json:"livecrawl,omitempty"`
	Contents           *exaContents `json:"contents,omitempty"`
}

type exaContents struct {
	Text exaText `json:"text"`
}

type exaText struct {
	MaxCharacters int `json:"maxCharacters,omitempty"`
}

// exaResult is one search hit.
type exaResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Text          string `json:"text,omitempty"`
}

type exaResponse struct {
	Results []exaResult `json:"results"`
}

func (c *exaClient) search(ctx context.Context, req exaRequest) ([]exaResult, error) {
	release, err := c.limiter.Acquire(ctx, ratelimit.ResourceSearch)
	if err != nil {
		return nil, err
	}
	defer release()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	var out exaResponse
	result := retry.Do(ctx, c.retry, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)

		client := &http.Client{Timeout: c.timeout}
		resp, err := client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp, string(respBody))
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding search response: %w", err))
		}
		return nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return out.Results, nil
}

// publishedTime parses the hit's publication date, trying the formats Exa
// actually emits. ok is false when no date is present or parseable.
func (r *exaResult) publishedTime() (time.Time, bool) {
	if r.PublishedDate == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, r.PublishedDate); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
