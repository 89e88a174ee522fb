package websearch

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

const askNewsEndpoint = "https://api.asknews.app/v1/news/search"

// askNewsClient is a minimal client for the AskNews search API.
type askNewsClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	timeout      time.Duration
	limiter      *ratelimit.Limiter
	retry        retry.Config
}

func newAskNewsClient(clientID, clientSecret string, timeout time.Duration, limiter *ratelimit.Limiter) *askNewsClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &askNewsClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      askNewsEndpoint,
		timeout:      timeout,
		limiter:      limiter,
		retry:        retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
	}
}

// newsArticle is one news hit.
type newsArticle struct {
	Title     string `json:"eng_title"`
	Summary   string `json:"summary"`
	Source    string `json:"source_id"`
	URL       string `json:"article_url"`
	Published string `json:"pub_date"`
}

type askNewsResponse struct {
	Articles []newsArticle `json:"as_dicts"`
}

func (c *askNewsClient) search(ctx context.Context, query string, limit int) ([]newsArticle, error) {
	release, err := c.limiter.Acquire(ctx, ratelimit.ResourceSearch)
	if err != nil {
		return nil, err
	}
	defer release()

	q := url.Values{}
	q.Set("query", query)
	q.Set("n_articles", strconv.Itoa(limit))
	q.Set("return_type", "dicts")

	var out askNewsResponse
	result := retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.SetBasicAuth(c.clientID, c.clientSecret)

		client := &http.Client{Timeout: c.timeout}
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
		if err := json.Unmarshal(body, &out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding news response: %w", err))
		}
		return nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return out.Articles, nil
}
