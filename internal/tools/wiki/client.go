// Package wiki exposes Wikipedia search and article content, with revision
// pinning in time-restricted sessions.
package wiki

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
	actionEndpoint = "https://en.wikipedia.org/w/api.php"
	restEndpoint   = "https://en.wikipedia.org/api/rest_v1"
)

// client wraps the MediaWiki action API and the REST content API.
type client struct {
	actionBase string
	restBase   string
	timeout    time.Duration
	limiter    *ratelimit.Limiter
	retry      retry.Config
}

func newClient(timeout time.Duration, limiter *ratelimit.Limiter) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		actionBase: actionEndpoint,
		restBase:   restEndpoint,
		timeout:    timeout,
		limiter:    limiter,
		retry:      retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
	}
}

type searchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	PageID  int64  `json:"pageid"`
}

type pageSummary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	Timestamp   string `json:"timestamp"`
}

type revision struct {
	ID        int64  `json:"revid"`
	Timestamp string `json:"timestamp"`
}

// search runs a full-text title search via the action API.
func (c *client) search(ctx context.Context, query string, limit int) ([]searchHit, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", query)
	q.Set("srlimit", strconv.Itoa(limit))
	q.Set("format", "json")

	var out struct {
		Query struct {
			Search []searchHit `json:"search"`
		} `json:"query"`
	}
	if err := c.getJSON(ctx, c.actionBase+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Query.Search, nil
}

// summary fetches the lead-section summary of the current article.
func (c *client) summary(ctx context.Context, title string) (*pageSummary, error) {
	var out pageSummary
	u := c.restBase + "/page/summary/" + url.PathEscape(title)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// pageHTML fetches the article body as HTML, pinned to a revision when
// revID is non-zero.
func (c *client) pageHTML(ctx context.Context, title string, revID int64) (string, error) {
	u := c.restBase + "/page/html/" + url.PathEscape(title)
	if revID > 0 {
		u += "/" + strconv.FormatInt(revID, 10)
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// revisionAt resolves the last revision of the article at or before the
// cutoff. A nil revision means the article did not exist yet.
func (c *client) revisionAt(ctx context.Context, title string, cutoff time.Time) (*revision, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("prop", "revisions")
	q.Set("titles", title)
	q.Set("rvlimit", "1")
	q.Set("rvdir", "older")
	q.Set("rvstart", cutoff.UTC().Format(time.RFC3339))
	q.Set("rvprop", "ids|timestamp")
	q.Set("format", "json")

	var out struct {
		Query struct {
			Pages map[string]struct {
				Revisions []revision `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.getJSON(ctx, c.actionBase+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	for _, page := range out.Query.Pages {
		if len(page.Revisions) > 0 {
			rev := page.Revisions[0]
			return &rev, nil
		}
	}
	return nil, nil
}

func (c *client) getJSON(ctx context.Context, u string, out any) error {
	body, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding wikipedia response: %w", err)
	}
	return nil
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
		req.Header.Set("User-Agent", "augur-forecaster (research tool)")

		httpClient := &http.Client{Timeout: c.timeout}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
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
