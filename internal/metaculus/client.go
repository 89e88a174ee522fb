package metaculus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

// DefaultBaseURL is the production platform API root.
const DefaultBaseURL = "https://www.metaculus.com"

// Submission error conditions surfaced to the CLI.
var (
	// ErrQuestionClosed is returned when the platform rejects a forecast
	// on an already-closed question (HTTP 400).
	ErrQuestionClosed = errors.New("question is closed for forecasting")
	// ErrBadToken is returned on HTTP 401.
	ErrBadToken = errors.New("platform rejected the API token")
	// ErrForbidden is returned on HTTP 403.
	ErrForbidden = errors.New("not authorised for this operation")
)

// Client talks to the platform HTTP API. HTTP clients are created per call;
// concurrency is bounded by the shared rate limiter, not the transport.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	limiter *ratelimit.Limiter
	retry   retry.Config
}

// NewClient creates a platform client. An empty token disables
// authenticated endpoints (submission, comments) but reads still work.
func NewClient(baseURL, token string, timeout time.Duration, limiter *ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.NewDefaultLimiter()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		limiter: limiter,
		retry:   retry.DefaultConfig(),
	}
}

// Authenticated reports whether a platform token is configured.
func (c *Client) Authenticated() bool { return c.token != "" }

// GetPost fetches a post envelope and unpacks it into its questions. Group
// posts yield several questions sharing the post id.
func (c *Client) GetPost(ctx context.Context, postID int64) ([]*Question, error) {
	var envelope postEnvelope
	err := c.getJSON(ctx, fmt.Sprintf("/api/posts/%d/", postID), nil, &envelope)
	if err != nil {
		return nil, err
	}
	questions := envelope.unpack()
	if len(questions) == 0 {
		return nil, fmt.Errorf("post %d carries no questions", postID)
	}
	return questions, nil
}

// GetQuestion fetches a post and returns the single question whose
// question id matches, or the post's only question. It recovers from
// callers that passed a question_id where a post_id was expected by
// matching against unpacked question ids.
func (c *Client) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	questions, err := c.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(questions) == 1 {
		return questions[0], nil
	}
	for _, q := range questions {
		if q.QuestionID == id {
			return q, nil
		}
	}
	return questions[0], nil
}

// GetPosts fetches several posts concurrently under the rate limit.
// Missing posts produce nil entries rather than failing the batch.
func (c *Client) GetPosts(ctx context.Context, postIDs []int64) ([][]*Question, error) {
	results := make([][]*Question, len(postIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range postIDs {
		g.Go(func() error {
			questions, err := c.GetPost(gctx, id)
			if err != nil {
				var statusErr *retry.HTTPStatusError
				if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
					return nil
				}
				return err
			}
			results[i] = questions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListPosts fetches a filtered post listing. The status filter is
// re-applied client side because the server is not reliably consistent
// about it.
func (c *Client) ListPosts(ctx context.Context, filter ListFilter) ([]*Question, error) {
	params := url.Values{}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}
	if len(filter.Tournaments) > 0 {
		params.Set("tournaments", strings.Join(filter.Tournaments, ","))
	}
	if filter.ForecastType != "" {
		params.Set("forecast_type", filter.ForecastType)
	}
	if filter.ForecasterCountGTE > 0 {
		params.Set("forecaster_count__gte", strconv.Itoa(filter.ForecasterCountGTE))
	}
	if filter.ScheduledResolveTimeGT != nil {
		params.Set("scheduled_resolve_time__gt", filter.ScheduledResolveTimeGT.Format(time.RFC3339))
	}
	if filter.ScheduledResolveTimeLT != nil {
		params.Set("scheduled_resolve_time__lt", filter.ScheduledResolveTimeLT.Format(time.RFC3339))
	}
	if filter.Search != "" {
		params.Set("search", filter.Search)
	}
	if filter.HasCommunityPrediction {
		params.Set("has_community_prediction", "true")
	}
	if filter.OrderBy != "" {
		params.Set("order_by", filter.OrderBy)
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	params.Set("limit", strconv.Itoa(limit))

	var listing struct {
		Results []postEnvelope `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/posts/", params, &listing); err != nil {
		return nil, err
	}

	var questions []*Question
	for i := range listing.Results {
		for _, q := range listing.Results[i].unpack() {
			if filter.Status != "" && q.Status != "" && q.Status != filter.Status {
				continue
			}
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// CoherenceLinks fetches the coherence graph edges for a question. Takes a
// question_id, not a post_id.
func (c *Client) CoherenceLinks(ctx context.Context, questionID int64) ([]CoherenceLink, error) {
	var body struct {
		Links []CoherenceLink `json:"links"`
	}
	path := fmt.Sprintf("/api/coherence/question/%d/links/", questionID)
	if err := c.getJSON(ctx, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Links, nil
}

// AggregateHistory fetches the community prediction time series for a
// question. Takes a question_id, not a post_id.
func (c *Client) AggregateHistory(ctx context.Context, questionID int64, days int) ([]AggregateEntry, error) {
	if days <= 0 {
		days = 30
	}
	params := url.Values{}
	params.Set("days", strconv.Itoa(days))

	var body struct {
		History []AggregateEntry `json:"history"`
	}
	path := fmt.Sprintf("/api/questions/%d/aggregate-history/", questionID)
	if err := c.getJSON(ctx, path, params, &body); err != nil {
		return nil, err
	}
	return body.History, nil
}

// SubmitForecast posts forecast payloads. The request body is a JSON array
// even for a single forecast.
func (c *Client) SubmitForecast(ctx context.Context, payloads []ForecastPayload) error {
	if !c.Authenticated() {
		return ErrBadToken
	}
	body, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("encode forecast payload: %w", err)
	}
	err = c.postJSON(ctx, "/api/questions/forecast/", body, nil)
	return c.mapSubmissionError(err)
}

// CreateComment posts a private reasoning comment attached to a post
// (post_id, not question_id).
func (c *Client) CreateComment(ctx context.Context, postID int64, text string, includedForecast bool) error {
	if !c.Authenticated() {
		return ErrBadToken
	}
	payload := map[string]any{
		"text":              text,
		"parent":            nil,
		"included_forecast": includedForecast,
		"is_private":        true,
		"on_post":           postID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	err = c.postJSON(ctx, "/api/comments/create/", body, nil)
	return c.mapSubmissionError(err)
}

func (c *Client) mapSubmissionError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *retry.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrQuestionClosed, statusErr.Body)
		case http.StatusUnauthorized:
			return ErrBadToken
		case http.StatusForbidden:
			return ErrForbidden
		}
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	release, err := c.limiter.Acquire(ctx, ratelimit.ResourceMetaculus)
	if err != nil {
		return err
	}
	defer release()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	result := retry.Do(ctx, c.retry, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}

		client := &http.Client{Timeout: c.timeout}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return retry.StatusError(resp, strings.TrimSpace(string(data)))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return retry.Permanent(fmt.Errorf("decode %s: %w", path, err))
			}
		}
		return nil
	})
	return result.Err
}
