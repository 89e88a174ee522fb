package retrodict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retry"
)

const (
	availabilityURL = "https://archive.org/wayback/available"
	archiveHost     = "https://web.archive.org"

	// Snapshot lookups are cached for a day: the archive's answer for a
	// (url, cutoff) pair only changes when new crawls land.
	snapshotTTL = 24 * time.Hour
)

// Snapshot is an archived capture of a page on or before the cutoff.
type Snapshot struct {
	// Timestamp is the archive's native YYYYMMDDhhmmss form.
	Timestamp string
	// URL fetches the raw capture without the archive's chrome.
	URL string
}

// Wayback resolves page snapshots through the archive's availability API.
// Lookups share the wayback rate-limit slot pool and a TTL cache.
type Wayback struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	cache   *cache.TTLCache
	retry   retry.Config
	log     *observability.Logger

	baseURL     string
	archiveBase string
}

// NewWayback builds a snapshot resolver. A zero timeout falls back to 15s,
// the budget for archive requests.
func NewWayback(limiter *ratelimit.Limiter, c *cache.TTLCache, log *observability.Logger, timeout time.Duration) *Wayback {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Wayback{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		cache:   c,
		retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second},
		log:     log,

		baseURL:     availabilityURL,
		archiveBase: archiveHost,
	}
}

// SetEndpoints overrides the availability and archive endpoints. Tests use
// it to point lookups at local fixtures; empty strings keep the defaults.
func (w *Wayback) SetEndpoints(availability, archive string) {
	if availability != "" {
		w.baseURL = availability
	}
	if archive != "" {
		w.archiveBase = archive
	}
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Snapshot finds the latest capture of pageURL on or before the cutoff.
// A nil snapshot with nil error means no acceptable capture exists; archive
// outages also resolve that way, so callers degrade to "no snapshot" rather
// than failing the whole tool call.
func (w *Wayback) Snapshot(ctx context.Context, pageURL string, cutoff time.Time) (*Snapshot, error) {
	key := cache.Key("wayback_snapshot", map[string]any{
		"url":    pageURL,
		"cutoff": Timestamp8(cutoff),
	})
	if cached, ok := w.cache.Get(key); ok {
		snap, _ := cached.(*Snapshot)
		return snap, nil
	}

	snap, err := w.lookup(ctx, pageURL, cutoff)
	if err != nil {
		// Archive outage resolves as "no snapshot", uncached so a later
		// call can retry once the archive recovers.
		w.log.Warn(ctx, "wayback availability lookup failed",
			"url", pageURL, "error", err)
		return nil, nil
	}
	w.cache.Set(key, snap, snapshotTTL)
	return snap, nil
}

func (w *Wayback) lookup(ctx context.Context, pageURL string, cutoff time.Time) (*Snapshot, error) {
	// Step one: ask for the capture closest to the cutoff date.
	resp, err := w.query(ctx, pageURL, Timestamp8(cutoff))
	if err != nil {
		return nil, err
	}
	closest := resp.ArchivedSnapshots.Closest
	if !closest.Available || closest.Timestamp == "" {
		return nil, nil
	}

	// "Closest" can land after the cutoff; those captures are rejected
	// outright rather than substituted.
	if !OnOrBefore(closest.Timestamp, cutoff) {
		return nil, nil
	}

	// Step two: rewrite to the archived form of the capture.
	return &Snapshot{
		Timestamp: closest.Timestamp,
		URL:       fmt.Sprintf("%s/web/%sid_/%s", w.archiveBase, closest.Timestamp, pageURL),
	}, nil
}

func (w *Wayback) query(ctx context.Context, pageURL, timestamp string) (*availabilityResponse, error) {
	release, err := w.limiter.Acquire(ctx, ratelimit.ResourceWayback)
	if err != nil {
		return nil, err
	}
	defer release()

	var out availabilityResponse
	result := retry.Do(ctx, w.retry, func() error {
		q := url.Values{}
		q.Set("url", pageURL)
		q.Set("timestamp", timestamp)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.StatusError(resp, string(body))
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding availability response: %w", err))
		}
		return nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return &out, nil
}

// ArchiveURL builds the raw-content capture URL. The id_ flag strips the
// archive's navigation banner from the served page.
func ArchiveURL(timestamp, pageURL string) string {
	return fmt.Sprintf("%s/web/%sid_/%s", archiveHost, timestamp, pageURL)
}
