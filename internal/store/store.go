// Package store persists forecast records as append-only JSON files under
// the notes directory, one file per run.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/augur/internal/forecast"
)

// Record is one saved forecast run. Records are written once when the run
// completes and patched in place as submission, commenting, and resolution
// happen.
type Record struct {
	SessionID     string               `json:"session_id"`
	PostID        int64                `json:"post_id"`
	QuestionID    int64                `json:"question_id"`
	QuestionTitle string               `json:"question_title,omitempty"`
	QuestionType  string               `json:"question_type"`
	CreatedAt     time.Time            `json:"created_at"`
	RetrodictDate string               `json:"retrodict_date,omitempty"`
	Forecast      *forecast.Forecast   `json:"forecast"`
	CDF           []float64            `json:"cdf,omitempty"`
	Summary       string               `json:"summary,omitempty"`
	Reasoning     string               `json:"reasoning,omitempty"`
	Sources       []string             `json:"sources,omitempty"`
	Duration      time.Duration        `json:"duration_ns,omitempty"`
	CostUSD       float64              `json:"cost_usd,omitempty"`
	Tokens        forecast.TokenUsage  `json:"tokens"`
	Tools         forecast.ToolMetrics `json:"tools"`
	Defaulted     bool                 `json:"defaulted,omitempty"`

	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	CommentPostedAt *time.Time `json:"comment_posted_at,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
}

// Store manages the on-disk forecast history.
type Store struct {
	base string
}

// New creates a store rooted at the notes directory.
func New(base string) *Store {
	return &Store{base: base}
}

const stampLayout = "20060102T150405"

// dir returns the per-post directory: forecasts/<post_id> for live runs,
// retrodict/<post_id> for time-restricted ones. Keeping the trees separate
// stops retrodict calibration runs from polluting the live history.
func (s *Store) dir(postID int64, retrodict bool) string {
	kind := "forecasts"
	if retrodict {
		kind = "retrodict"
	}
	return filepath.Join(s.base, kind, strconv.FormatInt(postID, 10))
}

// Save appends a record and returns the file path it was written to.
func (s *Store) Save(rec *Record) (string, error) {
	if rec.PostID == 0 {
		return "", fmt.Errorf("record has no post id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	dir := s.dir(rec.PostID, rec.RetrodictDate != "")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating record directory: %w", err)
	}

	stamp := rec.CreatedAt.UTC().Format(stampLayout)
	name := stamp + ".json"
	if rec.RetrodictDate != "" {
		name = rec.RetrodictDate + "_" + stamp + ".json"
	}
	path := filepath.Join(dir, name)

	if err := writeRecord(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// List returns all live records for a post, oldest first.
func (s *Store) List(postID int64) ([]*Record, error) {
	dir := s.dir(postID, false)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]*Record, 0, len(names))
	for _, name := range names {
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Latest returns the newest live record for a post, or nil when none exist.
func (s *Store) Latest(postID int64) (*Record, error) {
	_, rec, err := s.LatestPath(postID)
	return rec, err
}

// LatestPath returns the newest live record for a post together with its
// file path, for callers that patch the record afterwards.
func (s *Store) LatestPath(postID int64) (string, *Record, error) {
	dir := s.dir(postID, false)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("reading record directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil, nil
	}
	sort.Strings(names)

	path := filepath.Join(dir, names[len(names)-1])
	rec, err := readRecord(path)
	if err != nil {
		return "", nil, err
	}
	return path, rec, nil
}

// Update reads the record at path, applies mutate, and writes it back.
func (s *Store) Update(path string, mutate func(*Record)) error {
	rec, err := readRecord(path)
	if err != nil {
		return err
	}
	mutate(rec)
	return writeRecord(path, rec)
}

// MarkSubmitted stamps the record as submitted to the platform.
func (s *Store) MarkSubmitted(path string, at time.Time) error {
	return s.Update(path, func(r *Record) {
		t := at.UTC()
		r.SubmittedAt = &t
	})
}

// MarkCommented stamps the record's reasoning comment as posted.
func (s *Store) MarkCommented(path string, at time.Time) error {
	return s.Update(path, func(r *Record) {
		t := at.UTC()
		r.CommentPostedAt = &t
	})
}

// SetResolution records how the question resolved, for later calibration.
func (s *Store) SetResolution(path, resolution string) error {
	return s.Update(path, func(r *Record) {
		r.Resolution = resolution
	})
}

// Uncommented returns paths of live records that were submitted but have no
// reasoning comment yet. Used by the comment backfill command.
func (s *Store) Uncommented() ([]string, error) {
	root := filepath.Join(s.base, "forecasts")
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rec, err := readRecord(path)
		if err != nil {
			return err
		}
		if rec.SubmittedAt != nil && rec.CommentPostedAt == nil {
			paths = append(paths, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return paths, err
}

// Read loads a single record by path.
func (s *Store) Read(path string) (*Record, error) {
	return readRecord(path)
}

func readRecord(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", path, err)
	}
	return &rec, nil
}

func writeRecord(path string, rec *Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return os.Rename(tmp, path)
}
