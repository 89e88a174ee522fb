package store

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/augur/internal/forecast"
)

func binaryRecord(postID int64, created time.Time) *Record {
	p := 0.7
	return &Record{
		SessionID:    "sess-1",
		PostID:       postID,
		QuestionID:   postID,
		QuestionType: "binary",
		CreatedAt:    created,
		Forecast: &forecast.Forecast{
			Type:   "binary",
			Binary: &forecast.Binary{Summary: "test", Probability: p},
		},
	}
}

func TestSaveAndList(t *testing.T) {
	s := New(t.TempDir())

	t1 := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	if _, err := s.Save(binaryRecord(42, t2)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(binaryRecord(42, t1)); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(42)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records[0].CreatedAt.Before(records[1].CreatedAt) {
		t.Error("records not sorted oldest first")
	}

	latest, err := s.Latest(42)
	if err != nil {
		t.Fatal(err)
	}
	if !latest.CreatedAt.Equal(t2) {
		t.Errorf("latest = %v, want %v", latest.CreatedAt, t2)
	}
}

func TestLatestPath(t *testing.T) {
	s := New(t.TempDir())

	t1 := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	if _, err := s.Save(binaryRecord(42, t1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(binaryRecord(42, t1.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	path, rec, err := s.LatestPath(42)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || !rec.CreatedAt.Equal(t1.Add(time.Hour)) {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.HasSuffix(path, "20260110T090000.json") {
		t.Errorf("path = %q", path)
	}

	// Patching through the returned path works.
	if err := s.MarkSubmitted(path, t1.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	rec, err = s.Latest(42)
	if err != nil || rec.SubmittedAt == nil {
		t.Errorf("submitted_at not patched: %+v, %v", rec, err)
	}

	path, rec, err = s.LatestPath(999)
	if err != nil || path != "" || rec != nil {
		t.Errorf("missing post: %q, %+v, %v", path, rec, err)
	}
}

func TestListMissingPost(t *testing.T) {
	s := New(t.TempDir())
	records, err := s.List(999)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestRetrodictRecordsSeparated(t *testing.T) {
	s := New(t.TempDir())

	rec := binaryRecord(42, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	rec.RetrodictDate = "2025-06-01"
	path, err := s.Save(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(path, "retrodict") {
		t.Errorf("retrodict record stored in live tree: %s", path)
	}
	if !strings.Contains(path, "2025-06-01_") {
		t.Errorf("retrodict filename missing cutoff prefix: %s", path)
	}

	// Retrodict runs never appear in the live history.
	records, err := s.List(42)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("retrodict record leaked into live list: %d", len(records))
	}
}

func TestPatchOperations(t *testing.T) {
	s := New(t.TempDir())
	path, err := s.Save(binaryRecord(7, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}

	submitted := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	if err := s.MarkSubmitted(path, submitted); err != nil {
		t.Fatal(err)
	}
	if err := s.SetResolution(path, "yes"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SubmittedAt == nil || !rec.SubmittedAt.Equal(submitted) {
		t.Errorf("submitted_at = %v", rec.SubmittedAt)
	}
	if rec.Resolution != "yes" {
		t.Errorf("resolution = %q", rec.Resolution)
	}
	// Original fields survive the patch.
	if rec.Forecast == nil || rec.Forecast.Binary == nil {
		t.Error("forecast payload lost during patch")
	}
}

func TestUncommented(t *testing.T) {
	s := New(t.TempDir())

	p1, _ := s.Save(binaryRecord(1, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)))
	p2, _ := s.Save(binaryRecord(2, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)))
	s.Save(binaryRecord(3, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)))

	now := time.Now()
	s.MarkSubmitted(p1, now)
	s.MarkSubmitted(p2, now)
	s.MarkCommented(p2, now)

	paths, err := s.Uncommented()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != p1 {
		t.Errorf("uncommented = %v, want [%s]", paths, p1)
	}
}
