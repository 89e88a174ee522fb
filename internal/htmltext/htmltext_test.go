package htmltext

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>hello <b>world</b></p>", "hello world"},
		{"<script>var x=1;</script><p>kept</p>", "kept"},
		{"<style>.a{color:red}</style>text", "text"},
		{"a\n\n  b\tc", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Text(tt.in); got != tt.want {
			t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	got := Truncate("one two three four", 10)
	if got != "one two" {
		t.Errorf("got %q", got)
	}
	// No word boundary near the cap: hard cut.
	if got := Truncate("abcdefghijklmnop", 8); got != "abcdefgh" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	// Two-byte runes with the cap landing mid-rune.
	if got := Truncate(strings.Repeat("é", 10), 5); got != "éé" {
		t.Errorf("got %q", got)
	}

	// Three-byte runes at every cap from 1..len stay valid UTF-8.
	s := strings.Repeat("因果", 6)
	for max := 1; max <= len(s); max++ {
		got := Truncate(s, max)
		if !utf8.ValidString(got) {
			t.Fatalf("Truncate(%q, %d) = %q is not valid UTF-8", s, max, got)
		}
		if len(got) > max {
			t.Fatalf("Truncate(%q, %d) = %d bytes", s, max, len(got))
		}
	}
}
