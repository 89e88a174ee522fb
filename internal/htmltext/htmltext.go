// Package htmltext reduces HTML documents to plain text for tool output.
package htmltext

import (
	"strings"
	"unicode/utf8"
)

// Text strips tags, script, and style content and collapses whitespace.
func Text(html string) string {
	var sb strings.Builder
	inTag := false
	inSkip := false
	lower := strings.ToLower(html)
	for i := 0; i < len(html); i++ {
		c := html[i]
		switch {
		case c == '<':
			inTag = true
			rest := lower[i:]
			if strings.HasPrefix(rest, "<script") || strings.HasPrefix(rest, "<style") {
				inSkip = true
			} else if strings.HasPrefix(rest, "</script") || strings.HasPrefix(rest, "</style") {
				inSkip = false
			}
		case c == '>':
			inTag = false
		case !inTag && !inSkip:
			sb.WriteByte(c)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Truncate caps s at max bytes, cutting on a word boundary when one is
// near and never in the middle of a multi-byte rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut
}
