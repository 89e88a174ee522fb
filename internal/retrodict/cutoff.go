// Package retrodict makes every information source behave as of a
// historical cutoff date so forecasts can be produced blind for
// calibration.
package retrodict

import (
	"context"
	"strconv"
	"time"
)

type cutoffKey struct{}

// WithCutoff returns a context carrying the retrodict cutoff date. The
// orchestrator sets it before the model loop starts; it is scoped to the
// session's call tree, never stored globally.
func WithCutoff(ctx context.Context, cutoff time.Time) context.Context {
	return context.WithValue(ctx, cutoffKey{}, cutoff.UTC())
}

// Cutoff reports the ambient cutoff date, if the session runs in retrodict
// mode.
func Cutoff(ctx context.Context) (time.Time, bool) {
	cutoff, ok := ctx.Value(cutoffKey{}).(time.Time)
	return cutoff, ok
}

// Active reports whether the session is time-restricted.
func Active(ctx context.Context) bool {
	_, ok := Cutoff(ctx)
	return ok
}

// Timestamp8 renders a time as the 8-digit YYYYMMDD form used for archive
// timestamp comparison.
func Timestamp8(t time.Time) string {
	return t.UTC().Format("20060102")
}

// NormalizeTS truncates an archive timestamp of variable precision to its
// date component and returns it as an integer. Comparing 8-digit integers
// avoids mixing 4-, 8-, and 14-digit timestamp formats.
func NormalizeTS(ts string) (int, bool) {
	digits := make([]byte, 0, 8)
	for i := 0; i < len(ts) && len(digits) < 8; i++ {
		c := ts[i]
		if c < '0' || c > '9' {
			break
		}
		digits = append(digits, c)
	}
	if len(digits) < 8 {
		return 0, false
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, false
	}
	return n, true
}

// OnOrBefore reports whether an archive timestamp falls on or before the
// cutoff, using the 8-digit normalisation rule. Snapshots dated strictly
// after the cutoff are rejected even when the archive returns them as
// "closest".
func OnOrBefore(ts string, cutoff time.Time) bool {
	n, ok := NormalizeTS(ts)
	if !ok {
		return false
	}
	limit, _ := NormalizeTS(Timestamp8(cutoff))
	return n <= limit
}
