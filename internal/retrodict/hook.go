package retrodict

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDenied marks a tool call that must not run under the active cutoff.
// The model loop converts it into a tool-error result rather than failing
// the session.
var ErrDenied = errors.New("tool call denied under retrodict cutoff")

// dateLayout is the wire form for injected and capped date arguments.
const dateLayout = "2006-01-02"

// Hook inspects tool calls before execution in retrodict mode and either
// rewrites date-bearing arguments so they cannot reach past the cutoff, or
// denies the call outright. Content-level filtering (dropping dated results,
// swapping snippets for archived text) stays inside the tools; the hook only
// shapes arguments.
type Hook struct {
	rules map[string]func(cutoff time.Time, args map[string]any) (map[string]any, error)
}

// NewHook builds the default rule set.
func NewHook() *Hook {
	h := &Hook{rules: map[string]func(time.Time, map[string]any) (map[string]any, error){}}

	// Web search: force the publication filter and switch off live
	// crawling; result-level archive validation happens in the tool.
	h.rules["search_exa"] = func(cutoff time.Time, args map[string]any) (map[string]any, error) {
		args["published_before"] = cutoff.Format(dateLayout)
		args["livecrawl"] = "never"
		return args, nil
	}

	// Trends tools accept relative timeframes that implicitly end "now".
	for _, name := range []string{"google_trends", "google_trends_compare", "google_trends_related"} {
		h.rules[name] = func(cutoff time.Time, args map[string]any) (map[string]any, error) {
			tf, _ := args["timeframe"].(string)
			args["timeframe"] = RewriteTimeframe(tf, cutoff)
			return args, nil
		}
	}

	// Time-series tools: cap the end of the requested window.
	capArg := func(key string) func(time.Time, map[string]any) (map[string]any, error) {
		return func(cutoff time.Time, args map[string]any) (map[string]any, error) {
			args[key] = capDate(args[key], cutoff)
			return args, nil
		}
	}
	h.rules["fred_series"] = capArg("observation_end")
	h.rules["stock_price_history"] = capArg("end_date")
	h.rules["polymarket_price_history"] = capArg("end_date")
	h.rules["manifold_price_history"] = capArg("end_date")

	// Live-only surfaces have no historical equivalent; the policy layer
	// already excludes them, denial here is the backstop.
	for _, name := range []string{"search_news", "stock_price", "polymarket_price", "manifold_price"} {
		h.rules[name] = func(time.Time, map[string]any) (map[string]any, error) {
			return nil, ErrDenied
		}
	}

	return h
}

// Before applies the rule for a tool call. Outside retrodict mode, or for
// tools without a rule, arguments pass through untouched. Tool names may be
// registry-namespaced ("websearch__search_exa"); rules match the base name.
func (h *Hook) Before(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	cutoff, ok := Cutoff(ctx)
	if !ok {
		return args, nil
	}
	rule, ok := h.rules[baseName(tool)]
	if !ok {
		return args, nil
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := rule(cutoff, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, tool)
	}
	return out, nil
}

func baseName(tool string) string {
	if i := strings.LastIndex(tool, "__"); i >= 0 {
		return tool[i+2:]
	}
	return tool
}

// capDate clamps a date-string argument to the cutoff. Missing or malformed
// values become the cutoff itself, which is the conservative choice.
func capDate(v any, cutoff time.Time) string {
	limit := cutoff.Format(dateLayout)
	s, ok := v.(string)
	if !ok || s == "" {
		return limit
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil || t.After(cutoff) {
		return limit
	}
	return s
}

// RewriteTimeframe converts a trends timeframe that ends at the present
// ("now 7-d", "today 12-m", "today 5-y", "all") into an explicit date range
// ending at the cutoff, preserving the window length. Explicit ranges are
// clamped so neither end passes the cutoff.
func RewriteTimeframe(tf string, cutoff time.Time) string {
	end := cutoff
	limit := end.Format(dateLayout)

	tf = strings.TrimSpace(tf)
	if tf == "" || tf == "all" {
		// Five years is the widest window the provider resolves at daily
		// granularity.
		return end.AddDate(-5, 0, 0).Format(dateLayout) + " " + limit
	}

	fields := strings.Fields(tf)
	if len(fields) == 2 && (fields[0] == "now" || fields[0] == "today") {
		if start, ok := relativeStart(fields[1], end); ok {
			return start.Format(dateLayout) + " " + limit
		}
	}

	// Explicit "YYYY-MM-DD YYYY-MM-DD" range: clamp both ends.
	if len(fields) == 2 {
		start, err1 := time.Parse(dateLayout, fields[0])
		stop, err2 := time.Parse(dateLayout, fields[1])
		if err1 == nil && err2 == nil {
			if stop.After(end) {
				stop = end
			}
			if start.After(stop) {
				start = stop.AddDate(0, -1, 0)
			}
			return start.Format(dateLayout) + " " + stop.Format(dateLayout)
		}
	}

	// Unrecognised form: fall back to the trailing year.
	return end.AddDate(-1, 0, 0).Format(dateLayout) + " " + limit
}

// relativeStart resolves spans like "7-d", "12-m", "5-y", "4-H" against end.
func relativeStart(span string, end time.Time) (time.Time, bool) {
	parts := strings.SplitN(span, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch parts[1] {
	case "d":
		return end.AddDate(0, 0, -n), true
	case "m":
		return end.AddDate(0, -n, 0), true
	case "y":
		return end.AddDate(-n, 0, 0), true
	case "H":
		// Sub-day spans collapse to the cutoff's own day.
		return end.AddDate(0, 0, -1), true
	}
	return time.Time{}, false
}
