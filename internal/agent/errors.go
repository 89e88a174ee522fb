package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// CreditExhaustedError reports that the model account ran out of usage.
// ResetAt is parsed from the provider's error message; it is the zero time
// when the message carried no parseable reset clause.
type CreditExhaustedError struct {
	Message string
	ResetAt time.Time
}

func (e *CreditExhaustedError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("model credits exhausted: %s", e.Message)
	}
	return fmt.Sprintf("model credits exhausted until %s: %s",
		e.ResetAt.Format(time.RFC3339), e.Message)
}

// WaitDuration returns how long to sleep before retrying, or zero when no
// reset time is known.
func (e *CreditExhaustedError) WaitDuration(now time.Time) time.Duration {
	if e.ResetAt.IsZero() || !e.ResetAt.After(now) {
		return 0
	}
	return e.ResetAt.Sub(now)
}

var (
	creditPattern = regexp.MustCompile(`(?i)out of extra usage`)
	resetPattern  = regexp.MustCompile(`(?i)resets\s+(\d{1,2})\s*(AM|PM)\s*\(([^)]+)\)`)
)

// ParseCreditExhaustion detects a credit-exhaustion message and extracts its
// reset time, e.g. "You are out of extra usage · resets 3AM
// (America/Los_Angeles)". The reset is resolved to the next occurrence of
// that wall-clock hour in the named timezone, always within 24 hours of now.
// Returns nil when msg is not a credit-exhaustion message at all; a matching
// message with an unparseable reset clause yields a zero ResetAt.
func ParseCreditExhaustion(msg string, now time.Time) *CreditExhaustedError {
	if !creditPattern.MatchString(msg) {
		return nil
	}
	out := &CreditExhaustedError{Message: msg}

	m := resetPattern.FindStringSubmatch(msg)
	if m == nil {
		return out
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return out
	}
	if hour == 12 {
		hour = 0
	}
	if m[2] == "PM" || m[2] == "pm" || m[2] == "Pm" || m[2] == "pM" {
		hour += 12
	}
	loc, err := time.LoadLocation(m[3])
	if err != nil {
		return out
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.Add(24 * time.Hour)
	}
	out.ResetAt = reset
	return out
}
