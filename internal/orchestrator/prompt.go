package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/metaculus"
)

// systemPrompt renders the session's system message: role, date context,
// type-specific output guidance, the JSON schema the final answer must
// satisfy, and the available tool docs.
func systemPrompt(q *metaculus.Question, cutoff *time.Time, schema json.RawMessage, registry *agent.Registry) string {
	var b strings.Builder

	b.WriteString("You are a superforecaster producing a calibrated probabilistic forecast for a tournament question. ")
	b.WriteString("Research thoroughly with the available tools before committing to numbers: look for base rates, recent developments, market prices, and expert opinion. ")
	b.WriteString("Weigh evidence explicitly and state your reasoning before the final answer.\n\n")

	if cutoff != nil {
		fmt.Fprintf(&b, "IMPORTANT: you are forecasting as of %s. ", cutoff.Format("2006-01-02"))
		b.WriteString("Your research tools only return information published on or before that date. ")
		b.WriteString("Reason strictly from the perspective of that date; do not use or allude to anything you may know about later events.\n\n")
	} else {
		fmt.Fprintf(&b, "Today's date is %s.\n\n", time.Now().UTC().Format("2006-01-02"))
	}

	b.WriteString(typeGuidance(q))
	b.WriteString("\n\nWhen your research is complete, end your final message with a single fenced ```json block containing your forecast. It must conform to this schema:\n\n")
	b.Write(schema)
	b.WriteString("\n\n## Available tools\n\n")
	b.WriteString(registry.Docs())
	return b.String()
}

func typeGuidance(q *metaculus.Question) string {
	switch q.Type {
	case metaculus.TypeBinary:
		return "This is a binary question. Decompose your view into factors with directional log-odds pulls, combine them into a final logit, and report the matching probability. Avoid overconfidence: probabilities outside [0.02, 0.98] need overwhelming evidence."
	case metaculus.TypeMultipleChoice:
		var b strings.Builder
		b.WriteString("This is a multiple-choice question. Assign a probability to every option; they must sum to 1. Options:\n")
		for _, opt := range q.Options {
			fmt.Fprintf(&b, "- %s\n", opt)
		}
		b.WriteString("Leave a little probability on unlikely options; questions resolve in surprising ways.")
		return b.String()
	case metaculus.TypeNumeric, metaculus.TypeDiscrete, metaculus.TypeDate:
		var b strings.Builder
		fmt.Fprintf(&b, "This is a %s question. ", q.Type)
		b.WriteString("Report either six percentiles (p10/p20/p40/p60/p80/p90, strictly increasing) or a weighted scenario mixture. Keep your distribution wide: unknown unknowns widen real outcome ranges beyond naive estimates.")
		if q.RangeMin != nil && q.RangeMax != nil {
			fmt.Fprintf(&b, " The answerable range is [%g, %g]", *q.RangeMin, *q.RangeMax)
			switch {
			case q.OpenLowerBound && q.OpenUpperBound:
				b.WriteString(" with both bounds open (outcomes outside the range are possible).")
			case q.OpenLowerBound:
				b.WriteString(" with an open lower bound.")
			case q.OpenUpperBound:
				b.WriteString(" with an open upper bound.")
			default:
				b.WriteString(" with both bounds closed.")
			}
		}
		if q.Type == metaculus.TypeDate {
			b.WriteString(" Express values as Unix timestamps in seconds.")
		}
		return b.String()
	}
	return ""
}

// questionPrompt renders the question itself as the opening user message.
func questionPrompt(q *metaculus.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", q.Title)
	if q.PostID != 0 {
		fmt.Fprintf(&b, "\nPost ID: %d\n", q.PostID)
	}
	if q.Description != "" {
		fmt.Fprintf(&b, "\n## Background\n\n%s\n", q.Description)
	}
	if q.ResolutionCriteria != "" {
		fmt.Fprintf(&b, "\n## Resolution criteria\n\n%s\n", q.ResolutionCriteria)
	}
	if q.FinePrint != "" {
		fmt.Fprintf(&b, "\n## Fine print\n\n%s\n", q.FinePrint)
	}
	if q.ScheduledResolveTime != nil {
		fmt.Fprintf(&b, "\nScheduled resolution: %s\n", q.ScheduledResolveTime.Format("2006-01-02"))
	}
	b.WriteString("\nResearch this question and produce your forecast.")
	return b.String()
}
