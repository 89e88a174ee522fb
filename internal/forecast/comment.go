package forecast

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/augur/internal/metaculus"
)

// RenderComment produces the markdown reasoning comment posted alongside a
// forecast: summary, final point estimate, the weighted factors, and a
// source count.
func RenderComment(out *Output) string {
	var sb strings.Builder

	sb.WriteString("## Forecast\n\n")
	if summary := out.Forecast.Summary(); summary != "" {
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}

	sb.WriteString(renderEstimate(out))
	sb.WriteString("\n")

	if factors := out.Forecast.Factors(); len(factors) > 0 {
		sb.WriteString("\n### Factors\n\n")
		for _, f := range factors {
			sign := "+"
			if f.Logit < 0 {
				sign = "−"
			}
			sb.WriteString(fmt.Sprintf("- %s (%s%.2f, confidence %.0f%%)\n",
				f.Description, sign, abs(f.Logit), f.Confidence*100))
		}
	}

	if n := len(out.Sources); n > 0 {
		sb.WriteString(fmt.Sprintf("\n_%d sources consulted._\n", n))
	}
	if out.RetrodictDate != "" {
		sb.WriteString(fmt.Sprintf("\n_Retrodiction as of %s._\n", out.RetrodictDate))
	}
	return sb.String()
}

func renderEstimate(out *Output) string {
	switch out.Forecast.Type {
	case metaculus.TypeBinary:
		return fmt.Sprintf("**Probability: %.1f%%**", out.Forecast.Binary.Probability*100)

	case metaculus.TypeMultipleChoice:
		probs := out.Forecast.MultipleChoice.Probabilities
		var sb strings.Builder
		sb.WriteString("**Probabilities:**\n\n")
		for _, option := range SortedOptions(probs) {
			sb.WriteString(fmt.Sprintf("- %s: %.1f%%\n", option, probs[option]*100))
		}
		return sb.String()

	default:
		numeric := out.Forecast.Numeric
		if numeric != nil && numeric.Percentiles != nil {
			p := numeric.Percentiles
			// No 50th mark in the sparse spec; midpoint of 40/60 stands in.
			return fmt.Sprintf("**Median: %v** (80%% CI: %v – %v)", (p.P40+p.P60)/2, p.P10, p.P90)
		}
		if numeric != nil && len(numeric.Scenarios) > 0 {
			var sb strings.Builder
			sb.WriteString("**Scenarios:**\n\n")
			for _, s := range numeric.Scenarios {
				sb.WriteString(fmt.Sprintf("- mode %v (80%% CI %v – %v), weight %.0f%%\n",
					s.Mode, s.LowerBound, s.UpperBound, s.Weight*100))
			}
			return sb.String()
		}
		return "**Distribution submitted.**"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
