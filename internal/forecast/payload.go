package forecast

import (
	"fmt"

	"github.com/haasonsaas/augur/internal/metaculus"
)

// BuildPayload converts a completed forecast output into the platform wire
// payload. Exactly one prediction field is populated, by question type:
//
//   - binary:          probability_yes in (0,1)
//   - multiple_choice: probability_yes_per_category summing to 1
//   - numeric/discrete: continuous_cdf of exactly the question's CDF size
func BuildPayload(out *Output, cdfSize int) (metaculus.ForecastPayload, error) {
	payload := metaculus.ForecastPayload{Question: out.QuestionID}
	if out.Forecast == nil {
		return payload, fmt.Errorf("output carries no forecast")
	}

	switch out.Forecast.Type {
	case metaculus.TypeBinary:
		p := out.Forecast.Binary.Probability
		if p <= 0 || p >= 1 {
			// The platform rejects exact 0 and 1; nudge inside the
			// open interval.
			p = clamp(p, 0.001, 0.999)
		}
		payload.ProbabilityYes = &p

	case metaculus.TypeMultipleChoice:
		probs := out.Forecast.MultipleChoice.Probabilities
		if len(probs) == 0 {
			return payload, fmt.Errorf("multiple choice forecast has no probabilities")
		}
		payload.ProbabilityYesPerCategory = probs

	case metaculus.TypeNumeric, metaculus.TypeDiscrete, metaculus.TypeDate:
		if len(out.CDF) == 0 {
			return payload, fmt.Errorf("numeric forecast has no generated CDF")
		}
		if len(out.CDF) != cdfSize {
			return payload, fmt.Errorf("CDF length %d, want %d", len(out.CDF), cdfSize)
		}
		for i, v := range out.CDF {
			if v < 0 || v > 1 {
				return payload, fmt.Errorf("CDF entry %d = %v outside [0,1]", i, v)
			}
			if i > 0 && v < out.CDF[i-1] {
				return payload, fmt.Errorf("CDF decreases at entry %d", i)
			}
		}
		payload.ContinuousCDF = out.CDF

	default:
		return payload, fmt.Errorf("unsupported question type %q", out.Forecast.Type)
	}
	return payload, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
