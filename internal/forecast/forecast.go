// Package forecast defines the structured forecast types the model emits,
// their JSON schemas, and conversion to the platform wire format.
package forecast

import (
	"fmt"
	"sort"
	"time"

	"github.com/haasonsaas/augur/internal/metaculus"
)

// PercentileMarks are the probability marks of the sparse numeric
// representation, in order.
var PercentileMarks = []int{10, 20, 40, 60, 80, 90}

// Factor is one consideration behind a forecast. Logit is the factor's
// directional pull in log-odds space; Confidence is the model's weight on
// it in [0,1].
type Factor struct {
	Description string  `json:"description" jsonschema:"description=What this factor is and which way it cuts"`
	Logit       float64 `json:"logit" jsonschema:"description=Directional pull in log-odds; positive favours yes/higher"`
	Confidence  float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// Binary is the structured output for binary questions.
type Binary struct {
	Summary     string   `json:"summary"`
	Factors     []Factor `json:"factors"`
	Logit       float64  `json:"logit"`
	Probability float64  `json:"probability" jsonschema:"minimum=0,maximum=1"`
}

// Percentiles is the sparse six-point numeric representation. Values must
// be strictly increasing.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P20 float64 `json:"p20"`
	P40 float64 `json:"p40"`
	P60 float64 `json:"p60"`
	P80 float64 `json:"p80"`
	P90 float64 `json:"p90"`
}

// Values returns the declared values in mark order.
func (p *Percentiles) Values() []float64 {
	return []float64{p.P10, p.P20, p.P40, p.P60, p.P80, p.P90}
}

// Scenario is one component of a mixture forecast: a unimodal
// sub-distribution described by its mode and central 80% interval.
type Scenario struct {
	Mode       float64 `json:"mode"`
	LowerBound float64 `json:"lower_bound" jsonschema:"description=10th percentile of this scenario"`
	UpperBound float64 `json:"upper_bound" jsonschema:"description=90th percentile of this scenario"`
	Weight     float64 `json:"weight" jsonschema:"minimum=0,maximum=1"`
}

// Numeric is the structured output for numeric and discrete questions.
// Exactly one of Percentiles or Scenarios must be set.
type Numeric struct {
	Summary     string       `json:"summary"`
	Factors     []Factor     `json:"factors"`
	Percentiles *Percentiles `json:"percentiles,omitempty"`
	Scenarios   []Scenario   `json:"scenarios,omitempty" jsonschema:"description=Alternative to percentiles: weighted scenario mixture"`
}

// MultipleChoice is the structured output for multiple-choice questions.
type MultipleChoice struct {
	Summary       string             `json:"summary"`
	Factors       []Factor           `json:"factors"`
	Probabilities map[string]float64 `json:"probabilities" jsonschema:"description=Probability per option label; must sum to 1"`
}

// Forecast is the tagged union over question types. Exactly one payload
// pointer is non-nil, matching Type.
type Forecast struct {
	Type           metaculus.QuestionType `json:"question_type"`
	Binary         *Binary                `json:"binary,omitempty"`
	Numeric        *Numeric               `json:"numeric,omitempty"`
	MultipleChoice *MultipleChoice        `json:"multiple_choice,omitempty"`
}

// Summary returns the shared summary text of whichever payload is set.
func (f *Forecast) Summary() string {
	switch {
	case f.Binary != nil:
		return f.Binary.Summary
	case f.Numeric != nil:
		return f.Numeric.Summary
	case f.MultipleChoice != nil:
		return f.MultipleChoice.Summary
	}
	return ""
}

// Factors returns the shared factor list of whichever payload is set.
func (f *Forecast) Factors() []Factor {
	switch {
	case f.Binary != nil:
		return f.Binary.Factors
	case f.Numeric != nil:
		return f.Numeric.Factors
	case f.MultipleChoice != nil:
		return f.MultipleChoice.Factors
	}
	return nil
}

// Validate checks the tagged-union and per-type invariants.
func (f *Forecast) Validate() error {
	set := 0
	if f.Binary != nil {
		set++
	}
	if f.Numeric != nil {
		set++
	}
	if f.MultipleChoice != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("forecast must carry exactly one payload, got %d", set)
	}

	switch f.Type {
	case metaculus.TypeBinary:
		if f.Binary == nil {
			return fmt.Errorf("binary forecast missing binary payload")
		}
		if f.Binary.Probability < 0 || f.Binary.Probability > 1 {
			return fmt.Errorf("probability %v outside [0,1]", f.Binary.Probability)
		}
	case metaculus.TypeNumeric, metaculus.TypeDiscrete, metaculus.TypeDate:
		if f.Numeric == nil {
			return fmt.Errorf("%s forecast missing numeric payload", f.Type)
		}
		hasPercentiles := f.Numeric.Percentiles != nil
		hasScenarios := len(f.Numeric.Scenarios) > 0
		if hasPercentiles == hasScenarios {
			return fmt.Errorf("numeric forecast needs exactly one of percentiles or scenarios")
		}
		if hasScenarios {
			total := 0.0
			for _, s := range f.Numeric.Scenarios {
				if s.Weight < 0 {
					return fmt.Errorf("scenario weight %v is negative", s.Weight)
				}
				total += s.Weight
			}
			if total < 0.999 || total > 1.001 {
				return fmt.Errorf("scenario weights sum to %v, want 1", total)
			}
		}
	case metaculus.TypeMultipleChoice:
		if f.MultipleChoice == nil {
			return fmt.Errorf("multiple_choice forecast missing payload")
		}
		total := 0.0
		for option, p := range f.MultipleChoice.Probabilities {
			if p < 0 || p > 1 {
				return fmt.Errorf("option %q probability %v outside [0,1]", option, p)
			}
			total += p
		}
		if total < 0.999 || total > 1.001 {
			return fmt.Errorf("option probabilities sum to %v, want 1", total)
		}
	default:
		return fmt.Errorf("unknown question type %q", f.Type)
	}
	return nil
}

// Neutral returns the defaulted forecast substituted when the model fails
// to produce valid structured output: binary 0.5, numeric all-zero,
// multiple choice empty.
func Neutral(questionType metaculus.QuestionType, options []string) *Forecast {
	switch questionType {
	case metaculus.TypeBinary:
		return &Forecast{
			Type:   questionType,
			Binary: &Binary{Probability: 0.5},
		}
	case metaculus.TypeMultipleChoice:
		probs := make(map[string]float64, len(options))
		if n := len(options); n > 0 {
			for _, opt := range options {
				probs[opt] = 1.0 / float64(n)
			}
		}
		return &Forecast{
			Type:           questionType,
			MultipleChoice: &MultipleChoice{Probabilities: probs},
		}
	default:
		return &Forecast{
			Type:    questionType,
			Numeric: &Numeric{},
		}
	}
}

// TokenUsage tracks model token consumption for a run.
type TokenUsage struct {
	Input  int64 `json:"input_tokens"`
	Output int64 `json:"output_tokens"`
}

// ToolMetrics summarises tool activity during a run.
type ToolMetrics struct {
	Calls  int            `json:"calls"`
	Errors int            `json:"errors"`
	ByName map[string]int `json:"by_name,omitempty"`
}

// Output packages a completed forecast with run metadata.
type Output struct {
	QuestionID    int64         `json:"question_id"`
	PostID        int64         `json:"post_id"`
	QuestionTitle string        `json:"question_title"`
	QuestionType  metaculus.QuestionType `json:"question_type"`
	Forecast      *Forecast     `json:"forecast"`
	Reasoning     string        `json:"reasoning,omitempty"`
	Sources       []string      `json:"sources,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	CostUSD       float64       `json:"cost_usd"`
	Tokens        TokenUsage    `json:"tokens"`
	Tools         ToolMetrics   `json:"tools"`

	// CDF is the generated wire-format distribution, numeric/discrete only.
	CDF []float64 `json:"cdf,omitempty"`

	// Defaulted marks runs where the model produced no valid structured
	// output and a neutral forecast was substituted.
	Defaulted bool `json:"defaulted,omitempty"`

	// RetrodictDate is set when the forecast was produced in
	// time-restricted mode.
	RetrodictDate string `json:"retrodict_date,omitempty"`

	SessionID string `json:"session_id,omitempty"`
}

// SortedOptions returns multiple-choice option labels in stable order.
func SortedOptions(probs map[string]float64) []string {
	options := make([]string, 0, len(probs))
	for option := range probs {
		options = append(options, option)
	}
	sort.Strings(options)
	return options
}
