// Package subquestion lets the model decompose a question into independent
// sub-questions and forecast them concurrently. No aggregation happens
// here; the calling agent synthesises the sub-forecasts itself.
package subquestion

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/forecast"
	"github.com/haasonsaas/augur/internal/observability"
)

// maxSubquestions bounds a single fan-out.
const maxSubquestions = 5

// Bounds describes the numeric range of a sub-question.
type Bounds struct {
	RangeMin       float64 `json:"range_min"`
	RangeMax       float64 `json:"range_max"`
	OpenLowerBound bool    `json:"open_lower_bound,omitempty"`
	OpenUpperBound bool    `json:"open_upper_bound,omitempty"`
}

// Spec is one sub-question as the model poses it.
type Spec struct {
	Question      string   `json:"question"`
	Context       string   `json:"context,omitempty"`
	Weight        float64  `json:"weight,omitempty"`
	Type          string   `json:"type,omitempty"`
	Options       []string `json:"options,omitempty"`
	NumericBounds *Bounds  `json:"numeric_bounds,omitempty"`
}

// Forecaster produces a forecast for one sub-question. The orchestrator
// supplies a closure that runs a full model loop with spawning disabled.
type Forecaster func(ctx context.Context, spec Spec) (*forecast.Output, error)

// Register adds the spawn tool under its built-in (unqualified) name.
func Register(r *agent.Registry, run Forecaster, log *observability.Logger) error {
	return r.RegisterBuiltin(&Tool{run: run, log: log})
}

// Tool is the sub-question fan-out tool.
type Tool struct {
	run Forecaster
	log *observability.Logger
}

func (t *Tool) Name() string { return "spawn_subquestions" }

func (t *Tool) Description() string {
	return "Decompose the question: forecast up to 5 independent sub-questions concurrently and return their results. You must synthesise them yourself; no aggregation is applied."
}

func (t *Tool) Schema() json.RawMessage {
	payload, err := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subquestions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"context":  map[string]any{"type": "string"},
						"weight":   map[string]any{"type": "number", "description": "Relative weight for your synthesis (default 1.0)."},
						"type":     map[string]any{"type": "string", "enum": []string{"binary", "numeric", "multiple_choice"}},
						"options":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"numeric_bounds": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"range_min":        map[string]any{"type": "number"},
								"range_max":        map[string]any{"type": "number"},
								"open_lower_bound": map[string]any{"type": "boolean"},
								"open_upper_bound": map[string]any{"type": "boolean"},
							},
						},
					},
					"required": []string{"question"},
				},
			},
		},
		"required": []string{"subquestions"},
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// subResult is one completed or failed sub-forecast in the tool output.
type subResult struct {
	Question      string             `json:"question"`
	Type          string             `json:"type"`
	Weight        float64            `json:"weight"`
	Error         string             `json:"error,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	Probability   *float64           `json:"probability,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Percentiles   *forecast.Percentiles `json:"percentiles,omitempty"`
	Defaulted     bool               `json:"defaulted,omitempty"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Subquestions []Spec `json:"subquestions"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return agent.NewToolError("invalid parameters: %v", err), nil
	}
	if len(input.Subquestions) == 0 {
		return agent.NewToolError("subquestions is required"), nil
	}
	if len(input.Subquestions) > maxSubquestions {
		return agent.NewToolError("at most %d subquestions can be spawned", maxSubquestions), nil
	}

	results := make([]subResult, len(input.Subquestions))
	var wg sync.WaitGroup
	for i, spec := range input.Subquestions {
		if spec.Weight == 0 {
			spec.Weight = 1.0
		}
		if spec.Type == "" {
			spec.Type = "binary"
		}
		results[i] = subResult{Question: spec.Question, Type: spec.Type, Weight: spec.Weight}

		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := t.run(ctx, spec)
			if err != nil {
				t.log.Warn(ctx, "sub-forecast failed",
					"question", spec.Question, "error", err)
				results[i].Error = err.Error()
				return
			}
			fillResult(&results[i], out)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Error == "" {
			succeeded++
		}
	}
	if succeeded == 0 {
		return agent.NewToolError("all %d sub-forecasts failed", len(results)), nil
	}

	return agent.JSONResult(map[string]any{
		"subforecasts":     results,
		"successful_count": succeeded,
		"failed_count":     len(results) - succeeded,
	}), nil
}

func fillResult(r *subResult, out *forecast.Output) {
	r.Defaulted = out.Defaulted
	f := out.Forecast
	if f == nil {
		r.Error = "sub-forecast produced no output"
		return
	}
	r.Summary = f.Summary()
	switch {
	case f.Binary != nil:
		p := f.Binary.Probability
		r.Probability = &p
	case f.MultipleChoice != nil:
		r.Probabilities = f.MultipleChoice.Probabilities
	case f.Numeric != nil:
		r.Percentiles = f.Numeric.Percentiles
	}
}
