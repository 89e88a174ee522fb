package distribution

import (
	"fmt"
	"math"
)

// Component is one scenario in a mixture forecast: a unimodal
// sub-distribution given by its mode and central 80% interval.
type Component struct {
	Mode       float64
	LowerBound float64 // 10th percentile
	UpperBound float64 // 90th percentile
	Weight     float64
}

// BuildMixtureCDF converts a weighted scenario mixture into a standardised
// CDF. Each component becomes a piecewise-linear percentile spec (mode at
// the 50th percentile, bounds at the 10th and 90th); component CDFs are
// sampled on the shared grid, weighted-summed point-wise, and the sum is
// passed through the same standardisation pass as a plain percentile
// forecast.
func BuildMixtureCDF(components []Component, bounds Bounds) ([]float64, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("mixture needs at least one component")
	}

	total := 0.0
	for i, c := range components {
		if c.Weight < 0 {
			return nil, fmt.Errorf("component %d has negative weight %v", i, c.Weight)
		}
		total += c.Weight
	}
	if math.Abs(total-1) > 1e-3 {
		return nil, fmt.Errorf("component weights sum to %v, want 1", total)
	}

	n := bounds.size()
	sum := make([]float64, n)
	for i, c := range components {
		if !(c.LowerBound < c.Mode && c.Mode < c.UpperBound) {
			return nil, fmt.Errorf("component %d bounds not ordered: %v < %v < %v",
				i, c.LowerBound, c.Mode, c.UpperBound)
		}
		spec, err := NewSpec([]Point{
			{Pct: 0.10, Value: c.LowerBound},
			{Pct: 0.50, Value: c.Mode},
			{Pct: 0.90, Value: c.UpperBound},
		}, bounds)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		sampled := spec.sample()
		for j, v := range sampled {
			sum[j] += c.Weight * v
		}
	}

	return standardise(sum, bounds)
}
