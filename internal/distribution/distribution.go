// Package distribution converts sparse percentile forecasts and scenario
// mixtures into the dense CDF wire format required by the platform.
package distribution

import (
	"fmt"
	"math"
	"sort"
)

// DefaultCDFSize is the wire-format length for continuous questions.
// Discrete questions use inbound_outcome_count + 1 instead.
const DefaultCDFSize = 201

const (
	// minPctGap is the smallest allowed gap between adjacent declared
	// probabilities.
	minPctGap = 5e-5

	// Open-boundary spill: mass the platform requires outside open
	// bounds. The lower side gets less because questions skew towards
	// open upper tails.
	lowerSpill = 0.005
	upperSpill = 0.01

	// maxPMFBase is the per-bucket probability cap for the default
	// 201-point CDF; other sizes scale it inversely. 95% of the cap is
	// used as a safety margin.
	maxPMFBase   = 0.2
	pmfCapMargin = 0.95
)

// Point pairs a cumulative probability with a value on the question axis.
type Point struct {
	Pct   float64
	Value float64
}

// Bounds carries the question's range metadata.
type Bounds struct {
	RangeMin  float64
	RangeMax  float64
	OpenLower bool
	OpenUpper bool
	// ZeroPoint marks log-scaled questions when non-nil.
	ZeroPoint *float64
	// CDFSize is the output length (0 means DefaultCDFSize).
	CDFSize int
}

func (b *Bounds) size() int {
	if b.CDFSize > 1 {
		return b.CDFSize
	}
	return DefaultCDFSize
}

func (b *Bounds) width() float64 { return b.RangeMax - b.RangeMin }

// buffer is the offset used to keep declared values off the exact range
// boundaries: 1 unit for wide ranges, 1% of the range otherwise.
func (b *Bounds) buffer() float64 {
	if b.width() > 100 {
		return 1
	}
	return 0.01 * b.width()
}

// Spec is a validated sparse CDF specification ready for sampling.
type Spec struct {
	Points []Point
	Bounds Bounds
}

// NewSpec validates declared percentile points against the question bounds
// and returns a sampling-ready spec. Repeated values are ε-adjusted into a
// strictly increasing sequence; genuinely decreasing values are an error.
func NewSpec(points []Point, bounds Bounds) (*Spec, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("need at least two percentile points, got %d", len(points))
	}
	if bounds.width() <= 0 {
		return nil, fmt.Errorf("range [%v, %v] is empty", bounds.RangeMin, bounds.RangeMax)
	}

	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Pct < pts[j].Pct })

	for i := 1; i < len(pts); i++ {
		if pts[i].Pct-pts[i-1].Pct < minPctGap {
			return nil, fmt.Errorf("percentiles %v and %v closer than %v",
				pts[i-1].Pct, pts[i].Pct, minPctGap)
		}
	}

	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.Value
	}
	values, err := adjustRepeatedValues(values, bounds)
	if err != nil {
		return nil, err
	}
	for i := range pts {
		pts[i].Value = values[i]
	}

	if zp := bounds.ZeroPoint; zp != nil {
		if bounds.RangeMin <= *zp {
			return nil, fmt.Errorf("log-scaled question requires range_min (%v) > zero_point (%v)",
				bounds.RangeMin, *zp)
		}
		for _, p := range pts {
			if p.Value <= *zp {
				return nil, fmt.Errorf("declared value %v not above zero_point %v", p.Value, *zp)
			}
		}
	}

	// At least a quarter of the declared values must land near the
	// question range, otherwise the forecast is about a different scale.
	bufferZone := 0.25 * bounds.width()
	inRange := 0
	for _, p := range pts {
		if p.Value >= bounds.RangeMin-bufferZone && p.Value <= bounds.RangeMax+bufferZone {
			inRange++
		}
	}
	if float64(inRange) < 0.25*float64(len(pts)) {
		return nil, fmt.Errorf("only %d of %d declared values near range [%v, %v]",
			inRange, len(pts), bounds.RangeMin, bounds.RangeMax)
	}

	return &Spec{Points: pts, Bounds: bounds}, nil
}

// adjustRepeatedValues applies an ε-offset to runs of equal values so the
// value axis is strictly increasing. The offset direction depends on where
// the run sits: runs at or below range_min are pushed below it, runs at or
// above range_max above it, and interior runs are spread just below the
// repeated value. A genuinely decreasing sequence is rejected.
func adjustRepeatedValues(values []float64, bounds Bounds) ([]float64, error) {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return nil, fmt.Errorf("declared values must be non-decreasing: %v after %v",
				values[i], values[i-1])
		}
	}

	eps := bounds.width() * 1e-7
	out := make([]float64, len(values))
	copy(out, values)

	i := 0
	for i < len(out) {
		j := i
		for j+1 < len(out) && out[j+1] == out[i] {
			j++
		}
		if j > i {
			v := out[i]
			switch {
			case v <= bounds.RangeMin:
				// Spread downward below range_min.
				for k := i; k < j; k++ {
					out[k] = v - float64(j-k)*eps
				}
			case v >= bounds.RangeMax:
				// Spread upward above range_max.
				for k := i + 1; k <= j; k++ {
					out[k] = v + float64(k-i)*eps
				}
			default:
				// Spread earlier members just below the value.
				for k := i; k < j; k++ {
					out[k] = v - float64(j-k)*eps
				}
			}
		}
		i = j + 1
	}

	for i := 1; i < len(out); i++ {
		if out[i] <= out[i-1] {
			return nil, fmt.Errorf("value axis not strictly increasing after adjustment at index %d", i)
		}
	}
	return out, nil
}

// withBoundaries extends the declared points to cover the full range.
// Closed bounds pin 0%/100% at the range limits; open bounds interpolate a
// half-way percentile at the limit, leaving tail mass outside.
func (s *Spec) withBoundaries() []Point {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	b := s.Bounds

	first := pts[0]
	if first.Value > b.RangeMin {
		if b.OpenLower {
			pts = append([]Point{{Pct: first.Pct / 2, Value: b.RangeMin}}, pts...)
		} else {
			pts = append([]Point{{Pct: 0, Value: b.RangeMin}}, pts...)
		}
	} else if !b.OpenLower {
		// Declared mass at or below a closed bound: pin zero just
		// inside to avoid a spike at the boundary.
		pts = append([]Point{{Pct: 0, Value: first.Value - b.buffer()}}, pts...)
	}

	last := pts[len(pts)-1]
	if last.Value < b.RangeMax {
		if b.OpenUpper {
			pts = append(pts, Point{Pct: last.Pct + (1-last.Pct)/2, Value: b.RangeMax})
		} else {
			pts = append(pts, Point{Pct: 1, Value: b.RangeMax})
		}
	} else if !b.OpenUpper {
		pts = append(pts, Point{Pct: 1, Value: last.Value + b.buffer()})
	}

	// Drop points that crowd their neighbour on the probability axis.
	cleaned := pts[:1]
	for _, p := range pts[1:] {
		if p.Pct-cleaned[len(cleaned)-1].Pct >= minPctGap {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

// location maps a question-axis value to the [0,1] CDF location axis.
// Linear questions use a straight rescale; log-scaled questions use the
// platform's deriv-ratio transform.
func (b *Bounds) location(v float64) float64 {
	if b.ZeroPoint == nil {
		return (v - b.RangeMin) / b.width()
	}
	zp := *b.ZeroPoint
	derivRatio := (b.RangeMax - zp) / (b.RangeMin - zp)
	num := math.Log((v-b.RangeMin)*(derivRatio-1) + b.width())
	return (num - math.Log(b.width())) / math.Log(derivRatio)
}
