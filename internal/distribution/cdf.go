package distribution

import (
	"fmt"
	"math"
)

// BuildCDF runs the full pipeline: boundary extension, location mapping,
// grid sampling, and standardisation against the platform validity rules.
func BuildCDF(spec *Spec) ([]float64, error) {
	sampled := spec.sample()
	return standardise(sampled, spec.Bounds)
}

// sample evaluates the piecewise-linear CDF at the evenly spaced location
// grid. The boundary-extended point set always covers locations 0 and 1.
func (s *Spec) sample() []float64 {
	pts := s.withBoundaries()
	b := s.Bounds
	n := b.size()

	type locPoint struct{ loc, pct float64 }
	locs := make([]locPoint, len(pts))
	for i, p := range pts {
		locs[i] = locPoint{loc: b.location(p.Value), pct: p.Pct}
	}

	cdf := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)

		// Find the segment containing x.
		j := 0
		for j < len(locs)-1 && locs[j+1].loc < x {
			j++
		}
		switch {
		case x <= locs[0].loc:
			cdf[i] = locs[0].pct
		case x >= locs[len(locs)-1].loc:
			cdf[i] = locs[len(locs)-1].pct
		default:
			a, c := locs[j], locs[j+1]
			if c.loc == a.loc {
				cdf[i] = c.pct
			} else {
				t := (x - a.loc) / (c.loc - a.loc)
				cdf[i] = a.pct + t*(c.pct-a.pct)
			}
		}
	}
	return cdf
}

// standardise applies the platform's CDF validity rules: zero mass
// outside closed bounds, a minimum spill outside open ones, per-bucket
// PMF cap with endpoint-preserving renormalisation, monotonicity, and
// 10-decimal rounding.
func standardise(cdf []float64, b Bounds) ([]float64, error) {
	n := len(cdf)
	if n < 2 {
		return nil, fmt.Errorf("cdf too short: %d", n)
	}

	// Monotone by construction, but interpolation noise can produce
	// microscopic dips.
	for i := 1; i < n; i++ {
		if cdf[i] < cdf[i-1] {
			cdf[i] = cdf[i-1]
		}
	}

	if cdf[n-1]-cdf[0] <= 0 {
		return nil, fmt.Errorf("degenerate distribution: no mass inside the range")
	}

	// The open-bound spill is a floor, not a target. Interior entries
	// that already satisfy the rules stay exactly where the sampled
	// forecast put them; only a violating tail is clamped onto the
	// boundary value.
	scaled := make([]float64, n)
	copy(scaled, cdf)
	if b.OpenLower {
		for i := range scaled {
			if scaled[i] < lowerSpill {
				scaled[i] = lowerSpill
			}
		}
	} else {
		scaled[0] = 0
	}
	if b.OpenUpper {
		for i := range scaled {
			if scaled[i] > 1-upperSpill {
				scaled[i] = 1 - upperSpill
			}
		}
	} else {
		scaled[n-1] = 1
	}

	capped, err := capPMF(scaled, b)
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	for i, v := range capped {
		out[i] = math.Round(v*1e10) / 1e10
		if out[i] < 0 {
			out[i] = 0
		}
		if out[i] > 1 {
			out[i] = 1
		}
		if i > 0 && out[i] < out[i-1] {
			out[i] = out[i-1]
		}
	}
	return out, nil
}

// MaxPMF returns the per-bucket probability cap for a CDF of the given
// size: 0.2 at the default 201 points, scaled inversely for other sizes.
func MaxPMF(size int) float64 {
	cap := maxPMFBase * float64(DefaultCDFSize-1) / float64(size-1)
	if cap > 1 {
		cap = 1
	}
	return cap
}

// capPMF limits each interior PMF bucket to the size-scaled cap. When a
// bucket exceeds the cap, the uncapped buckets are scaled up by a
// binary-searched factor so the interior mass (and with it both endpoint
// values) is preserved.
func capPMF(cdf []float64, b Bounds) ([]float64, error) {
	n := len(cdf)
	cap := MaxPMF(n) * pmfCapMargin

	diffs := make([]float64, n-1)
	exceeds := false
	for i := 1; i < n; i++ {
		diffs[i-1] = cdf[i] - cdf[i-1]
		if diffs[i-1] > cap {
			exceeds = true
		}
	}
	if !exceeds {
		return cdf, nil
	}

	target := cdf[n-1] - cdf[0]
	if float64(n-1)*cap < target {
		return nil, fmt.Errorf("interior mass %v cannot fit under PMF cap %v", target, cap)
	}

	sumAt := func(scale float64) float64 {
		total := 0.0
		for _, d := range diffs {
			total += math.Min(d*scale, cap)
		}
		return total
	}

	lo, hi := 1.0, 2.0
	for sumAt(hi) < target && hi < 1e12 {
		hi *= 2
	}
	for iter := 0; iter < 100; iter++ {
		mid := (lo + hi) / 2
		if sumAt(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	scale := hi

	out := make([]float64, n)
	out[0] = cdf[0]
	running := cdf[0]
	total := sumAt(scale)
	for i, d := range diffs {
		// Normalise residual drift from the binary search so the last
		// entry lands exactly on the original endpoint.
		running += math.Min(d*scale, cap) * target / total
		out[i+1] = running
	}
	return out, nil
}

// CDFAt evaluates a generated CDF at a question-axis value by linear
// interpolation on the location grid. Used for diagnostics and round-trip
// checks.
func CDFAt(cdf []float64, b Bounds, value float64) float64 {
	n := len(cdf)
	loc := b.location(value)
	if loc <= 0 {
		return cdf[0]
	}
	if loc >= 1 {
		return cdf[n-1]
	}
	pos := loc * float64(n-1)
	i := int(math.Floor(pos))
	if i >= n-1 {
		return cdf[n-1]
	}
	frac := pos - float64(i)
	return cdf[i] + frac*(cdf[i+1]-cdf[i])
}
