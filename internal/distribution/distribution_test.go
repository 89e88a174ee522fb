package distribution

import (
	"math"
	"testing"
)

func sixPoints(values [6]float64) []Point {
	marks := []float64{0.10, 0.20, 0.40, 0.60, 0.80, 0.90}
	pts := make([]Point, 6)
	for i, m := range marks {
		pts[i] = Point{Pct: m, Value: values[i]}
	}
	return pts
}

func assertValidCDF(t *testing.T, cdf []float64, b Bounds) {
	t.Helper()
	if len(cdf) != b.size() {
		t.Fatalf("cdf length = %d, want %d", len(cdf), b.size())
	}
	capLimit := MaxPMF(len(cdf))
	for i, v := range cdf {
		if v < 0 || v > 1 {
			t.Errorf("entry %d = %v outside [0,1]", i, v)
		}
		if i > 0 {
			if v < cdf[i-1] {
				t.Errorf("cdf decreases at %d: %v < %v", i, v, cdf[i-1])
			}
			if diff := v - cdf[i-1]; diff > capLimit+1e-9 {
				t.Errorf("pmf bucket %d = %v exceeds cap %v", i, diff, capLimit)
			}
		}
	}
}

func TestBuildCDF_OpenUpper(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 500, OpenUpper: true}
	spec, err := NewSpec(sixPoints([6]float64{100, 120, 150, 180, 220, 280}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}

	assertValidCDF(t, cdf, bounds)
	if cdf[0] != 0 {
		t.Errorf("closed lower bound: first entry = %v, want 0", cdf[0])
	}
	// The half-way boundary extension leaves 0.05 above the open bound,
	// already past the required spill.
	if got := cdf[len(cdf)-1]; math.Abs(got-0.95) > 1e-9 {
		t.Errorf("open upper bound: last entry = %v, want 0.95", got)
	}

	// Declared p40 = 150 survives standardisation untouched.
	if got := CDFAt(cdf, bounds, 150); math.Abs(got-0.40) > 1e-9 {
		t.Errorf("CDF(150) = %v, want 0.40", got)
	}
}

func TestBuildCDF_OpenBoundsPreserveInterior(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 500, OpenLower: true, OpenUpper: true}
	spec, err := NewSpec(sixPoints([6]float64{100, 120, 150, 180, 220, 280}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)

	// Tail mass already clears both spill floors, so every declared
	// percentile reads back exactly.
	for i, mark := range []float64{0.10, 0.20, 0.40, 0.60, 0.80, 0.90} {
		v := spec.Points[i].Value
		if got := CDFAt(cdf, bounds, v); math.Abs(got-mark) > 1e-9 {
			t.Errorf("CDF(%v) = %v, want %v", v, got, mark)
		}
	}
	if cdf[0] < lowerSpill {
		t.Errorf("first entry = %v, below the open-bound spill floor", cdf[0])
	}
	if last := cdf[len(cdf)-1]; last > 1-upperSpill {
		t.Errorf("last entry = %v, above the open-bound ceiling", last)
	}
}

func TestBuildCDF_SpillFloorClampsViolatingTail(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 500, OpenLower: true}
	// First declared mark at 0.1% puts only 0.05% below the open bound,
	// under the required spill.
	pts := []Point{
		{Pct: 0.001, Value: 100},
		{Pct: 0.40, Value: 200},
		{Pct: 0.90, Value: 400},
	}
	spec, err := NewSpec(pts, bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)

	if cdf[0] != lowerSpill {
		t.Errorf("first entry = %v, want clamped to %v", cdf[0], lowerSpill)
	}
	// Entries past the violating tail are untouched.
	if got := CDFAt(cdf, bounds, 200); math.Abs(got-0.40) > 1e-9 {
		t.Errorf("CDF(200) = %v, want 0.40", got)
	}
}

func TestBuildCDF_ClosedBounds(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 100}
	spec, err := NewSpec(sixPoints([6]float64{20, 30, 45, 55, 70, 80}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}

	assertValidCDF(t, cdf, bounds)
	if cdf[0] != 0 {
		t.Errorf("first entry = %v, want 0", cdf[0])
	}
	if cdf[len(cdf)-1] != 1 {
		t.Errorf("last entry = %v, want 1", cdf[len(cdf)-1])
	}
}

func TestBuildCDF_RepeatedValues(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 500, OpenUpper: true}
	spec, err := NewSpec(sixPoints([6]float64{100, 100, 150, 180, 220, 280}), bounds)
	if err != nil {
		t.Fatal(err)
	}

	// ε-adjustment must leave the value axis strictly increasing.
	for i := 1; i < len(spec.Points); i++ {
		if spec.Points[i].Value <= spec.Points[i-1].Value {
			t.Fatalf("values not strictly increasing after adjustment: %v",
				spec.Points)
		}
	}

	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)
}

func TestNewSpec_ValidationIdempotence(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 500}
	input := sixPoints([6]float64{100, 120, 150, 180, 220, 280})

	spec, err := NewSpec(input, bounds)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range spec.Points {
		if p.Value != input[i].Value {
			t.Errorf("valid input mutated at %d: %v != %v", i, p.Value, input[i].Value)
		}
	}
}

func TestNewSpec_Rejections(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 100}

	if _, err := NewSpec(sixPoints([6]float64{50, 40, 60, 70, 80, 90}), bounds); err == nil {
		t.Error("decreasing values should be rejected")
	}

	// All declared values far outside the range buffer.
	if _, err := NewSpec(sixPoints([6]float64{1000, 1100, 1200, 1300, 1400, 1500}), bounds); err == nil {
		t.Error("out-of-scale values should be rejected")
	}

	zp := 50.0
	logBounds := Bounds{RangeMin: 10, RangeMax: 100, ZeroPoint: &zp}
	if _, err := NewSpec(sixPoints([6]float64{20, 30, 45, 55, 70, 80}), logBounds); err == nil {
		t.Error("range_min below zero_point should be rejected for log scale")
	}
}

func TestBuildCDF_LogScaled(t *testing.T) {
	zp := 0.0
	bounds := Bounds{RangeMin: 1, RangeMax: 1000, OpenUpper: true, ZeroPoint: &zp}
	spec, err := NewSpec(sixPoints([6]float64{5, 10, 50, 100, 300, 600}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)

	// The log transform maps the geometric middle near grid centre.
	mid := CDFAt(cdf, bounds, 50)
	if mid < 0.3 || mid > 0.55 {
		t.Errorf("CDF(50) = %v, expected near the declared 0.4 mark", mid)
	}
}

func TestBuildCDF_DiscreteSize(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 10, CDFSize: 11}
	spec, err := NewSpec(sixPoints([6]float64{2, 3, 4.5, 5.5, 7, 8}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(cdf) != 11 {
		t.Fatalf("discrete cdf length = %d, want 11", len(cdf))
	}
	assertValidCDF(t, cdf, bounds)
}

func TestRoundTrip_PercentilesThroughCDF(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 100}
	values := [6]float64{20, 30, 45, 55, 70, 80}
	marks := []float64{0.10, 0.20, 0.40, 0.60, 0.80, 0.90}

	spec, err := NewSpec(sixPoints(values), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}

	// Closed bounds and a tame distribution: standardisation moves no
	// mass, so reading the CDF back at the declared values recovers the
	// declared marks up to grid resolution.
	for i, v := range values {
		got := CDFAt(cdf, bounds, v)
		if math.Abs(got-marks[i]) > 0.01 {
			t.Errorf("CDF(%v) = %v, want ≈%v", v, got, marks[i])
		}
	}
}

func TestBuildMixtureCDF(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 100, OpenUpper: true}
	components := []Component{
		{Mode: 20, LowerBound: 10, UpperBound: 35, Weight: 0.6},
		{Mode: 70, LowerBound: 55, UpperBound: 90, Weight: 0.4},
	}

	cdf, err := BuildMixtureCDF(components, bounds)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)

	// Bimodal: mass accumulates around both modes, with a plateau
	// between them.
	low := CDFAt(cdf, bounds, 40)
	if low < 0.45 || low > 0.75 {
		t.Errorf("CDF(40) = %v, expected most of the first component's mass", low)
	}
}

func TestBuildMixtureCDF_WeightValidation(t *testing.T) {
	bounds := Bounds{RangeMin: 0, RangeMax: 100}
	_, err := BuildMixtureCDF([]Component{
		{Mode: 50, LowerBound: 30, UpperBound: 70, Weight: 0.5},
	}, bounds)
	if err == nil {
		t.Error("weights summing to 0.5 should be rejected")
	}

	if _, err := BuildMixtureCDF(nil, bounds); err == nil {
		t.Error("empty mixture should be rejected")
	}
}

func TestMaxPMF_Scaling(t *testing.T) {
	if got := MaxPMF(201); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("MaxPMF(201) = %v, want 0.2", got)
	}
	if got := MaxPMF(401); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("MaxPMF(401) = %v, want 0.1", got)
	}
	if got := MaxPMF(11); got != 1 {
		t.Errorf("MaxPMF(11) = %v, want capped at 1", got)
	}
}

func TestCapPMF_PreservesEndpoints(t *testing.T) {
	// A narrow spike forces the cap to engage.
	bounds := Bounds{RangeMin: 0, RangeMax: 1000}
	spec, err := NewSpec(sixPoints([6]float64{499, 499.5, 500, 500.5, 501, 502}), bounds)
	if err != nil {
		t.Fatal(err)
	}
	cdf, err := BuildCDF(spec)
	if err != nil {
		t.Fatal(err)
	}
	assertValidCDF(t, cdf, bounds)
	if cdf[0] != 0 || cdf[len(cdf)-1] != 1 {
		t.Errorf("endpoints moved: first %v last %v", cdf[0], cdf[len(cdf)-1])
	}
}
