package model

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// synthCrops draws unit-variance noise on every channel and inflates
// the active channel, giving CSP a clean variance contrast to find.
func synthCrops(rng *rand.Rand, active, count, channels, samples int) []epoch.Crop {
	crops := make([]epoch.Crop, count)
	for i := range crops {
		data := make([]float64, channels*samples)
		for ch := 0; ch < channels; ch++ {
			amp := 1.0
			if ch == active {
				amp = 5
			}
			for s := 0; s < samples; s++ {
				data[ch*samples+s] = amp * rng.NormFloat64()
			}
		}
		crops[i] = epoch.Crop{Values: mat.NewDense(channels, samples, data)}
	}
	return crops
}

func twoClassData(rng *rand.Rand, perClass, channels, samples int) ([]epoch.Crop, []int) {
	crops := append(
		synthCrops(rng, 0, perClass, channels, samples),
		synthCrops(rng, 1, perClass, channels, samples)...,
	)
	labels := make([]int, 2*perClass)
	for i := perClass; i < 2*perClass; i++ {
		labels[i] = 1
	}
	return crops, labels
}

// nearestMean classifies each feature vector against the per-class
// training means and reports the error count.
func nearestMean(features [][]float64, labels []int) int {
	dim := len(features[0])
	means := map[int][]float64{}
	counts := map[int]int{}
	for i, f := range features {
		if means[labels[i]] == nil {
			means[labels[i]] = make([]float64, dim)
		}
		for j, v := range f {
			means[labels[i]][j] += v
		}
		counts[labels[i]]++
	}
	for c, m := range means {
		for j := range m {
			m[j] /= float64(counts[c])
		}
	}

	errors := 0
	for i, f := range features {
		best, bestDist := -1, math.Inf(1)
		for c, m := range means {
			var d2 float64
			for j := range f {
				d := f[j] - m[j]
				d2 += d * d
			}
			if d2 < bestDist {
				best, bestDist = c, d2
			}
		}
		if best != labels[i] {
			errors++
		}
	}
	return errors
}

func TestCSP_SeparatesVarianceContrast(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	crops, labels := twoClassData(rng, 20, 4, 128)

	csp := NewCSP(1)
	if err := csp.Fit(crops, labels); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	features := make([][]float64, len(crops))
	for i, c := range crops {
		f, err := csp.Transform(c)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if len(f) != 2 {
			t.Fatalf("feature vector has %d values, want 2 for one pair", len(f))
		}
		features[i] = f
	}

	if errs := nearestMean(features, labels); errs != 0 {
		t.Errorf("%d of %d training crops misclassified by nearest mean", errs, len(crops))
	}
}

func TestCSP_DefaultPairs(t *testing.T) {
	t.Parallel()

	if got := NewCSP(0).Pairs; got != 2 {
		t.Errorf("NewCSP(0).Pairs = %d, want the classic 2", got)
	}
	if got := NewCSP(-3).Pairs; got != 2 {
		t.Errorf("NewCSP(-3).Pairs = %d, want the classic 2", got)
	}
}

func TestCSP_FitValidation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	crops, labels := twoClassData(rng, 3, 4, 32)

	if err := NewCSP(1).Fit(crops, labels[:3]); err == nil {
		t.Error("mismatched crops and labels should fail")
	}
	if err := NewCSP(1).Fit(crops, make([]int, len(crops))); err == nil {
		t.Error("a single class should fail")
	}
	three := append([]int(nil), labels...)
	three[0] = 2
	if err := NewCSP(1).Fit(crops, three); err == nil {
		t.Error("three classes should fail")
	}
	if err := NewCSP(3).Fit(crops, labels); err == nil {
		t.Error("3 pairs on 4 channels should fail")
	}
}

func TestCSP_TransformErrors(t *testing.T) {
	t.Parallel()

	crop := epoch.Crop{Values: mat.NewDense(4, 16, nil)}
	if _, err := NewCSP(1).Transform(crop); err == nil {
		t.Error("unfitted transform should fail")
	}

	rng := rand.New(rand.NewSource(7))
	crops, labels := twoClassData(rng, 5, 4, 32)
	csp := NewCSP(1)
	if err := csp.Fit(crops, labels); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	narrow := epoch.Crop{Values: mat.NewDense(3, 16, nil)}
	if _, err := csp.Transform(narrow); err == nil {
		t.Error("channel count mismatch should fail")
	}
}

func TestCSP_FiltersRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	crops, labels := twoClassData(rng, 10, 4, 64)
	fitted := NewCSP(1)
	if err := fitted.Fit(crops, labels); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	restored := NewCSP(0)
	if err := restored.SetFilters(fitted.Filters()); err != nil {
		t.Fatalf("SetFilters failed: %v", err)
	}
	if restored.Pairs != 1 {
		t.Errorf("restored Pairs = %d, want 1 from the two filter rows", restored.Pairs)
	}

	want, err := fitted.Transform(crops[0])
	if err != nil {
		t.Fatal(err)
	}
	got, err := restored.Transform(crops[0])
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("feature %d = %g after restore, want %g", i, got[i], want[i])
		}
	}
}

func TestCSP_SetFiltersValidation(t *testing.T) {
	t.Parallel()

	if err := NewCSP(1).SetFilters(nil); err == nil {
		t.Error("empty filter matrix should fail")
	}
	if err := NewCSP(1).SetFilters([][]float64{{1, 2}}); err == nil {
		t.Error("odd row count should fail")
	}
	if err := NewCSP(1).SetFilters([][]float64{{1, 2}, {1}}); err == nil {
		t.Error("ragged rows should fail")
	}
	if err := NewCSP(1).SetFilters([][]float64{{}, {}}); err == nil {
		t.Error("empty rows should fail")
	}
}

func TestNormalizedCov(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	data := make([]float64, 3*50)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	c := normalizedCov(mat.NewDense(3, 50, data))
	var tr float64
	for i := 0; i < 3; i++ {
		tr += c.At(i, i)
	}
	if math.Abs(tr-1) > 1e-12 {
		t.Errorf("trace = %g, want 1 after normalization", tr)
	}
}

func TestShrinkCov(t *testing.T) {
	t.Parallel()

	c := mat.NewDense(2, 2, []float64{4, 1, 1, 2})
	shrinkCov(c, 0.5)
	// trace is preserved, off-diagonals scale by 1-alpha
	if got := c.At(0, 0) + c.At(1, 1); math.Abs(got-6) > 1e-12 {
		t.Errorf("trace = %g, want 6", got)
	}
	if got := c.At(0, 1); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("off-diagonal = %g, want 0.5", got)
	}
}

func TestSymEigen(t *testing.T) {
	t.Parallel()

	vals, vecs, err := symEigen(mat.NewDense(2, 2, []float64{3, 0, 0, 1}))
	if err != nil {
		t.Fatalf("symEigen failed: %v", err)
	}
	if vals[0] != 1 || vals[1] != 3 {
		t.Errorf("eigenvalues = %v, want ascending [1 3]", vals)
	}
	r, c := vecs.Dims()
	if r != 2 || c != 2 {
		t.Errorf("eigenvector matrix is %dx%d, want 2x2", r, c)
	}

	if _, _, err := symEigen(mat.NewDense(2, 3, nil)); err == nil {
		t.Error("non-square input should fail")
	}
}
