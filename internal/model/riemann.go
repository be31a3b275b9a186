package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// Riemann maps crop covariances into the tangent space at a reference
// covariance. Distances between the flattened vectors then approximate
// the Riemannian metric between the covariances themselves.
type Riemann struct {
	whitener *mat.Dense // reference^(-1/2), symmetric
}

// NewRiemann builds an unfitted tangent-space extractor.
func NewRiemann() *Riemann { return &Riemann{} }

// Fit takes the log-Euclidean mean of the training covariances as the
// reference point and stores its inverse square root.
func (r *Riemann) Fit(crops []epoch.Crop, labels []int) error {
	if len(crops) == 0 {
		return fmt.Errorf("riemann needs at least one training crop")
	}
	ch, _ := crops[0].Values.Dims()
	acc := mat.NewDense(ch, ch, nil)
	for i, c := range crops {
		lg, err := matLog(sampleCov(c.Values))
		if err != nil {
			return fmt.Errorf("crop %d: %w", i, err)
		}
		acc.Add(acc, lg)
	}
	acc.Scale(1/float64(len(crops)), acc)
	mean, err := matExp(acc)
	if err != nil {
		return err
	}
	w, err := matInvSqrt(mean)
	if err != nil {
		return err
	}
	r.whitener = w
	return nil
}

// Transform whitens the crop covariance around the reference, takes
// its matrix logarithm and vectorizes the upper triangle, scaling
// off-diagonals by sqrt(2) so euclidean feature distance matches the
// tangent metric.
func (r *Riemann) Transform(crop epoch.Crop) ([]float64, error) {
	if r.whitener == nil {
		return nil, fmt.Errorf("riemann is not fitted")
	}
	n, _ := r.whitener.Dims()
	ch, _ := crop.Values.Dims()
	if ch != n {
		return nil, fmt.Errorf("crop has %d channels, reference expects %d", ch, n)
	}
	var s mat.Dense
	s.Product(r.whitener, sampleCov(crop.Values), r.whitener)
	lg, err := matLog(&s)
	if err != nil {
		return nil, err
	}
	feats := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := lg.At(i, j)
			if i != j {
				v *= math.Sqrt2
			}
			feats = append(feats, v)
		}
	}
	return feats, nil
}

// Whitener exposes the fitted reference transform, for artifacts.
func (r *Riemann) Whitener() [][]float64 {
	if r.whitener == nil {
		return nil
	}
	rows, _ := r.whitener.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, r.whitener)
	}
	return out
}

// SetWhitener installs a previously fitted reference transform.
func (r *Riemann) SetWhitener(rows [][]float64) error {
	n := len(rows)
	if n == 0 {
		return fmt.Errorf("whitener is empty")
	}
	flat := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("whitener row %d has %d values, want %d", i, len(row), n)
		}
		flat = append(flat, row...)
	}
	r.whitener = mat.NewDense(n, n, flat)
	return nil
}

// sampleCov is the mean-removed sample covariance of a crop with a
// tiny ridge on the diagonal so downstream eigenvalue logs stay finite.
func sampleCov(x *mat.Dense) *mat.Dense {
	n, t := x.Dims()
	centered := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		row := centered.RawRowView(i)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(t)
		for j := range row {
			row[j] -= mean
		}
	}
	c := mat.NewDense(n, n, nil)
	c.Mul(centered, centered.T())
	den := float64(t - 1)
	if den < 1 {
		den = 1
	}
	c.Scale(1/den, c)
	for i := 0; i < n; i++ {
		c.Set(i, i, c.At(i, i)+minEigen)
	}
	return c
}

// matLog, matExp and matInvSqrt apply scalar functions to the
// eigenvalues of a symmetric positive matrix.
func matLog(m *mat.Dense) (*mat.Dense, error) {
	return eigenApply(m, func(v float64) float64 {
		if v < minEigen {
			v = minEigen
		}
		return math.Log(v)
	})
}

func matExp(m *mat.Dense) (*mat.Dense, error) {
	return eigenApply(m, math.Exp)
}

func matInvSqrt(m *mat.Dense) (*mat.Dense, error) {
	return eigenApply(m, func(v float64) float64 {
		if v < minEigen {
			v = minEigen
		}
		return 1 / math.Sqrt(v)
	})
}

func eigenApply(m *mat.Dense, fn func(float64) float64) (*mat.Dense, error) {
	vals, vecs, err := symEigen(m)
	if err != nil {
		return nil, err
	}
	n := len(vals)
	d := mat.NewDense(n, n, nil)
	for i, v := range vals {
		d.Set(i, i, fn(v))
	}
	var out mat.Dense
	out.Product(vecs, d, vecs.T())
	return &out, nil
}
