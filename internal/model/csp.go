package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// minEigen floors eigenvalues and variances so degenerate covariances
// cannot produce infinities downstream.
const minEigen = 1e-10

// CSP learns two-class common spatial patterns: filter pairs that
// maximize the variance of one class while minimizing the other's.
// Fitting happens offline; inference only projects and takes
// log-variance features.
type CSP struct {
	Pairs  int     // filter pairs kept from each end of the eigenvalue spectrum
	Shrink float64 // covariance shrinkage toward the identity, 0 disables

	filters *mat.Dense // (2*Pairs) x channels, fitted spatial filters
}

// NewCSP builds an unfitted extractor keeping the given number of
// filter pairs; values below one fall back to the classic two pairs.
func NewCSP(pairs int) *CSP {
	if pairs < 1 {
		pairs = 2
	}
	return &CSP{Pairs: pairs}
}

// Fit estimates per-class mean covariances and solves the CSP
// eigenproblem. Exactly two classes must be present.
func (c *CSP) Fit(crops []epoch.Crop, labels []int) error {
	if len(crops) == 0 || len(crops) != len(labels) {
		return fmt.Errorf("need matching crops and labels, got %d and %d", len(crops), len(labels))
	}
	classes := distinctLabels(labels)
	if len(classes) != 2 {
		return fmt.Errorf("csp is a two-class method, got %d classes", len(classes))
	}
	ch, _ := crops[0].Values.Dims()
	if 2*c.Pairs > ch {
		return fmt.Errorf("%d filter pairs need at least %d channels, got %d", c.Pairs, 2*c.Pairs, ch)
	}

	sums := map[int]*mat.Dense{}
	counts := map[int]int{}
	for i, crop := range crops {
		cov := normalizedCov(crop.Values)
		if acc, ok := sums[labels[i]]; ok {
			acc.Add(acc, cov)
		} else {
			sums[labels[i]] = cov
		}
		counts[labels[i]]++
	}
	c0 := sums[classes[0]]
	c0.Scale(1/float64(counts[classes[0]]), c0)
	c1 := sums[classes[1]]
	c1.Scale(1/float64(counts[classes[1]]), c1)
	if c.Shrink > 0 {
		shrinkCov(c0, c.Shrink)
		shrinkCov(c1, c.Shrink)
	}

	filters, err := cspFilters(c0, c1, c.Pairs)
	if err != nil {
		return err
	}
	c.filters = filters
	return nil
}

// Transform projects the crop through the fitted filters and returns
// the log of each component's share of the total variance.
func (c *CSP) Transform(crop epoch.Crop) ([]float64, error) {
	if c.filters == nil {
		return nil, fmt.Errorf("csp is not fitted")
	}
	fr, fc := c.filters.Dims()
	ch, _ := crop.Values.Dims()
	if ch != fc {
		return nil, fmt.Errorf("crop has %d channels, filters expect %d", ch, fc)
	}
	var z mat.Dense
	z.Mul(c.filters, crop.Values)
	return logVariance(&z, fr), nil
}

// Filters exposes the fitted filter matrix row by row, for artifacts.
func (c *CSP) Filters() [][]float64 {
	if c.filters == nil {
		return nil
	}
	rows, _ := c.filters.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, c.filters)
	}
	return out
}

// SetFilters installs previously fitted filters, as read back from an
// artifact.
func (c *CSP) SetFilters(rows [][]float64) error {
	if len(rows) == 0 || len(rows)%2 != 0 {
		return fmt.Errorf("filter matrix needs a positive even row count, got %d", len(rows))
	}
	cols := len(rows[0])
	if cols == 0 {
		return fmt.Errorf("filter rows are empty")
	}
	flat := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return fmt.Errorf("filter row %d has %d values, want %d", i, len(r), cols)
		}
		flat = append(flat, r...)
	}
	c.filters = mat.NewDense(len(rows), cols, flat)
	c.Pairs = len(rows) / 2
	return nil
}

// cspFilters whitens the composite covariance, diagonalizes the first
// class in the whitened space and keeps the extreme eigenvector pairs.
// Rows come out ordered by ascending eigenvalue of class 0.
func cspFilters(c0, c1 *mat.Dense, pairs int) (*mat.Dense, error) {
	n, _ := c0.Dims()
	composite := mat.NewDense(n, n, nil)
	composite.Add(c0, c1)

	vals, vecs, err := symEigen(composite)
	if err != nil {
		return nil, err
	}
	white := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		v := vals[i]
		if v < minEigen {
			v = minEigen
		}
		s := 1 / math.Sqrt(v)
		for j := 0; j < n; j++ {
			white.Set(i, j, s*vecs.At(j, i))
		}
	}

	var s0 mat.Dense
	s0.Product(white, c0, white.T())
	_, svecs, err := symEigen(&s0)
	if err != nil {
		return nil, err
	}

	var w mat.Dense
	w.Mul(svecs.T(), white)
	rows, _ := w.Dims()

	filters := mat.NewDense(2*pairs, n, nil)
	for p := 0; p < pairs; p++ {
		filters.SetRow(p, mat.Row(nil, p, &w))
		filters.SetRow(pairs+p, mat.Row(nil, rows-1-p, &w))
	}
	return filters, nil
}

// symEigen decomposes a numerically symmetric matrix, returning
// eigenvalues in ascending order with matching eigenvector columns.
func symEigen(m *mat.Dense) ([]float64, *mat.Dense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, nil, fmt.Errorf("matrix is %dx%d, want square", r, c)
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, nil, fmt.Errorf("eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	return vals, &vecs, nil
}

// normalizedCov is X·Xᵀ scaled by its trace, the classic CSP
// covariance estimate that removes per-crop amplitude differences.
func normalizedCov(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	c := mat.NewDense(n, n, nil)
	c.Mul(x, x.T())
	var tr float64
	for i := 0; i < n; i++ {
		tr += c.At(i, i)
	}
	if tr <= 0 {
		tr = 1
	}
	c.Scale(1/tr, c)
	return c
}

// shrinkCov blends a covariance toward a scaled identity to keep it
// well conditioned.
func shrinkCov(c *mat.Dense, alpha float64) {
	n, _ := c.Dims()
	var tr float64
	for i := 0; i < n; i++ {
		tr += c.At(i, i)
	}
	mu := tr / float64(n)
	c.Scale(1-alpha, c)
	for i := 0; i < n; i++ {
		c.Set(i, i, c.At(i, i)+alpha*mu)
	}
}

// logVariance reduces each of the first rows rows of z to the log of
// its variance share.
func logVariance(z *mat.Dense, rows int) []float64 {
	_, cols := z.Dims()
	vars := make([]float64, rows)
	var total float64
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)
		var ss float64
		for _, v := range row {
			d := v - mean
			ss += d * d
		}
		vars[i] = ss / float64(cols)
		total += vars[i]
	}
	if total <= 0 {
		total = 1
	}
	feats := make([]float64, rows)
	for i, v := range vars {
		if v < minEigen {
			v = minEigen
		}
		feats[i] = math.Log(v / total)
	}
	return feats
}
