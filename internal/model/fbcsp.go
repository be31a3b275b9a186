package model

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
	"github.com/emihelj/cybathlon/internal/preprocess"
)

// covShrinkage is the identity blend applied to band covariances when
// regularization is requested.
const covShrinkage = 0.1

// DefaultBands spans 4-40 Hz in 4 Hz steps, the canonical filter bank
// covering theta through low gamma.
func DefaultBands() [][2]float64 {
	var bands [][2]float64
	for lo := 4.0; lo < 40; lo += 4 {
		bands = append(bands, [2]float64{lo, lo + 4})
	}
	return bands
}

// FBCSP fits one CSP per frequency band and keeps the most
// discriminative log-variance features by Fisher score.
type FBCSP struct {
	Bands         [][2]float64
	Pairs         int
	TopK          int  // features kept after ranking; <= 0 keeps all
	RegularizeCov bool // shrink band covariances toward the identity
	SamplingRate  float64

	banks    []*CSP
	selected []int
}

// NewFBCSP builds an unfitted filter-bank extractor over the default
// bands.
func NewFBCSP(fs float64, pairs, topK int, regularize bool) *FBCSP {
	if pairs < 1 {
		pairs = 2
	}
	return &FBCSP{
		Bands:         DefaultBands(),
		Pairs:         pairs,
		TopK:          topK,
		RegularizeCov: regularize,
		SamplingRate:  fs,
	}
}

// Fit band-passes the training crops per band, fits one CSP per band
// and ranks the concatenated features by Fisher score.
func (f *FBCSP) Fit(crops []epoch.Crop, labels []int) error {
	if len(crops) == 0 || len(crops) != len(labels) {
		return fmt.Errorf("need matching crops and labels, got %d and %d", len(crops), len(labels))
	}
	if f.SamplingRate <= 0 {
		return fmt.Errorf("fbcsp needs a positive sampling rate, got %g", f.SamplingRate)
	}
	if len(f.Bands) == 0 {
		f.Bands = DefaultBands()
	}

	f.banks = make([]*CSP, len(f.Bands))
	features := make([][]float64, len(crops))
	for b, band := range f.Bands {
		filtered := make([]epoch.Crop, len(crops))
		for i, c := range crops {
			filtered[i] = filterCrop(c, f.SamplingRate, band[0], band[1])
		}
		bank := NewCSP(f.Pairs)
		if f.RegularizeCov {
			bank.Shrink = covShrinkage
		}
		if err := bank.Fit(filtered, labels); err != nil {
			return fmt.Errorf("band %g-%g Hz: %w", band[0], band[1], err)
		}
		f.banks[b] = bank
		for i, c := range filtered {
			feat, err := bank.Transform(c)
			if err != nil {
				return fmt.Errorf("band %g-%g Hz: %w", band[0], band[1], err)
			}
			features[i] = append(features[i], feat...)
		}
	}
	f.selected = selectByFisher(features, labels, f.TopK)
	return nil
}

// Transform filters the crop per band, projects through each band's
// CSP and picks the selected features.
func (f *FBCSP) Transform(crop epoch.Crop) ([]float64, error) {
	if len(f.banks) == 0 {
		return nil, fmt.Errorf("fbcsp is not fitted")
	}
	var all []float64
	for b, bank := range f.banks {
		filtered := filterCrop(crop, f.SamplingRate, f.Bands[b][0], f.Bands[b][1])
		feat, err := bank.Transform(filtered)
		if err != nil {
			return nil, fmt.Errorf("band %g-%g Hz: %w", f.Bands[b][0], f.Bands[b][1], err)
		}
		all = append(all, feat...)
	}
	out := make([]float64, 0, len(f.selected))
	for _, i := range f.selected {
		if i < 0 || i >= len(all) {
			return nil, fmt.Errorf("selected feature %d out of range for %d features", i, len(all))
		}
		out = append(out, all[i])
	}
	return out, nil
}

// restore installs fitted per-band filters and the selected feature
// indices read back from an artifact.
func (f *FBCSP) restore(a *FBCSPArtifact) error {
	if len(a.Bands) == 0 || len(a.Filters) != len(a.Bands) {
		return fmt.Errorf("fbcsp artifact has %d filter banks for %d bands", len(a.Filters), len(a.Bands))
	}
	f.Bands = a.Bands
	f.banks = make([]*CSP, len(a.Bands))
	total := 0
	for i, filters := range a.Filters {
		bank := NewCSP(a.Pairs)
		if err := bank.SetFilters(filters); err != nil {
			return fmt.Errorf("band %d: %w", i, err)
		}
		f.banks[i] = bank
		total += len(filters)
	}
	f.selected = a.Selected
	if len(f.selected) == 0 {
		f.selected = make([]int, total)
		for i := range f.selected {
			f.selected[i] = i
		}
	}
	return nil
}

// filterCrop band-passes every channel of a crop into a fresh matrix.
func filterCrop(c epoch.Crop, fs, low, high float64) epoch.Crop {
	rows, cols := c.Values.Dims()
	out := mat.NewDense(rows, cols, nil)
	buf := make([]float64, cols)
	for ch := 0; ch < rows; ch++ {
		mat.Row(buf, ch, c.Values)
		out.SetRow(ch, preprocess.BandPass(buf, fs, low, high))
	}
	return epoch.Crop{Values: out, Offset: c.Offset}
}

// selectByFisher ranks features by between-class over within-class
// variance and returns the top k indices in ascending index order so
// transformed vectors keep a stable layout.
func selectByFisher(features [][]float64, labels []int, k int) []int {
	if len(features) == 0 {
		return nil
	}
	dim := len(features[0])
	if k <= 0 || k >= dim {
		all := make([]int, dim)
		for i := range all {
			all[i] = i
		}
		return all
	}
	classes := distinctLabels(labels)

	scores := make([]float64, dim)
	for fi := 0; fi < dim; fi++ {
		var grand float64
		for _, row := range features {
			grand += row[fi]
		}
		grand /= float64(len(features))

		var between, within float64
		for _, cl := range classes {
			var sum float64
			var n int
			for i, row := range features {
				if labels[i] == cl {
					sum += row[fi]
					n++
				}
			}
			if n == 0 {
				continue
			}
			mean := sum / float64(n)
			for i, row := range features {
				if labels[i] == cl {
					d := row[fi] - mean
					within += d * d
				}
			}
			between += float64(n) * (mean - grand) * (mean - grand)
		}
		if within <= 0 {
			within = minEigen
		}
		scores[fi] = between / within
	}

	idx := make([]int, dim)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	top := append([]int(nil), idx[:k]...)
	sort.Ints(top)
	return top
}
