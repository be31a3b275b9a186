// Package preprocess applies the rereference, band-pass filter and
// standardization chain to epoch crops. The stage order is fixed:
// rereferencing first so per-channel offsets cannot leak through the
// filter, standardization last so filter transients are not masked.
package preprocess

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
	"github.com/emihelj/cybathlon/internal/recording"
)

// Options toggle the individual stages; a disabled stage is identity.
type Options struct {
	Reref       bool
	RefChannel  int // reference channel index; -1 subtracts the across-channel mean
	Filter      bool
	Low         float64 // Hz
	High        float64 // Hz
	Standardize bool
}

// Apply runs the enabled stages over every crop. The inputs are never
// modified; the returned crops are fresh copies.
func Apply(crops []epoch.Crop, fs float64, opts Options) ([]epoch.Crop, error) {
	if opts.Filter {
		if err := checkBand(opts.Low, opts.High); err != nil {
			return nil, err
		}
		if fs <= 0 {
			return nil, fmt.Errorf("filtering needs a positive sampling rate, got %g", fs)
		}
	}
	out := make([]epoch.Crop, len(crops))
	for i, c := range crops {
		v := mat.DenseCopyOf(c.Values)
		if opts.Reref {
			if err := reref(v, opts.RefChannel); err != nil {
				return nil, fmt.Errorf("crop %d: %w", i, err)
			}
		}
		if opts.Filter {
			filterRows(v, fs, opts.Low, opts.High)
		}
		if opts.Standardize {
			standardize(v)
		}
		out[i] = epoch.Crop{Values: v, Offset: c.Offset}
	}
	return out, nil
}

// FilterRecording band-passes every channel of a recording in place,
// backing the optional whole-session prefilter applied right after
// loading.
func FilterRecording(rec *recording.Recording, low, high float64) error {
	if err := checkBand(low, high); err != nil {
		return err
	}
	rows, cols := rec.Values.Dims()
	buf := make([]float64, cols)
	for ch := 0; ch < rows; ch++ {
		mat.Row(buf, ch, rec.Values)
		rec.Values.SetRow(ch, BandPass(buf, rec.SamplingRate, low, high))
	}
	return nil
}

// BandPass keeps the [low, high] Hz band of x with a zero-phase FFT
// mask and returns a new slice. Masking positive and mirrored negative
// frequency bins together keeps the spectrum conjugate-symmetric, so
// the inverse transform stays real.
func BandPass(x []float64, fs, low, high float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	spectrum := fft.FFTReal(x)
	for k := range spectrum {
		f := float64(k) * fs / float64(n)
		if k > n/2 {
			f = fs - f // mirror bin carries the negative frequency
		}
		if f < low || f > high {
			spectrum[k] = 0
		}
	}
	td := fft.IFFT(spectrum)
	y := make([]float64, n)
	for i, c := range td {
		y[i] = real(c)
	}
	return y
}

func checkBand(low, high float64) error {
	if low < 0 || high <= low {
		return fmt.Errorf("band edges must satisfy 0 <= low < high, got [%g, %g]", low, high)
	}
	return nil
}

// reref subtracts a reference from every channel: the designated
// channel when ref >= 0, otherwise the instantaneous mean across
// channels. The reference channel itself ends up flat at zero.
func reref(v *mat.Dense, ref int) error {
	rows, cols := v.Dims()
	if ref >= rows {
		return fmt.Errorf("reference channel %d out of range for %d channels", ref, rows)
	}
	refRow := make([]float64, cols)
	if ref >= 0 {
		copy(refRow, v.RawRowView(ref))
	} else {
		for s := 0; s < cols; s++ {
			var sum float64
			for ch := 0; ch < rows; ch++ {
				sum += v.At(ch, s)
			}
			refRow[s] = sum / float64(rows)
		}
	}
	for ch := 0; ch < rows; ch++ {
		for s := 0; s < cols; s++ {
			v.Set(ch, s, v.At(ch, s)-refRow[s])
		}
	}
	return nil
}

func filterRows(v *mat.Dense, fs, low, high float64) {
	rows, cols := v.Dims()
	buf := make([]float64, cols)
	for ch := 0; ch < rows; ch++ {
		mat.Row(buf, ch, v)
		v.SetRow(ch, BandPass(buf, fs, low, high))
	}
}

// standardize z-scores each channel over the crop, with population
// variance. A flat channel becomes all zeros instead of dividing by
// zero.
func standardize(v *mat.Dense) {
	rows, cols := v.Dims()
	for ch := 0; ch < rows; ch++ {
		row := v.RawRowView(ch)
		var sum float64
		for _, x := range row {
			sum += x
		}
		mean := sum / float64(cols)
		var ss float64
		for _, x := range row {
			d := x - mean
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(cols))
		for s := range row {
			if sd == 0 {
				row[s] = 0
			} else {
				row[s] = (row[s] - mean) / sd
			}
		}
	}
}
