// Package recording loads multi-channel EEG sessions into memory and
// exposes them as channel-by-sample matrices with a shared timeline.
package recording

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Marker is one raw stimulus annotation anchored to a sample index.
type Marker struct {
	Sample int `json:"sample"`
	Code   int `json:"code"`
}

// Recording holds one complete session: voltages, the timestamp of
// every sample in seconds since session start, and the raw markers.
type Recording struct {
	Values       *mat.Dense // channels x samples
	Timestamps   []float64
	SamplingRate float64 // Hz
	Channels     []string
	Markers      []Marker
}

// LoadOptions adjust how a session file becomes a Recording.
type LoadOptions struct {
	// DropChannels are removed after loading, matched case-insensitively.
	DropChannels []string
	// MarkerChannel names an embedded stimulus channel. When set, the
	// channel is scanned for marker codes and removed from the data.
	MarkerChannel string
	// SamplingRate overrides the rate declared by the file when > 0.
	SamplingRate float64
}

// Validate checks the structural invariants every consumer relies on.
func (r *Recording) Validate() error {
	if r.Values == nil {
		return fmt.Errorf("recording has no samples")
	}
	rows, cols := r.Values.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("recording has no samples")
	}
	if len(r.Channels) != rows {
		return fmt.Errorf("recording has %d channel labels for %d rows", len(r.Channels), rows)
	}
	if len(r.Timestamps) != cols {
		return fmt.Errorf("recording has %d timestamps for %d samples", len(r.Timestamps), cols)
	}
	if r.SamplingRate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %g", r.SamplingRate)
	}
	for _, m := range r.Markers {
		if m.Sample < 0 || m.Sample >= cols {
			return fmt.Errorf("marker code %d sits at sample %d, outside %d samples", m.Code, m.Sample, cols)
		}
	}
	return nil
}

// NumChannels reports the number of data channels.
func (r *Recording) NumChannels() int {
	if r.Values == nil {
		return 0
	}
	rows, _ := r.Values.Dims()
	return rows
}

// NumSamples reports the number of samples per channel.
func (r *Recording) NumSamples() int {
	if r.Values == nil {
		return 0
	}
	_, cols := r.Values.Dims()
	return cols
}

// Duration reports the session length in seconds.
func (r *Recording) Duration() float64 {
	if r.SamplingRate <= 0 {
		return 0
	}
	return float64(r.NumSamples()) / r.SamplingRate
}

// timeline builds the per-sample timestamp vector for a fixed rate.
func timeline(n int, fs float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) / fs
	}
	return ts
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dropRows removes the named channels. Dropping every channel is an
// error because downstream stages need at least one data row.
func dropRows(values *mat.Dense, labels []string, drop []string) (*mat.Dense, []string, error) {
	if len(drop) == 0 {
		return values, labels, nil
	}
	unwanted := make(map[string]bool, len(drop))
	for _, d := range drop {
		unwanted[normalizeLabel(d)] = true
	}
	_, cols := values.Dims()
	var kept []int
	var keptLabels []string
	for i, l := range labels {
		if unwanted[normalizeLabel(l)] {
			continue
		}
		kept = append(kept, i)
		keptLabels = append(keptLabels, l)
	}
	if len(kept) == len(labels) {
		return values, labels, nil
	}
	if len(kept) == 0 {
		return nil, nil, fmt.Errorf("dropping %v leaves no channels", drop)
	}
	out := mat.NewDense(len(kept), cols, nil)
	for j, i := range kept {
		out.SetRow(j, mat.Row(nil, i, values))
	}
	return out, keptLabels, nil
}

// takeMarkerRow extracts the named stimulus channel as markers and
// removes it from the data rows.
func takeMarkerRow(values *mat.Dense, labels []string, name string) (*mat.Dense, []string, []Marker, error) {
	idx := -1
	for i, l := range labels {
		if normalizeLabel(l) == normalizeLabel(name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, nil, fmt.Errorf("marker channel %q not found in %v", name, labels)
	}
	if len(labels) == 1 {
		return nil, nil, nil, fmt.Errorf("marker channel %q is the only channel", name)
	}
	_, cols := values.Dims()
	markers := scanMarkerRow(mat.Row(nil, idx, values))

	out := mat.NewDense(len(labels)-1, cols, nil)
	keptLabels := make([]string, 0, len(labels)-1)
	j := 0
	for i, l := range labels {
		if i == idx {
			continue
		}
		out.SetRow(j, mat.Row(nil, i, values))
		keptLabels = append(keptLabels, l)
		j++
	}
	return out, keptLabels, markers, nil
}

// scanMarkerRow emits one marker each time the stimulus value steps to
// a new non-zero code; zero is the idle level between stimuli.
func scanMarkerRow(row []float64) []Marker {
	var markers []Marker
	prev := 0
	for i, v := range row {
		code := int(math.Round(v))
		if code != 0 && code != prev {
			markers = append(markers, Marker{Sample: i, Code: code})
		}
		prev = code
	}
	return markers
}
