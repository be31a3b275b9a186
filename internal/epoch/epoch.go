// Package epoch slices fixed-length windows out of a continuous
// recording and cuts them into crops for the classifiers.
package epoch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/recording"
)

// Epoch is one window of samples ending at a decoded event.
type Epoch struct {
	Values *mat.Dense // channels x samples
	Start  int        // index of the first sample in the source recording
	End    int        // exclusive end index in the source recording
}

// Crop is a fixed-length sub-window of an epoch.
type Crop struct {
	Values *mat.Dense // channels x samples
	Offset int        // start offset inside the parent epoch
}

// OutOfBoundsError reports a window that would begin before the
// recording does: the window length and the event placement disagree,
// which no caller can route around.
type OutOfBoundsError struct {
	Timestamp float64
	Start     int
	Window    int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("window of %d samples ending at t=%gs would start at sample %d, before the recording begins",
		e.Window, e.Timestamp, e.Start)
}

// Extract cuts the window of windowSamples samples ending at the
// sample whose timestamp is nearest to ts; the end index is exclusive,
// so the window covers the signal leading up to the event. Nearest-
// sample ties resolve to the earlier index.
func Extract(rec *recording.Recording, ts float64, windowSamples int) (Epoch, error) {
	if windowSamples <= 0 {
		return Epoch{}, fmt.Errorf("window must hold at least one sample, got %d", windowSamples)
	}
	if len(rec.Timestamps) == 0 {
		return Epoch{}, fmt.Errorf("recording has no samples")
	}
	end := nearestSample(rec.Timestamps, ts)
	start := end - windowSamples
	if start < 0 {
		return Epoch{}, &OutOfBoundsError{Timestamp: ts, Start: start, Window: windowSamples}
	}
	rows, _ := rec.Values.Dims()
	view := rec.Values.Slice(0, rows, start, end).(*mat.Dense)
	return Epoch{Values: mat.DenseCopyOf(view), Start: start, End: end}, nil
}

// nearestSample is the argmin of |timestamps - ts|; the first minimum
// wins on exact ties.
func nearestSample(timestamps []float64, ts float64) int {
	best := 0
	bestDist := math.Abs(timestamps[0] - ts)
	for i := 1; i < len(timestamps); i++ {
		d := math.Abs(timestamps[i] - ts)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
