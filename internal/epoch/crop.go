package epoch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CropEpoch cuts count windows of cropSamples samples at evenly spaced
// offsets spanning the epoch; neighbouring crops overlap whenever
// count*cropSamples exceeds the epoch length. A count of one returns
// the whole epoch unchanged, whatever cropSamples says.
func CropEpoch(ep Epoch, count, cropSamples int) ([]Crop, error) {
	if ep.Values == nil {
		return nil, fmt.Errorf("epoch has no samples")
	}
	if count < 1 {
		return nil, fmt.Errorf("crop count must be at least 1, got %d", count)
	}
	rows, cols := ep.Values.Dims()
	if count == 1 {
		return []Crop{{Values: ep.Values, Offset: 0}}, nil
	}
	if cropSamples <= 0 {
		return nil, fmt.Errorf("crop must hold at least one sample, got %d", cropSamples)
	}
	if cropSamples > cols {
		return nil, fmt.Errorf("crop of %d samples does not fit an epoch of %d", cropSamples, cols)
	}

	span := cols - cropSamples
	crops := make([]Crop, 0, count)
	for i := 0; i < count; i++ {
		off := int(math.Round(float64(i) * float64(span) / float64(count-1)))
		view := ep.Values.Slice(0, rows, off, off+cropSamples).(*mat.Dense)
		crops = append(crops, Crop{Values: mat.DenseCopyOf(view), Offset: off})
	}
	return crops, nil
}
