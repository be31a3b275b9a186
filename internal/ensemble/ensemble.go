// Package ensemble fuses per-crop predictions from one or more models
// into a single label per epoch. Neural members vote softly by summed
// probabilities, classical members by the mode of their hard labels;
// the two schemes use different tie-break rules on purpose.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
	"github.com/emihelj/cybathlon/internal/model"
	"github.com/emihelj/cybathlon/internal/preprocess"
)

// ErrNoModels reports an aggregation attempt with no members.
var ErrNoModels = errors.New("ensemble has no models")

// InvocationError wraps the failure of one ensemble member, naming it.
type InvocationError struct {
	Model string
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model %q: %v", e.Model, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Options fix how an epoch is cropped and, on the neural path,
// preprocessed before the members score it.
type Options struct {
	SamplingRate float64
	CropCount    int
	CropSeconds  float64
	Neural       bool
	Preprocess   preprocess.Options
}

// Aggregate crops the epoch once, scores the crops with every model
// and reduces the results to one label.
//
// Neural path: crops are preprocessed, each member returns a
// crop-by-class probability matrix, the matrices are summed across
// members, the columns are summed across crops and the label is the
// argmax; ties fall to the lowest class index. Classical path: crops
// are consumed raw, each member returns one hard label per crop, all
// labels are concatenated in member order and the mode wins; ties fall
// to the label encountered first.
func Aggregate(ep epoch.Epoch, models []model.Handle, opts Options) (int, error) {
	if len(models) == 0 {
		return 0, ErrNoModels
	}
	cropSamples := int(math.Round(opts.SamplingRate * opts.CropSeconds))
	crops, err := epoch.CropEpoch(ep, opts.CropCount, cropSamples)
	if err != nil {
		return 0, err
	}
	if opts.Neural {
		return aggregateNeural(crops, models, opts)
	}
	return aggregateClassical(crops, models)
}

func aggregateNeural(crops []epoch.Crop, models []model.Handle, opts Options) (int, error) {
	crops, err := preprocess.Apply(crops, opts.SamplingRate, opts.Preprocess)
	if err != nil {
		return 0, err
	}

	var sum *mat.Dense
	for _, h := range models {
		p, ok := h.(model.ProbaPredictor)
		if !ok {
			return 0, &InvocationError{Model: h.Name(), Err: errors.New("model does not produce class probabilities")}
		}
		probs, err := p.PredictProba(crops)
		if err != nil {
			return 0, &InvocationError{Model: h.Name(), Err: err}
		}
		r, c := probs.Dims()
		if r != len(crops) {
			return 0, &InvocationError{Model: h.Name(), Err: fmt.Errorf("returned %d rows for %d crops", r, len(crops))}
		}
		if sum == nil {
			sum = mat.DenseCopyOf(probs)
			continue
		}
		if _, sc := sum.Dims(); c != sc {
			return 0, &InvocationError{Model: h.Name(), Err: fmt.Errorf("returned %d classes, members before it returned %d", c, sc)}
		}
		sum.Add(sum, probs)
	}

	rows, cols := sum.Dims()
	best := 0
	bestScore := math.Inf(-1)
	for j := 0; j < cols; j++ {
		var s float64
		for i := 0; i < rows; i++ {
			s += sum.At(i, j)
		}
		if s > bestScore {
			best, bestScore = j, s
		}
	}
	return best, nil
}

func aggregateClassical(crops []epoch.Crop, models []model.Handle) (int, error) {
	votes := make([]int, 0, len(models)*len(crops))
	for _, h := range models {
		lp, ok := h.(model.LabelPredictor)
		if !ok {
			return 0, &InvocationError{Model: h.Name(), Err: errors.New("model does not produce hard labels")}
		}
		labels, err := lp.PredictLabels(crops)
		if err != nil {
			return 0, &InvocationError{Model: h.Name(), Err: err}
		}
		if len(labels) != len(crops) {
			return 0, &InvocationError{Model: h.Name(), Err: fmt.Errorf("returned %d labels for %d crops", len(labels), len(crops))}
		}
		votes = append(votes, labels...)
	}
	return firstMode(votes), nil
}

// firstMode is the most frequent value; among equally frequent values
// the one encountered first in vote order wins.
func firstMode(votes []int) int {
	counts := make(map[int]int, len(votes))
	max := 0
	for _, v := range votes {
		counts[v]++
		if counts[v] > max {
			max = counts[v]
		}
	}
	for _, v := range votes {
		if counts[v] == max {
			return v
		}
	}
	return votes[0]
}
