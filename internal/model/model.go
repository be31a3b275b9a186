// Package model loads trained decoders and runs them over epoch crops.
// Classical decoders pair a fitted feature extractor with a
// support-vector classifier and emit hard labels; neural decoders wrap
// a compiled network and emit class probabilities.
package model

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// Kind names a decoder family.
type Kind string

const (
	KindCSP     Kind = "csp"
	KindFBCSP   Kind = "fbcsp"
	KindRiemann Kind = "riemann"
	KindConvNet Kind = "convnet"
)

// ParseKind normalizes a kind name from config or an artifact.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCSP, KindFBCSP, KindRiemann, KindConvNet:
		return k, nil
	}
	return "", fmt.Errorf("unknown model kind %q", s)
}

// Neural reports whether the family emits class probabilities rather
// than hard labels.
func (k Kind) Neural() bool { return k == KindConvNet }

// Handle is the common surface of every loaded decoder.
type Handle interface {
	Name() string
	Kind() Kind
}

// LabelPredictor is implemented by classical decoders: one hard label
// per crop.
type LabelPredictor interface {
	Handle
	PredictLabels(crops []epoch.Crop) ([]int, error)
}

// ProbaPredictor is implemented by neural decoders: one row of class
// scores per crop.
type ProbaPredictor interface {
	Handle
	PredictProba(crops []epoch.Crop) (*mat.Dense, error)
}

// FeatureExtractor turns one crop into a flat feature vector after
// being fitted on labeled training crops.
type FeatureExtractor interface {
	Fit(crops []epoch.Crop, labels []int) error
	Transform(crop epoch.Crop) ([]float64, error)
}

// distinctLabels returns the sorted set of class labels present.
func distinctLabels(labels []int) []int {
	seen := make(map[int]bool, len(labels))
	var out []int
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}
