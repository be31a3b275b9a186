package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel names understood by SVC, matching the artifact encoding.
const (
	KernelRBF    = "rbf"
	KernelLinear = "linear"
	KernelPoly   = "poly"
)

// SVC is a fitted support-vector classifier in the one-vs-one layout:
// support vectors grouped by class, one dual-coefficient row per
// opposing class, one intercept per ordered class pair. Training
// happens offline; this type only evaluates.
type SVC struct {
	Kernel string
	Gamma  float64
	Coef0  float64
	Degree int

	Classes        []int
	SupportVectors [][]float64
	SupportCounts  []int       // support vectors per class, in Classes order
	DualCoefs      [][]float64 // (len(Classes)-1) x total support vectors
	Intercepts     []float64   // one per class pair (i, j) with i < j
}

func (s *SVC) validate() error {
	n := len(s.Classes)
	if n < 2 {
		return fmt.Errorf("svc needs at least two classes, got %d", n)
	}
	switch s.Kernel {
	case KernelRBF, KernelLinear, KernelPoly:
	default:
		return fmt.Errorf("unsupported kernel %q", s.Kernel)
	}
	if len(s.SupportCounts) != n {
		return fmt.Errorf("svc has %d support counts for %d classes", len(s.SupportCounts), n)
	}
	total := 0
	for i, c := range s.SupportCounts {
		if c < 0 {
			return fmt.Errorf("class %d has negative support count %d", s.Classes[i], c)
		}
		total += c
	}
	if total != len(s.SupportVectors) {
		return fmt.Errorf("svc has %d support vectors but counts sum to %d", len(s.SupportVectors), total)
	}
	if len(s.DualCoefs) != n-1 {
		return fmt.Errorf("svc has %d dual coefficient rows, want %d", len(s.DualCoefs), n-1)
	}
	for i, row := range s.DualCoefs {
		if len(row) != total {
			return fmt.Errorf("dual coefficient row %d has %d values for %d support vectors", i, len(row), total)
		}
	}
	if want := n * (n - 1) / 2; len(s.Intercepts) != want {
		return fmt.Errorf("svc has %d intercepts for %d class pairs", len(s.Intercepts), want)
	}
	return nil
}

// Predict runs one-vs-one voting over all class pairs. Vote ties
// resolve to the class listed first in Classes.
func (s *SVC) Predict(features []float64) (int, error) {
	if len(s.SupportVectors) > 0 && len(features) != len(s.SupportVectors[0]) {
		return 0, fmt.Errorf("feature vector has %d values, support vectors have %d",
			len(features), len(s.SupportVectors[0]))
	}

	k := make([]float64, len(s.SupportVectors))
	for i, sv := range s.SupportVectors {
		k[i] = s.kernel(sv, features)
	}

	starts := make([]int, len(s.Classes))
	for i := 1; i < len(starts); i++ {
		starts[i] = starts[i-1] + s.SupportCounts[i-1]
	}

	votes := make([]int, len(s.Classes))
	pair := 0
	for i := 0; i < len(s.Classes); i++ {
		for j := i + 1; j < len(s.Classes); j++ {
			var dec float64
			for v := 0; v < s.SupportCounts[i]; v++ {
				dec += s.DualCoefs[j-1][starts[i]+v] * k[starts[i]+v]
			}
			for v := 0; v < s.SupportCounts[j]; v++ {
				dec += s.DualCoefs[i][starts[j]+v] * k[starts[j]+v]
			}
			dec += s.Intercepts[pair]
			if dec > 0 {
				votes[i]++
			} else {
				votes[j]++
			}
			pair++
		}
	}

	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return s.Classes[best], nil
}

func (s *SVC) kernel(a, b []float64) float64 {
	switch s.Kernel {
	case KernelLinear:
		return floats.Dot(a, b)
	case KernelPoly:
		return math.Pow(s.Gamma*floats.Dot(a, b)+s.Coef0, float64(s.Degree))
	default: // rbf
		var d2 float64
		for i := range a {
			d := a[i] - b[i]
			d2 += d * d
		}
		return math.Exp(-s.Gamma * d2)
	}
}
