package model

import (
	"fmt"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// Pipeline chains a fitted feature extractor with a support-vector
// classifier: one hard label per crop.
type Pipeline struct {
	name string
	kind Kind
	feat FeatureExtractor
	svc  *SVC
}

// NewPipeline validates the classifier and wires the stages together.
func NewPipeline(name string, kind Kind, feat FeatureExtractor, svc *SVC) (*Pipeline, error) {
	if feat == nil || svc == nil {
		return nil, fmt.Errorf("pipeline %q needs a feature extractor and a classifier", name)
	}
	if err := svc.validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}
	return &Pipeline{name: name, kind: kind, feat: feat, svc: svc}, nil
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Kind() Kind { return p.kind }

// PredictLabels transforms and classifies each crop independently.
func (p *Pipeline) PredictLabels(crops []epoch.Crop) ([]int, error) {
	labels := make([]int, len(crops))
	for i, c := range crops {
		feats, err := p.feat.Transform(c)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		label, err := p.svc.Predict(feats)
		if err != nil {
			return nil, fmt.Errorf("crop %d: %w", i, err)
		}
		labels[i] = label
	}
	return labels, nil
}
