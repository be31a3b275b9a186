package model

import (
	"fmt"

	"github.com/openfluke/loom/nn"
	"gonum.org/v1/gonum/mat"

	"github.com/emihelj/cybathlon/internal/epoch"
)

// Forwarder runs one forward pass of a neural decoder.
type Forwarder interface {
	Forward(input []float32) []float32
}

// loomForwarder adapts a loom network to the Forwarder interface.
type loomForwarder struct {
	net *nn.Network
}

func (l loomForwarder) Forward(input []float32) []float32 {
	out, _ := l.net.ForwardCPU(input)
	return out
}

// ConvNet wraps a shallow convolutional decoder exported by the
// trainer. It scores crops with class probabilities; the network input
// is the crop flattened channel-major.
type ConvNet struct {
	name    string
	classes int
	fwd     Forwarder
}

// NewConvNet builds a neural handle over a forward function emitting
// one score per class.
func NewConvNet(name string, classes int, fwd Forwarder) (*ConvNet, error) {
	if classes < 2 {
		return nil, fmt.Errorf("convnet %q needs at least two classes, got %d", name, classes)
	}
	if fwd == nil {
		return nil, fmt.Errorf("convnet %q has no network", name)
	}
	return &ConvNet{name: name, classes: classes, fwd: fwd}, nil
}

func (c *ConvNet) Name() string { return c.name }

func (c *ConvNet) Kind() Kind { return KindConvNet }

// PredictProba runs every crop through the network and collects one
// row of class scores per crop.
func (c *ConvNet) PredictProba(crops []epoch.Crop) (*mat.Dense, error) {
	if len(crops) == 0 {
		return nil, fmt.Errorf("convnet %q got no crops", c.name)
	}
	out := mat.NewDense(len(crops), c.classes, nil)
	for i, crop := range crops {
		rows, cols := crop.Values.Dims()
		in := make([]float32, 0, rows*cols)
		for ch := 0; ch < rows; ch++ {
			for s := 0; s < cols; s++ {
				in = append(in, float32(crop.Values.At(ch, s)))
			}
		}
		scores := c.fwd.Forward(in)
		if len(scores) != c.classes {
			return nil, fmt.Errorf("convnet %q returned %d scores for %d classes", c.name, len(scores), c.classes)
		}
		for j, p := range scores {
			out.Set(i, j, float64(p))
		}
	}
	return out, nil
}
