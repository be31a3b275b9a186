package model

import "testing"

func TestSpaceFor_ClassicalFamilies(t *testing.T) {
	for _, kind := range []Kind{KindCSP, KindFBCSP, KindRiemann} {
		space := SpaceFor(kind)
		r, ok := space.Ranges["svc.C"]
		if !ok {
			t.Fatalf("SpaceFor(%s): missing svc.C range", kind)
		}
		if !r.Log {
			t.Errorf("SpaceFor(%s): svc.C should be log-uniform", kind)
		}
		if r.Min <= 0 || r.Max <= r.Min {
			t.Errorf("SpaceFor(%s): bad svc.C interval [%g, %g]", kind, r.Min, r.Max)
		}
	}
}

func TestSpaceFor_RiemannChoices(t *testing.T) {
	space := SpaceFor(KindRiemann)

	kernels, ok := space.Choices["svc.kernel"]
	if !ok || len(kernels) != 3 {
		t.Fatalf("svc.kernel choices = %v, want the three kernel names", kernels)
	}
	for _, k := range kernels {
		if k != KernelRBF && k != KernelLinear && k != KernelPoly {
			t.Errorf("unexpected kernel choice %q", k)
		}
	}

	if ir := space.Ints["svc.degree"]; ir.Min != 1 || ir.Max != 5 {
		t.Errorf("svc.degree = [%d, %d], want [1, 5]", ir.Min, ir.Max)
	}
}

func TestSpaceFor_NeuralIsEmpty(t *testing.T) {
	space := SpaceFor(KindConvNet)
	if len(space.Ranges) != 0 || len(space.Ints) != 0 || len(space.Choices) != 0 {
		t.Errorf("SpaceFor(convnet) = %+v, want empty space", space)
	}
}
