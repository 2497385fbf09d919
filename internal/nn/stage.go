package nn

import (
	"fmt"
	"math"

	"highorder/internal/model"
	"highorder/internal/tensor"
)

// Stage names accepted by NewStage.
const (
	// MaxAbsStage divides each sample by its largest absolute value.
	MaxAbsStage = "max_abs"
	// TanhStage applies tanh elementwise.
	TanhStage = "tanh"
)

const maxAbsEpsilon = 1e-12

// Stage is a parameterless layer placed between basis layers of a stack. It
// accepts [batch, width] or [batch, width, H, W] and preserves the shape.
type Stage struct {
	name  string
	width int
}

func IsStage(name string) bool {
	return name == MaxAbsStage || name == TanhStage
}

func NewStage(name string, width int) (*Stage, error) {
	if !IsStage(name) {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrConfiguration, name)
	}
	if width < 1 {
		return nil, fmt.Errorf("%w: stage width must be at least 1, got %d", ErrConfiguration, width)
	}
	return &Stage{name: name, width: width}, nil
}

// Spec reports the stage name as Kind and its width as both feature counts.
func (s *Stage) Spec() model.LayerSpec {
	return model.LayerSpec{Kind: s.name, InFeatures: s.width, OutFeatures: s.width}
}

func (s *Stage) Parameters() []*Parameter {
	return nil
}

func (s *Stage) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if err := s.checkInput(x); err != nil {
		return nil, err
	}
	y := x.Clone()
	data := y.Data()
	switch s.name {
	case TanhStage:
		for i, v := range data {
			data[i] = math.Tanh(v)
		}
	case MaxAbsStage:
		stride := x.Len() / x.Dim(0)
		for b := 0; b < x.Dim(0); b++ {
			sample := data[b*stride : (b+1)*stride]
			_, m := argMaxAbs(sample)
			for i := range sample {
				sample[i] /= m + maxAbsEpsilon
			}
		}
	}
	return y, nil
}

func (s *Stage) Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error) {
	if err := s.checkInput(x); err != nil {
		return nil, err
	}
	if !tensor.SameShape(x, gradOut) {
		return nil, fmt.Errorf("%w: gradient shape %v, want %v", tensor.ErrShape, gradOut.Shape(), x.Shape())
	}
	gradIn := gradOut.Clone()
	xs, gi := x.Data(), gradIn.Data()
	switch s.name {
	case TanhStage:
		for i, v := range xs {
			t := math.Tanh(v)
			gi[i] *= 1 - t*t
		}
	case MaxAbsStage:
		stride := x.Len() / x.Dim(0)
		for b := 0; b < x.Dim(0); b++ {
			sample := xs[b*stride : (b+1)*stride]
			grad := gi[b*stride : (b+1)*stride]
			at, m := argMaxAbs(sample)
			d := m + maxAbsEpsilon
			dot := 0.0
			for i, v := range sample {
				dot += grad[i] * v
			}
			for i := range grad {
				grad[i] /= d
			}
			sign := 0.0
			switch {
			case sample[at] > 0:
				sign = 1
			case sample[at] < 0:
				sign = -1
			}
			grad[at] -= sign * dot / (d * d)
		}
	}
	return gradIn, nil
}

func (s *Stage) checkInput(x *tensor.Dense) error {
	if x == nil {
		return fmt.Errorf("%w: nil input", ErrInput)
	}
	if (x.Dims() != 2 && x.Dims() != 4) || x.Dim(1) != s.width {
		return fmt.Errorf("%w: input shape %v, want [batch %d] or [batch %d H W]", tensor.ErrShape, x.Shape(), s.width, s.width)
	}
	return nil
}

// argMaxAbs returns the first index holding the largest absolute value and
// that value.
func argMaxAbs(values []float64) (int, float64) {
	at, m := 0, 0.0
	for i, v := range values {
		if a := math.Abs(v); a > m {
			at, m = i, a
		}
	}
	return at, m
}
