package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"k8s.io/klog/v2"

	"highorder/internal/compose"
	"highorder/internal/model"
	"highorder/internal/tensor"
)

var (
	ErrConfiguration = errors.New("invalid layer configuration")
	ErrInput         = errors.New("invalid layer input")
	ErrState         = errors.New("invalid layer state")
)

const weightsName = "weights"

// Layer is a differentiable basis layer.
//
// Forward only reads parameters and may be called concurrently. Backward
// recomputes what it needs from x and accumulates into Parameter.Grad, so
// concurrent Backward calls on one layer need external synchronisation.
type Layer interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
	Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error)
	Parameters() []*Parameter
	Spec() model.LayerSpec
}

// BasisLayer is the fully connected basis layer:
//
//	out[o] = combine_i( sum_k w[i,o,idx_k] * act_k(x[i]) )
//
// where combine is a sum or an alpha-blended product over input features.
type BasisLayer struct {
	spec    model.LayerSpec
	kind    KindSpec
	exp     *Expander
	comp    compose.Spec
	weights *Parameter
}

// NormalizeSpec resolves the kind tag, applies defaults and validates spec.
func NormalizeSpec(spec model.LayerSpec) (model.LayerSpec, KindSpec, error) {
	kind, err := GetKind(spec.Kind)
	if err != nil {
		return spec, KindSpec{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	spec.Kind = kind.Name
	if spec.N < 1 {
		return spec, kind, fmt.Errorf("%w: n must be at least 1, got %d", ErrConfiguration, spec.N)
	}
	if kind.FixedOrder > 0 {
		spec.N = kind.FixedOrder
	}
	if spec.Scale == 0 {
		spec.Scale = DefaultScale
	}

	switch {
	case spec.Segments < 1:
		return spec, kind, fmt.Errorf("%w: segments must be at least 1, got %d", ErrConfiguration, spec.Segments)
	case spec.InFeatures < 1 || spec.OutFeatures < 1:
		return spec, kind, fmt.Errorf("%w: features must be at least 1, got in=%d out=%d", ErrConfiguration, spec.InFeatures, spec.OutFeatures)
	case !(spec.Scale > 0) || math.IsInf(spec.Scale, 0):
		return spec, kind, fmt.Errorf("%w: scale must be positive, got %v", ErrConfiguration, spec.Scale)
	case !(spec.Periodicity >= 0) || math.IsInf(spec.Periodicity, 0):
		return spec, kind, fmt.Errorf("%w: periodicity must not be negative, got %v", ErrConfiguration, spec.Periodicity)
	}
	if err := (compose.Spec{Mode: kind.Composition, Alpha: spec.Alpha}).Validate(); err != nil {
		return spec, kind, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if !kind.Piecewise {
		spec.Segments = 1
	}
	return spec, kind, nil
}

// NewLayer builds a fully connected layer for any registered kind.
func NewLayer(spec model.LayerSpec) (Layer, error) {
	return NewBasisLayer(spec)
}

func NewBasisLayer(spec model.LayerSpec) (*BasisLayer, error) {
	spec, kind, err := NormalizeSpec(spec)
	if err != nil {
		return nil, err
	}
	exp, err := newExpander(kind, spec.N, spec.Segments, spec.Scale, spec.Periodicity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	l := &BasisLayer{
		spec:    spec,
		kind:    kind,
		exp:     exp,
		comp:    compose.Spec{Mode: kind.Composition, Alpha: spec.Alpha},
		weights: newParameter(weightsName, spec.InFeatures, spec.OutFeatures, exp.Size()),
	}
	l.weights.initUniform(rand.New(rand.NewSource(spec.Seed)), 1/float64(spec.InFeatures))

	klog.V(2).Infof("built %s layer in=%d out=%d n=%d segments=%d slots=%d",
		spec.Kind, spec.InFeatures, spec.OutFeatures, spec.N, spec.Segments, exp.Size())
	return l, nil
}

func (l *BasisLayer) Spec() model.LayerSpec {
	return l.spec
}

func (l *BasisLayer) Kind() KindSpec {
	return l.kind
}

func (l *BasisLayer) Expander() *Expander {
	return l.exp
}

func (l *BasisLayer) Parameters() []*Parameter {
	return []*Parameter{l.weights}
}

func (l *BasisLayer) Weights() *Parameter {
	return l.weights
}

// Forward evaluates x of shape [batch, in] into [batch, out].
func (l *BasisLayer) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	batch, err := l.checkInput(x)
	if err != nil {
		return nil, err
	}
	in, outF := l.spec.InFeatures, l.spec.OutFeatures
	out := tensor.Zeros(batch, outF)
	exps := l.newExpansions()
	ys := make([]float64, in)
	lin := make([]float64, in)
	clamped := 0
	var buf expandBuffer

	xs, ydata := x.Data(), out.Data()
	for b := 0; b < batch; b++ {
		clamped += l.expandRow(xs[b*in:(b+1)*in], exps, false, &buf)
		row := ydata[b*outF : (b+1)*outF]
		for o := range row {
			for i := range exps {
				ys[i] = l.unit(i, o, &exps[i])
				if l.comp.Mode == compose.Product {
					lin[i], _ = l.unitLinear(i, o, &exps[i])
				}
			}
			row[o] = l.comp.Combine(ys, lin)
		}
	}
	l.rescale(ydata)
	l.reportClamped(clamped, batch*in)
	return out, nil
}

// Backward returns dLoss/dx for gradOut = dLoss/dout and accumulates the
// weight gradient. Shared continuous slots receive contributions from both
// adjacent segments.
func (l *BasisLayer) Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error) {
	batch, err := l.checkInput(x)
	if err != nil {
		return nil, err
	}
	in, outF, size := l.spec.InFeatures, l.spec.OutFeatures, l.exp.Size()
	if gradOut.Dims() != 2 || gradOut.Dim(0) != batch || gradOut.Dim(1) != outF {
		return nil, fmt.Errorf("%w: gradient shape %v, want [%d %d]", tensor.ErrShape, gradOut.Shape(), batch, outF)
	}

	gradIn := tensor.Zeros(batch, in)
	exps := l.newExpansions()
	ys := make([]float64, in)
	lin := make([]float64, in)
	dys := make([]float64, in)
	dlin := make([]float64, in)
	w, gw := l.weights.Value, l.weights.Grad
	scale := l.outputScale()
	var buf expandBuffer

	xs, gin, gout := x.Data(), gradIn.Data(), gradOut.Data()
	for b := 0; b < batch; b++ {
		l.expandRow(xs[b*in:(b+1)*in], exps, true, &buf)
		for o := 0; o < outF; o++ {
			g := gout[b*outF+o] * scale
			for i := range exps {
				ys[i] = l.unit(i, o, &exps[i])
				lin[i], _ = l.unitLinear(i, o, &exps[i])
			}
			l.comp.Backward(ys, lin, g, dys, dlin)

			for i := range exps {
				ex := &exps[i]
				base := (i*outF + o) * size
				dx := 0.0
				for k, idx := range ex.Index {
					linAct, linGrad := l.exp.Linear(ex, k)
					gw[base+idx] += dys[i]*ex.Acts[k] + dlin[i]*linAct
					dx += w[base+idx] * (dys[i]*ex.Grads[k] + dlin[i]*linGrad)
				}
				gin[b*in+i] += dx
			}
		}
	}
	return gradIn, nil
}

// UnitValue evaluates the (feature, output) sub-function at x.
func (l *BasisLayer) UnitValue(i, o int, x float64) float64 {
	ex := l.exp.NewExpansion()
	l.exp.Expand(x, &ex, false)
	return l.unit(i, o, &ex)
}

func (l *BasisLayer) unit(i, o int, ex *Expansion) float64 {
	w := l.weights.Value
	base := (i*l.spec.OutFeatures + o) * l.exp.Size()
	total := 0.0
	for k, idx := range ex.Index {
		total += w[base+idx] * ex.Acts[k]
	}
	return total
}

// unitLinear returns the linear part of a sub-function and its slope in x.
func (l *BasisLayer) unitLinear(i, o int, ex *Expansion) (float64, float64) {
	w := l.weights.Value
	base := (i*l.spec.OutFeatures + o) * l.exp.Size()
	value, slope := 0.0, 0.0
	for k, idx := range ex.Index {
		a, s := l.exp.Linear(ex, k)
		value += w[base+idx] * a
		slope += w[base+idx] * s
	}
	return value, slope
}

func (l *BasisLayer) checkInput(x *tensor.Dense) (int, error) {
	if x == nil {
		return 0, fmt.Errorf("%w: nil input", ErrInput)
	}
	if x.Dims() != 2 || x.Dim(1) != l.spec.InFeatures {
		return 0, fmt.Errorf("%w: input shape %v, want [batch %d]", tensor.ErrShape, x.Shape(), l.spec.InFeatures)
	}
	return x.Dim(0), nil
}

func (l *BasisLayer) newExpansions() []Expansion {
	exps := make([]Expansion, l.spec.InFeatures)
	for i := range exps {
		exps[i] = l.exp.NewExpansion()
	}
	return exps
}

func (l *BasisLayer) expandRow(row []float64, exps []Expansion, withGrad bool, buf *expandBuffer) int {
	l.exp.ExpandBatch(row, exps, withGrad, buf)
	clamped := 0
	for i := range exps {
		if exps[i].Route.Clamped {
			clamped++
		}
	}
	return clamped
}

func (l *BasisLayer) outputScale() float64 {
	if l.spec.RescaleOutput && l.comp.Mode == compose.Sum {
		return 1 / float64(l.spec.InFeatures)
	}
	return 1
}

func (l *BasisLayer) rescale(values []float64) {
	scale := l.outputScale()
	if scale == 1 {
		return
	}
	for i := range values {
		values[i] *= scale
	}
}

func (l *BasisLayer) reportClamped(clamped, total int) {
	if clamped == 0 {
		return
	}
	lo, hi := l.exp.Router().Domain()
	klog.V(4).Infof("%s layer clamped %d of %d inputs into [%g, %g]", l.spec.Kind, clamped, total, lo, hi)
}
