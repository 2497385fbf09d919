package nn

import (
	"fmt"
	"math/rand"

	"k8s.io/klog/v2"

	"highorder/internal/compose"
	"highorder/internal/model"
	"highorder/internal/tensor"
)

// Conv2d applies the basis expansion to every pixel and then a linear
// convolution over the expanded channels. Each input channel c becomes Size
// expanded channels c*Size+slot; only Dim of them are non-zero per pixel.
type Conv2d struct {
	spec    model.LayerSpec
	opts    model.ConvOptions
	patch   tensor.PatchConfig
	kind    KindSpec
	exp     *Expander
	weights *Parameter
}

// ConvLayer is a layer over [B, C, H, W] images.
type ConvLayer interface {
	Layer
	Options() model.ConvOptions
}

// NewConvLayer builds a Conv2d or, when opts.Transpose is set, a
// ConvTranspose2d.
func NewConvLayer(spec model.LayerSpec, opts model.ConvOptions) (ConvLayer, error) {
	if opts.Transpose {
		return NewConvTranspose2d(spec, opts)
	}
	return NewConv2d(spec, opts)
}

// NormalizeConv validates the patch options of a convolutional layer.
func NormalizeConv(opts model.ConvOptions) (model.ConvOptions, error) {
	if opts.KernelSize < 1 {
		return opts, fmt.Errorf("%w: kernel size must be at least 1, got %d", ErrConfiguration, opts.KernelSize)
	}
	if opts.Stride == 0 {
		opts.Stride = 1
	}
	if opts.Stride < 1 || opts.Padding < 0 {
		return opts, fmt.Errorf("%w: stride=%d padding=%d", ErrConfiguration, opts.Stride, opts.Padding)
	}
	return opts, nil
}

func NewConv2d(spec model.LayerSpec, opts model.ConvOptions) (*Conv2d, error) {
	spec, kind, err := NormalizeSpec(spec)
	if err != nil {
		return nil, err
	}
	if kind.Composition != compose.Sum {
		return nil, fmt.Errorf("%w: %s has no convolutional form", ErrConfiguration, spec.Kind)
	}
	if opts.Transpose {
		return nil, fmt.Errorf("%w: transposed options passed to conv2d", ErrConfiguration)
	}
	opts, err = NormalizeConv(opts)
	if err != nil {
		return nil, err
	}
	exp, err := newExpander(kind, spec.N, spec.Segments, spec.Scale, spec.Periodicity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	taps := opts.KernelSize * opts.KernelSize
	c := &Conv2d{
		spec:    spec,
		opts:    opts,
		patch:   tensor.Square(opts.KernelSize, opts.Stride, opts.Padding),
		kind:    kind,
		exp:     exp,
		weights: newParameter(weightsName, spec.OutFeatures, spec.InFeatures*exp.Size()*taps),
	}
	c.weights.initUniform(rand.New(rand.NewSource(spec.Seed)), 1/float64(spec.InFeatures))

	klog.V(2).Infof("built %s conv2d in=%d out=%d n=%d segments=%d kernel=%d stride=%d padding=%d",
		spec.Kind, spec.InFeatures, spec.OutFeatures, spec.N, spec.Segments, opts.KernelSize, opts.Stride, opts.Padding)
	return c, nil
}

func (c *Conv2d) Spec() model.LayerSpec {
	return c.spec
}

func (c *Conv2d) Options() model.ConvOptions {
	return c.opts
}

func (c *Conv2d) Expander() *Expander {
	return c.exp
}

func (c *Conv2d) Parameters() []*Parameter {
	return []*Parameter{c.weights}
}

func (c *Conv2d) Weights() *Parameter {
	return c.weights
}

// Forward maps x [B, in, H, W] to [B, out, outH, outW].
func (c *Conv2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	expanded, err := c.expand(x, nil)
	if err != nil {
		return nil, err
	}
	cols, err := tensor.Unfold2D(expanded, c.patch)
	if err != nil {
		return nil, err
	}
	y, err := tensor.MatMul(c.kernel(), cols)
	if err != nil {
		return nil, err
	}
	c.rescale(y.Data())
	outH, outW, _ := c.patch.OutputSize(x.Dim(2), x.Dim(3))
	return y.Reshape(x.Dim(0), c.spec.OutFeatures, outH, outW)
}

// Backward accumulates the kernel gradient and returns dLoss/dx.
func (c *Conv2d) Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error) {
	var grads convGrads
	expanded, err := c.expand(x, &grads)
	if err != nil {
		return nil, err
	}
	batch, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW, err := c.patch.OutputSize(h, w)
	if err != nil {
		return nil, err
	}
	want := []int{batch, c.spec.OutFeatures, outH, outW}
	if !equalShape(gradOut.Shape(), want) {
		return nil, fmt.Errorf("%w: gradient shape %v, want %v", tensor.ErrShape, gradOut.Shape(), want)
	}

	g := gradOut.Clone()
	c.rescale(g.Data())
	g, err = g.Reshape(batch, c.spec.OutFeatures, outH*outW)
	if err != nil {
		return nil, err
	}

	cols, err := tensor.Unfold2D(expanded, c.patch)
	if err != nil {
		return nil, err
	}
	colsT, err := tensor.Transpose(cols)
	if err != nil {
		return nil, err
	}
	gw, err := tensor.MatMul(g, colsT)
	if err != nil {
		return nil, err
	}
	size := c.weights.Len()
	for b := 0; b < batch; b++ {
		for i, v := range gw.Data()[b*size : (b+1)*size] {
			c.weights.Grad[i] += v
		}
	}

	kernelT, err := tensor.Transpose(c.kernel())
	if err != nil {
		return nil, err
	}
	gradCols, err := tensor.MatMul(kernelT, g)
	if err != nil {
		return nil, err
	}
	gradExpanded, err := tensor.Fold2D(gradCols, expanded.Dim(1), h, w, c.patch)
	if err != nil {
		return nil, err
	}
	return c.contract(gradExpanded, x, &grads), nil
}

// convGrads keeps per-pixel routing from the expansion for the backward pass.
type convGrads struct {
	grads []float64
	index []int
}

func (c *Conv2d) expand(x *tensor.Dense, grads *convGrads) (*tensor.Dense, error) {
	return expandImage(c.exp, c.spec, x, grads)
}

func (c *Conv2d) contract(gradExpanded, x *tensor.Dense, grads *convGrads) *tensor.Dense {
	return contractImage(c.exp, gradExpanded, x, grads)
}

// expandImage builds the sparse expanded tensor [B, in*Size, H, W], one
// batched expansion per channel plane. When grads is non-nil the basis
// derivatives and slot indices of every pixel are kept.
func expandImage(exp *Expander, spec model.LayerSpec, x *tensor.Dense, grads *convGrads) (*tensor.Dense, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: nil input", ErrInput)
	}
	if x.Dims() != 4 || x.Dim(1) != spec.InFeatures {
		return nil, fmt.Errorf("%w: input shape %v, want [B %d H W]", tensor.ErrShape, x.Shape(), spec.InFeatures)
	}
	batch, channels, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	size, dim, plane := exp.Size(), exp.Dim(), h*w
	expanded := tensor.Zeros(batch, channels*size, h, w)
	if grads != nil {
		grads.grads = make([]float64, x.Len()*dim)
		grads.index = make([]int, x.Len()*dim)
	}

	exps := make([]Expansion, plane)
	for p := range exps {
		exps[p] = exp.NewExpansion()
	}
	var buf expandBuffer
	xs, es := x.Data(), expanded.Data()
	clamped := 0
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			src := (b*channels + ch) * plane
			dst := (b*channels*size + ch*size) * plane
			exp.ExpandBatch(xs[src:src+plane], exps, grads != nil, &buf)
			for p := range exps {
				ex := &exps[p]
				if ex.Route.Clamped {
					clamped++
				}
				for k, idx := range ex.Index {
					es[dst+idx*plane+p] = ex.Acts[k]
				}
				if grads != nil {
					off := (src + p) * dim
					copy(grads.grads[off:off+dim], ex.Grads)
					copy(grads.index[off:off+dim], ex.Index)
				}
			}
		}
	}
	if clamped > 0 {
		lo, hi := exp.Router().Domain()
		klog.V(4).Infof("%s conv clamped %d of %d inputs into [%g, %g]", spec.Kind, clamped, x.Len(), lo, hi)
	}
	return expanded, nil
}

// contractImage chains the expanded-channel gradient through the basis
// derivative.
func contractImage(exp *Expander, gradExpanded, x *tensor.Dense, grads *convGrads) *tensor.Dense {
	batch, channels, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	size, dim, plane := exp.Size(), exp.Dim(), h*w
	gradIn := tensor.Zeros(batch, channels, h, w)
	ge, gi := gradExpanded.Data(), gradIn.Data()
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			src := (b*channels + ch) * plane
			base := (b*channels*size + ch*size) * plane
			for p := 0; p < plane; p++ {
				off := (src + p) * dim
				total := 0.0
				for k := 0; k < dim; k++ {
					total += ge[base+grads.index[off+k]*plane+p] * grads.grads[off+k]
				}
				gi[src+p] = total
			}
		}
	}
	return gradIn
}

func (c *Conv2d) kernel() *tensor.Dense {
	k, err := tensor.New([]int{c.spec.OutFeatures, c.weights.Len() / c.spec.OutFeatures}, c.weights.Value)
	if err != nil {
		panic(err)
	}
	return k
}

// rescale divides by the number of summed terms per output when enabled.
func (c *Conv2d) rescale(values []float64) {
	if !c.spec.RescaleOutput {
		return
	}
	scale := 1 / float64(c.spec.InFeatures*c.opts.KernelSize*c.opts.KernelSize)
	for i := range values {
		values[i] *= scale
	}
}
