package nn

import (
	"fmt"
	"math/rand"

	"k8s.io/klog/v2"

	"highorder/internal/compose"
	"highorder/internal/model"
	"highorder/internal/tensor"
)

// ConvTranspose2d is the upsampling counterpart of Conv2d. Every pixel is
// expanded into in*Size basis channels as in Conv2d, and each expanded value
// then scatters a kernel-sized patch into the output, summing where patches
// overlap. For an H x W input the output is
// ((H-1)*stride-2*padding+kernel) x ((W-1)*stride-2*padding+kernel).
type ConvTranspose2d struct {
	spec    model.LayerSpec
	opts    model.ConvOptions
	patch   tensor.PatchConfig
	kind    KindSpec
	exp     *Expander
	weights *Parameter
}

func NewConvTranspose2d(spec model.LayerSpec, opts model.ConvOptions) (*ConvTranspose2d, error) {
	spec, kind, err := NormalizeSpec(spec)
	if err != nil {
		return nil, err
	}
	if kind.Composition != compose.Sum {
		return nil, fmt.Errorf("%w: %s has no convolutional form", ErrConfiguration, spec.Kind)
	}
	opts.Transpose = true
	opts, err = NormalizeConv(opts)
	if err != nil {
		return nil, err
	}
	exp, err := newExpander(kind, spec.N, spec.Segments, spec.Scale, spec.Periodicity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	taps := opts.KernelSize * opts.KernelSize
	c := &ConvTranspose2d{
		spec:    spec,
		opts:    opts,
		patch:   tensor.Square(opts.KernelSize, opts.Stride, opts.Padding),
		kind:    kind,
		exp:     exp,
		weights: newParameter(weightsName, spec.InFeatures*exp.Size(), spec.OutFeatures*taps),
	}
	c.weights.initUniform(rand.New(rand.NewSource(spec.Seed)), 1/float64(spec.InFeatures))

	klog.V(2).Infof("built %s conv_transpose2d in=%d out=%d n=%d segments=%d kernel=%d stride=%d padding=%d",
		spec.Kind, spec.InFeatures, spec.OutFeatures, spec.N, spec.Segments, opts.KernelSize, opts.Stride, opts.Padding)
	return c, nil
}

func (c *ConvTranspose2d) Spec() model.LayerSpec {
	return c.spec
}

func (c *ConvTranspose2d) Options() model.ConvOptions {
	return c.opts
}

func (c *ConvTranspose2d) Expander() *Expander {
	return c.exp
}

func (c *ConvTranspose2d) Parameters() []*Parameter {
	return []*Parameter{c.weights}
}

func (c *ConvTranspose2d) Weights() *Parameter {
	return c.weights
}

// OutputSize returns the spatial output size for an h x w input.
func (c *ConvTranspose2d) OutputSize(h, w int) (int, int, error) {
	grow := func(n int) int {
		return (n-1)*c.opts.Stride - 2*c.opts.Padding + c.opts.KernelSize
	}
	outH, outW := grow(h), grow(w)
	if outH < 1 || outW < 1 {
		return 0, 0, fmt.Errorf("%w: transposed output %dx%d for input %dx%d", tensor.ErrShape, outH, outW, h, w)
	}
	return outH, outW, nil
}

// Forward maps x [B, in, H, W] to [B, out, outH, outW].
func (c *ConvTranspose2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	expanded, err := expandImage(c.exp, c.spec, x, nil)
	if err != nil {
		return nil, err
	}
	batch, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW, err := c.OutputSize(h, w)
	if err != nil {
		return nil, err
	}
	flat, err := expanded.Reshape(batch, expanded.Dim(1), h*w)
	if err != nil {
		return nil, err
	}
	kernelT, err := tensor.Transpose(c.kernel())
	if err != nil {
		return nil, err
	}
	cols, err := tensor.MatMul(kernelT, flat)
	if err != nil {
		return nil, err
	}
	y, err := tensor.Fold2D(cols, c.spec.OutFeatures, outH, outW, c.patch)
	if err != nil {
		return nil, err
	}
	c.rescale(y.Data())
	return y, nil
}

// Backward accumulates the kernel gradient and returns dLoss/dx. Unfold2D is
// the adjoint of the Fold2D used in Forward.
func (c *ConvTranspose2d) Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error) {
	var grads convGrads
	expanded, err := expandImage(c.exp, c.spec, x, &grads)
	if err != nil {
		return nil, err
	}
	batch, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW, err := c.OutputSize(h, w)
	if err != nil {
		return nil, err
	}
	want := []int{batch, c.spec.OutFeatures, outH, outW}
	if !equalShape(gradOut.Shape(), want) {
		return nil, fmt.Errorf("%w: gradient shape %v, want %v", tensor.ErrShape, gradOut.Shape(), want)
	}

	g := gradOut.Clone()
	c.rescale(g.Data())
	gradCols, err := tensor.Unfold2D(g, c.patch)
	if err != nil {
		return nil, err
	}
	flat, err := expanded.Reshape(batch, expanded.Dim(1), h*w)
	if err != nil {
		return nil, err
	}

	gradColsT, err := tensor.Transpose(gradCols)
	if err != nil {
		return nil, err
	}
	gw, err := tensor.MatMul(flat, gradColsT)
	if err != nil {
		return nil, err
	}
	size := c.weights.Len()
	for b := 0; b < batch; b++ {
		for i, v := range gw.Data()[b*size : (b+1)*size] {
			c.weights.Grad[i] += v
		}
	}

	gradFlat, err := tensor.MatMul(c.kernel(), gradCols)
	if err != nil {
		return nil, err
	}
	gradExpanded, err := gradFlat.Reshape(batch, expanded.Dim(1), h, w)
	if err != nil {
		return nil, err
	}
	return contractImage(c.exp, gradExpanded, x, &grads), nil
}

// kernel views the weights as [in*Size, out*kernel*kernel].
func (c *ConvTranspose2d) kernel() *tensor.Dense {
	rows := c.spec.InFeatures * c.exp.Size()
	k, err := tensor.New([]int{rows, c.weights.Len() / rows}, c.weights.Value)
	if err != nil {
		panic(err)
	}
	return k
}

func (c *ConvTranspose2d) rescale(values []float64) {
	if !c.spec.RescaleOutput {
		return
	}
	scale := 1 / float64(c.spec.InFeatures*c.opts.KernelSize*c.opts.KernelSize)
	for i := range values {
		values[i] *= scale
	}
}
