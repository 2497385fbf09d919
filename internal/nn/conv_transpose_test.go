package nn

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"highorder/internal/model"
	"highorder/internal/tensor"
)

func mustConvTranspose(t *testing.T, spec model.LayerSpec, opts model.ConvOptions) *ConvTranspose2d {
	t.Helper()
	c, err := NewConvTranspose2d(spec, opts)
	if err != nil {
		t.Fatalf("new conv transpose %s: %v", spec.Kind, err)
	}
	return c
}

func TestConvTransposeUnitKernelMatchesConv(t *testing.T) {
	approx := cmpopts.EquateApprox(0, 1e-12)
	for _, spec := range []model.LayerSpec{
		{Kind: "polynomial", N: 3, Segments: 1},
		{Kind: "continuous", N: 3, Segments: 2},
		{Kind: "fourier", N: 2, Segments: 1},
	} {
		spec.InFeatures, spec.OutFeatures, spec.Seed = 2, 3, 5
		conv := mustConv(t, spec, model.ConvOptions{KernelSize: 1})
		tr := mustConvTranspose(t, spec, model.ConvOptions{KernelSize: 1})

		in, out, size := 2, 3, conv.Expander().Size()
		at := func(o, c, s int) (int, int) {
			return o*in*size + c*size + s, (c*size+s)*out + o
		}
		for o := 0; o < out; o++ {
			for c := 0; c < in; c++ {
				for s := 0; s < size; s++ {
					ci, ti := at(o, c, s)
					tr.Weights().Value[ti] = conv.Weights().Value[ci]
				}
			}
		}

		x := mustTensor(t, []int{2, 2, 2, 3}, uniformValues(3, 24, 0.9))
		yConv, err := conv.Forward(x)
		require.NoError(t, err)
		yTr, err := tr.Forward(x)
		require.NoError(t, err)
		require.Equal(t, yConv.Shape(), yTr.Shape())
		if diff := cmp.Diff(yConv.Data(), yTr.Data(), approx); diff != "" {
			t.Fatalf("%s forward mismatch (-conv +transpose):\n%s", spec.Kind, diff)
		}

		g := mustTensor(t, []int{2, 3, 2, 3}, uniformValues(4, 36, 1))
		gConv, err := conv.Backward(x, g)
		require.NoError(t, err)
		gTr, err := tr.Backward(x, g)
		require.NoError(t, err)
		if diff := cmp.Diff(gConv.Data(), gTr.Data(), approx); diff != "" {
			t.Fatalf("%s input gradient mismatch (-conv +transpose):\n%s", spec.Kind, diff)
		}
		for o := 0; o < out; o++ {
			for c := 0; c < in; c++ {
				for s := 0; s < size; s++ {
					ci, ti := at(o, c, s)
					if math.Abs(conv.Weights().Grad[ci]-tr.Weights().Grad[ti]) > 1e-12 {
						t.Fatalf("%s weight gradient o=%d c=%d s=%d: got=%f want=%f", spec.Kind, o, c, s, tr.Weights().Grad[ti], conv.Weights().Grad[ci])
					}
				}
			}
		}
	}
}

func TestConvTransposeScattersKernelPatch(t *testing.T) {
	tr := mustConvTranspose(t, model.LayerSpec{Kind: "polynomial", N: 2, InFeatures: 1, OutFeatures: 1, Segments: 1, Seed: 9}, model.ConvOptions{KernelSize: 2})
	y, err := tr.Forward(mustTensor(t, []int{1, 1, 1, 1}, []float64{0.3}))
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 2, 2}, y.Shape())

	ex := tr.Expander().NewExpansion()
	tr.Expander().Expand(0.3, &ex, false)
	const taps = 4
	for tap := 0; tap < taps; tap++ {
		want := 0.0
		for k, idx := range ex.Index {
			want += tr.Weights().Value[idx*taps+tap] * ex.Acts[k]
		}
		if got := y.Data()[tap]; math.Abs(got-want) > 1e-12 {
			t.Fatalf("tap %d: got=%f want=%f", tap, got, want)
		}
	}
}

func TestConvTransposeOutputSize(t *testing.T) {
	tr := mustConvTranspose(t, model.LayerSpec{Kind: "discontinuous", N: 2, InFeatures: 2, OutFeatures: 3, Segments: 2}, model.ConvOptions{KernelSize: 3, Stride: 2, Padding: 1})
	y, err := tr.Forward(tensor.Zeros(2, 2, 3, 4))
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 5, 7}, y.Shape())
	require.Equal(t, model.ConvOptions{KernelSize: 3, Stride: 2, Padding: 1, Transpose: true}, tr.Options())

	tight := mustConvTranspose(t, model.LayerSpec{Kind: "polynomial", N: 2, InFeatures: 1, OutFeatures: 1, Segments: 1}, model.ConvOptions{KernelSize: 1, Padding: 1})
	_, err = tight.Forward(tensor.Zeros(1, 1, 2, 2))
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestConvTransposeGradientsMatchFiniteDifference(t *testing.T) {
	spec := model.LayerSpec{Kind: "continuous", N: 3, InFeatures: 2, OutFeatures: 2, Segments: 2, Seed: 23, RescaleOutput: true}
	tr := mustConvTranspose(t, spec, model.ConvOptions{KernelSize: 3, Stride: 2, Padding: 1})
	xs := []float64{
		0.11, -0.62, 0.37, 0.84,
		-0.14, 0.71, -0.38, 0.26,
	}
	x := mustTensor(t, []int{1, 2, 2, 2}, xs)
	r := uniformValues(7, 2*3*3, 1)
	loss := func() float64 {
		y, err := tr.Forward(x)
		require.NoError(t, err)
		total := 0.0
		for i, v := range y.Data() {
			total += v * r[i]
		}
		return total
	}

	tr.Weights().ZeroGrad()
	gradIn, err := tr.Backward(x, mustTensor(t, []int{1, 2, 3, 3}, r))
	require.NoError(t, err)

	const step = 1e-6
	w := tr.Weights().Value
	for j := range w {
		orig := w[j]
		w[j] = orig + step
		plus := loss()
		w[j] = orig - step
		minus := loss()
		w[j] = orig
		if fd := (plus - minus) / (2 * step); !closeEnough(tr.Weights().Grad[j], fd) {
			t.Fatalf("weight %d: got=%g want=%g", j, tr.Weights().Grad[j], fd)
		}
	}
	for j := range xs {
		orig := xs[j]
		xs[j] = orig + step
		plus := loss()
		xs[j] = orig - step
		minus := loss()
		xs[j] = orig
		if fd := (plus - minus) / (2 * step); !closeEnough(gradIn.Data()[j], fd) {
			t.Fatalf("input %d: got=%g want=%g", j, gradIn.Data()[j], fd)
		}
	}
}

func TestConvTransposeValidation(t *testing.T) {
	spec := model.LayerSpec{Kind: "polynomial_product", N: 3, InFeatures: 1, OutFeatures: 1, Segments: 1}
	_, err := NewConvTranspose2d(spec, model.ConvOptions{KernelSize: 2})
	require.ErrorIs(t, err, ErrConfiguration)

	spec.Kind = "polynomial"
	_, err = NewConvTranspose2d(spec, model.ConvOptions{KernelSize: 0})
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewConv2d(spec, model.ConvOptions{KernelSize: 2, Transpose: true})
	require.ErrorIs(t, err, ErrConfiguration)

	layer, err := NewConvLayer(spec, model.ConvOptions{KernelSize: 2, Transpose: true})
	require.NoError(t, err)
	if _, ok := layer.(*ConvTranspose2d); !ok {
		t.Fatalf("expected transposed conv, got %T", layer)
	}
}
