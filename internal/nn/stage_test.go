package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"highorder/internal/tensor"
)

func mustStage(t *testing.T, name string, width int) *Stage {
	t.Helper()
	s, err := NewStage(name, width)
	if err != nil {
		t.Fatalf("new stage %s: %v", name, err)
	}
	return s
}

func TestMaxAbsStageNormalizesEachSample(t *testing.T) {
	s := mustStage(t, MaxAbsStage, 3)
	y, err := s.Forward(mustRows(t, []float64{2, -4, 1}, []float64{0.5, 0.25, -0.1}))
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0.5, -1, 0.25, 1, 0.5, -0.2}, y.Data(), 1e-9)

	zero, err := s.Forward(mustRows(t, []float64{0, 0, 0}))
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0}, zero.Data())

	img, err := s.Forward(mustTensor(t, []int{1, 3, 1, 2}, []float64{1, 2, -8, 4, 0, 2}))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 1, 2}, img.Shape())
	require.InDelta(t, -1, img.At(0, 1, 0, 0), 1e-9)
}

func TestTanhStage(t *testing.T) {
	s := mustStage(t, TanhStage, 2)
	y, err := s.Forward(mustRows(t, []float64{0, 0.5}))
	require.NoError(t, err)
	require.Equal(t, []float64{0, math.Tanh(0.5)}, y.Data())
	require.Empty(t, s.Parameters())
	require.Equal(t, 2, s.Spec().OutFeatures)
}

func TestStageGradientsMatchFiniteDifference(t *testing.T) {
	for _, name := range []string{MaxAbsStage, TanhStage} {
		s := mustStage(t, name, 3)
		xs := []float64{0.3, -0.9, 0.45, 1.2, 0.1, -0.6}
		x := mustTensor(t, []int{2, 3}, xs)
		r := []float64{0.7, -1.1, 0.4, 2, -0.3, 0.9}
		loss := func() float64 {
			y, err := s.Forward(x)
			require.NoError(t, err)
			total := 0.0
			for i, v := range y.Data() {
				total += v * r[i]
			}
			return total
		}

		gradIn, err := s.Backward(x, mustTensor(t, []int{2, 3}, r))
		require.NoError(t, err)
		const step = 1e-6
		for j := range xs {
			orig := xs[j]
			xs[j] = orig + step
			plus := loss()
			xs[j] = orig - step
			minus := loss()
			xs[j] = orig
			if fd := (plus - minus) / (2 * step); !closeEnough(gradIn.Data()[j], fd) {
				t.Fatalf("%s input %d: got=%g want=%g", name, j, gradIn.Data()[j], fd)
			}
		}
	}
}

func TestStageValidation(t *testing.T) {
	_, err := NewStage("relu", 2)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewStage(TanhStage, 0)
	require.ErrorIs(t, err, ErrConfiguration)

	s := mustStage(t, TanhStage, 2)
	_, err = s.Forward(tensor.Zeros(1, 3))
	require.ErrorIs(t, err, tensor.ErrShape)
	_, err = s.Backward(tensor.Zeros(1, 2), tensor.Zeros(2, 2))
	require.ErrorIs(t, err, tensor.ErrShape)
}
