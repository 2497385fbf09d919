package basis

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestChebyshevLobattoPlacement(t *testing.T) {
	nodes, err := ChebyshevLobatto[float64](5)
	require.NoError(t, err)
	want := []float64{-1, -math.Sqrt2 / 2, 0, math.Sqrt2 / 2, 1}
	if diff := cmp.Diff(want, nodes, cmpopts.EquateApprox(0, 1e-15)); diff != "" {
		t.Fatalf("node mismatch (-want +got):\n%s", diff)
	}

	single, err := ChebyshevLobatto[float64](1)
	require.NoError(t, err)
	require.Equal(t, []float64{0}, single)

	two, err := ChebyshevLobatto[float64](2)
	require.NoError(t, err)
	require.Equal(t, []float64{-1, 1}, two)
}

func TestChebyshevLobattoIsSymmetricAndAscending(t *testing.T) {
	for n := 2; n <= 48; n++ {
		nodes, err := ChebyshevLobatto[float64](n)
		require.NoError(t, err)
		if nodes[0] != -1 || nodes[n-1] != 1 {
			t.Fatalf("n=%d: endpoints not pinned: %v %v", n, nodes[0], nodes[n-1])
		}
		for i := 1; i < n; i++ {
			if nodes[i] <= nodes[i-1] {
				t.Fatalf("n=%d: nodes not ascending at %d", n, i)
			}
			if nodes[i] != -nodes[n-1-i] {
				t.Fatalf("n=%d: nodes not antisymmetric at %d", n, i)
			}
		}
	}
}

func TestChebyshevLobattoRejectsBadOrder(t *testing.T) {
	if _, err := ChebyshevLobatto[float64](0); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder, got: %v", err)
	}
}

func TestLagrangeInterpolationProperty(t *testing.T) {
	for n := 1; n <= 24; n++ {
		l, err := NewLagrange[float64](n)
		require.NoError(t, err)
		nodes := l.Nodes()
		for i, xi := range nodes {
			acts := l.Evaluate(xi, nil)
			for j, v := range acts {
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(v-want) > 1e-9 {
					t.Fatalf("n=%d: l_%d(x_%d)=%g want=%g", n, j, i, v, want)
				}
			}
		}
	}
}

func TestLagrangePartitionOfUnity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	// Extrapolated activations grow like 10^(n-1), so the float64 sum only
	// stays within 1e-6 of one for moderate orders on [-10, 10].
	for n := 1; n <= 8; n++ {
		l, err := NewLagrange[float64](n)
		require.NoError(t, err)
		for trial := 0; trial < 200; trial++ {
			x := rng.Float64()*20 - 10
			sum := 0.0
			for _, v := range l.Evaluate(x, nil) {
				sum += v
			}
			if math.Abs(sum-1) > 1e-6 {
				t.Fatalf("n=%d x=%f: partition of unity violated, sum=%g", n, x, sum)
			}
		}
	}
}

func TestLagrangePartitionOfUnityHighOrderInDomain(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	for _, n := range []int{16, 24, 32} {
		l, err := NewLagrange[float64](n)
		require.NoError(t, err)
		for trial := 0; trial < 200; trial++ {
			x := rng.Float64()*2 - 1
			sum := 0.0
			for _, v := range l.Evaluate(x, nil) {
				sum += v
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("n=%d x=%f: partition of unity violated, sum=%g", n, x, sum)
			}
		}
	}
}

func TestLagrangeReproducesPolynomials(t *testing.T) {
	l, err := NewLagrange[float64](4)
	require.NoError(t, err)
	cubic := func(x float64) float64 { return 2*x*x*x - x*x + 0.5*x - 3 }
	values := make([]float64, 0, 4)
	for _, x := range l.Nodes() {
		values = append(values, cubic(x))
	}
	for _, x := range []float64{-3, -1, -0.3, 0, 0.77, 1, 2.5} {
		if got := l.Interpolate(values, x); math.Abs(got-cubic(x)) > 1e-9 {
			t.Fatalf("cubic not reproduced at %f: got=%f want=%f", x, got, cubic(x))
		}
	}
}

func TestLagrangeDerivativeMatchesFiniteDifference(t *testing.T) {
	const h = 1e-6
	for _, n := range []int{1, 2, 3, 5, 9} {
		l, err := NewLagrange[float64](n)
		require.NoError(t, err)
		for _, x := range []float64{-1.5, -1, -0.4, 0, 0.25, 1, 3} {
			d := l.Derivative(x, nil)
			plus := l.Evaluate(x+h, nil)
			minus := l.Evaluate(x-h, nil)
			for i := range d {
				fd := (plus[i] - minus[i]) / (2 * h)
				if math.Abs(fd-d[i]) > 1e-5*math.Max(1, math.Abs(fd)) {
					t.Fatalf("n=%d x=%f i=%d: derivative=%g finite-difference=%g", n, x, i, d[i], fd)
				}
			}
		}
	}
}

func TestLagrangeDerivativeSumsToZero(t *testing.T) {
	l, err := NewLagrange[float64](7)
	require.NoError(t, err)
	for _, x := range []float64{-2, -0.5, 0.1, 0.9} {
		sum := 0.0
		for _, v := range l.Derivative(x, nil) {
			sum += v
		}
		if math.Abs(sum) > 1e-9 {
			t.Fatalf("derivative of partition of unity should vanish at %f, got=%g", x, sum)
		}
	}
}

func TestLagrangeRejectsDuplicateNodes(t *testing.T) {
	if _, err := NewLagrangeOnNodes([]float64{0, 0.5, 0.5}); !errors.Is(err, ErrNodes) {
		t.Fatalf("expected ErrNodes, got: %v", err)
	}
	if _, err := Evaluate(0.1, []float64{}); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder, got: %v", err)
	}
}

func TestLagrangeBatchMatchesScalar(t *testing.T) {
	l, err := NewLagrange[float64](5)
	require.NoError(t, err)
	xs := []float64{-0.9, 0.1, 0.6}
	batchOut := l.EvaluateBatch(xs, nil)
	dBatch := l.DerivativeBatch(xs, nil)
	for i, x := range xs {
		if diff := cmp.Diff(l.Evaluate(x, nil), batchOut[i*5:(i+1)*5]); diff != "" {
			t.Fatalf("batch row %d mismatch (-scalar +batch):\n%s", i, diff)
		}
		if diff := cmp.Diff(l.Derivative(x, nil), dBatch[i*5:(i+1)*5]); diff != "" {
			t.Fatalf("derivative batch row %d mismatch (-scalar +batch):\n%s", i, diff)
		}
	}
}

func TestLagrangeFloat32(t *testing.T) {
	l, err := NewLagrange[float32](6)
	require.NoError(t, err)
	var sum float32
	for _, v := range l.Evaluate(0.3, nil) {
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Fatalf("float32 partition of unity violated: sum=%g", sum)
	}
}

func TestStatelessEvaluate(t *testing.T) {
	acts, err := Evaluate(0.5, []float64{-1, 1})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0.25, 0.75}, acts, 1e-15)
}

func TestMapToInterval(t *testing.T) {
	got := MapToInterval([]float64{-1, 0, 1}, 2, 4)
	require.Equal(t, []float64{2, 3, 4}, got)
}

func TestFourierLayoutAndDerivative(t *testing.T) {
	f, err := NewFourier[float64](3, 1)
	require.NoError(t, err)
	require.Equal(t, 7, f.Dim())

	x := 0.3
	acts := f.Evaluate(x, nil)
	want := []float64{
		1,
		math.Sin(math.Pi * x), math.Cos(math.Pi * x),
		math.Sin(2 * math.Pi * x), math.Cos(2 * math.Pi * x),
		math.Sin(3 * math.Pi * x), math.Cos(3 * math.Pi * x),
	}
	if diff := cmp.Diff(want, acts, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("fourier activations mismatch (-want +got):\n%s", diff)
	}

	const h = 1e-6
	d := f.Derivative(x, nil)
	plus := f.Evaluate(x+h, nil)
	minus := f.Evaluate(x-h, nil)
	for i := range d {
		fd := (plus[i] - minus[i]) / (2 * h)
		if math.Abs(fd-d[i]) > 1e-5 {
			t.Fatalf("fourier derivative %d: got=%g want=%g", i, d[i], fd)
		}
	}
}

func TestFourierIsPeriodic(t *testing.T) {
	f, err := NewFourier[float64](4, 1)
	require.NoError(t, err)
	a := f.Evaluate(-0.35, nil)
	b := f.Evaluate(-0.35+2, nil)
	if diff := cmp.Diff(a, b, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("fourier basis not 2-periodic (-x +x+2):\n%s", diff)
	}
}

func TestFourierValidation(t *testing.T) {
	if _, err := NewFourier[float64](0, 1); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder, got: %v", err)
	}
	if _, err := NewFourier[float64](2, 0); err == nil {
		t.Fatal("expected half period error")
	}
}
