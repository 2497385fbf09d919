package basis

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Fourier is the truncated harmonic basis
// {1, sin(k*pi*x/L), cos(k*pi*x/L) : k = 1..order}, laid out as
// [1, sin1, cos1, sin2, cos2, ...] with Dim() == 2*order+1.
type Fourier[T constraints.Float] struct {
	order      int
	halfPeriod float64
}

// NewFourier builds a basis whose fundamental has period 2*halfPeriod. A
// halfPeriod of 1 matches the reference interval [-1, 1].
func NewFourier[T constraints.Float](order int, halfPeriod T) (*Fourier[T], error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrOrder, order)
	}
	if halfPeriod <= 0 {
		return nil, fmt.Errorf("fourier half period must be positive, got %v", halfPeriod)
	}
	return &Fourier[T]{order: order, halfPeriod: float64(halfPeriod)}, nil
}

func (f *Fourier[T]) Order() int {
	return f.order
}

func (f *Fourier[T]) Dim() int {
	return 2*f.order + 1
}

func (f *Fourier[T]) Evaluate(x T, out []T) []T {
	out = ensure(out, f.Dim())
	out[0] = 1
	w := math.Pi * float64(x) / f.halfPeriod
	for k := 1; k <= f.order; k++ {
		s, c := math.Sincos(float64(k) * w)
		out[2*k-1] = T(s)
		out[2*k] = T(c)
	}
	return out
}

func (f *Fourier[T]) Derivative(x T, out []T) []T {
	out = ensure(out, f.Dim())
	out[0] = 0
	w := math.Pi * float64(x) / f.halfPeriod
	for k := 1; k <= f.order; k++ {
		freq := float64(k) * math.Pi / f.halfPeriod
		s, c := math.Sincos(float64(k) * w)
		out[2*k-1] = T(freq * c)
		out[2*k] = T(-freq * s)
	}
	return out
}

func (f *Fourier[T]) EvaluateBatch(xs []T, out []T) []T {
	return batch[T](f.Evaluate, f.Dim(), xs, out)
}

func (f *Fourier[T]) DerivativeBatch(xs []T, out []T) []T {
	return batch[T](f.Derivative, f.Dim(), xs, out)
}
