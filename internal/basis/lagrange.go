package basis

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Basis maps a scalar to a fixed-length activation vector and provides the
// derivative of every activation with respect to that scalar.
type Basis[T constraints.Float] interface {
	Dim() int
	Evaluate(x T, out []T) []T
	Derivative(x T, out []T) []T
}

// Lagrange is the interpolating basis over a fixed node set.
type Lagrange[T constraints.Float] struct {
	nodes []T
	// diffs[i*n+j] = nodes[i] - nodes[j]
	diffs []T
}

// NewLagrange builds the basis over n Chebyshev-Lobatto nodes on [-1, 1].
func NewLagrange[T constraints.Float](n int) (*Lagrange[T], error) {
	nodes, err := ChebyshevLobatto[T](n)
	if err != nil {
		return nil, err
	}
	return NewLagrangeOnNodes(nodes)
}

// NewLagrangeOnNodes builds the basis over caller-provided distinct nodes.
func NewLagrangeOnNodes[T constraints.Float](nodes []T) (*Lagrange[T], error) {
	n := len(nodes)
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrOrder, n)
	}
	diffs := make([]T, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := nodes[i] - nodes[j]
			if d == 0 {
				return nil, fmt.Errorf("%w: nodes %d and %d both equal %v", ErrNodes, i, j, nodes[i])
			}
			diffs[i*n+j] = d
		}
	}
	return &Lagrange[T]{nodes: append([]T(nil), nodes...), diffs: diffs}, nil
}

func (l *Lagrange[T]) Dim() int {
	return len(l.nodes)
}

func (l *Lagrange[T]) Nodes() []T {
	return append([]T(nil), l.nodes...)
}

// Evaluate writes l_i(x) = prod_{j!=i} (x-x_j)/(x_i-x_j) for every node i.
// Each factor is formed as a quotient so l_i(x_i) is exactly 1 and l_i(x_j)
// exactly 0. x may lie outside [-1, 1]; the result is the polynomial
// extrapolation.
func (l *Lagrange[T]) Evaluate(x T, out []T) []T {
	n := len(l.nodes)
	out = ensure(out, n)
	for i := 0; i < n; i++ {
		p := T(1)
		row := l.diffs[i*n : (i+1)*n]
		for j, xj := range l.nodes {
			if j == i {
				continue
			}
			p *= (x - xj) / row[j]
		}
		out[i] = p
	}
	return out
}

// Derivative writes d l_i / dx at x for every node i.
func (l *Lagrange[T]) Derivative(x T, out []T) []T {
	n := len(l.nodes)
	out = ensure(out, n)
	if n == 1 {
		out[0] = 0
		return out
	}
	m := n - 1
	factors := make([]T, m)
	inv := make([]T, m)
	prefix := make([]T, m+1)
	for i := 0; i < n; i++ {
		row := l.diffs[i*n : (i+1)*n]
		k := 0
		for j, xj := range l.nodes {
			if j == i {
				continue
			}
			factors[k] = (x - xj) / row[j]
			inv[k] = 1 / row[j]
			k++
		}
		prefix[0] = 1
		for k := 0; k < m; k++ {
			prefix[k+1] = prefix[k] * factors[k]
		}
		sum := T(0)
		suffix := T(1)
		for k := m - 1; k >= 0; k-- {
			sum += inv[k] * prefix[k] * suffix
			suffix *= factors[k]
		}
		out[i] = sum
	}
	return out
}

// EvaluateBatch evaluates every x in xs, writing len(xs) rows of Dim values.
func (l *Lagrange[T]) EvaluateBatch(xs []T, out []T) []T {
	return batch[T](l.Evaluate, len(l.nodes), xs, out)
}

// DerivativeBatch is the batched form of Derivative.
func (l *Lagrange[T]) DerivativeBatch(xs []T, out []T) []T {
	return batch[T](l.Derivative, len(l.nodes), xs, out)
}

// Interpolate evaluates sum_i values[i]*l_i(x).
func (l *Lagrange[T]) Interpolate(values []T, x T) T {
	acts := l.Evaluate(x, nil)
	sum := T(0)
	for i, v := range values {
		sum += v * acts[i]
	}
	return sum
}

// Evaluate is the stateless form: the Lagrange basis over nodes at x.
func Evaluate[T constraints.Float](x T, nodes []T) ([]T, error) {
	l, err := NewLagrangeOnNodes(nodes)
	if err != nil {
		return nil, err
	}
	return l.Evaluate(x, nil), nil
}

func ensure[T constraints.Float](out []T, n int) []T {
	if cap(out) < n {
		return make([]T, n)
	}
	return out[:n]
}

func batch[T constraints.Float](fn func(T, []T) []T, dim int, xs []T, out []T) []T {
	out = ensure(out, dim*len(xs))
	for i, x := range xs {
		fn(x, out[i*dim:(i+1)*dim])
	}
	return out
}
