// Package basis places interpolation nodes and evaluates the Lagrange and
// Fourier bases used by the high-order layers.
package basis

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

var (
	ErrOrder = errors.New("basis order must be at least 1")
	ErrNodes = errors.New("interpolation nodes must be distinct")
)

// ChebyshevLobatto returns n Chebyshev points of the second kind on [-1, 1]
// in ascending order. Both endpoints are included for n > 1 so adjacent
// segments can share boundary nodes exactly; n == 1 yields the single point 0.
func ChebyshevLobatto[T constraints.Float](n int) ([]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrOrder, n)
	}
	if n == 1 {
		return []T{0}, nil
	}
	nodes := make([]T, n)
	last := n - 1
	for k := 0; k <= last/2; k++ {
		v := -math.Cos(math.Pi * float64(k) / float64(last))
		nodes[k] = T(v)
		nodes[last-k] = T(-v)
	}
	// Pin the values cos() only approximates.
	nodes[0] = -1
	nodes[last] = 1
	if last%2 == 0 {
		nodes[last/2] = 0
	}
	return nodes, nil
}

// MapToInterval maps reference nodes on [-1, 1] onto [lo, hi].
func MapToInterval[T constraints.Float](nodes []T, lo, hi T) []T {
	out := make([]T, len(nodes))
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	for i, x := range nodes {
		out[i] = mid + half*x
	}
	return out
}
