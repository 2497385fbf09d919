// Package compose combines the outputs of several basis sub-layers that feed
// one logical unit, either by summation or by multiplication with a tunable
// amount of the linear part retained.
package compose

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrAlpha = errors.New("alpha must lie in [0, 1]")
	ErrMode  = errors.New("unknown composition mode")
)

type Mode int

const (
	Sum Mode = iota
	Product
)

func (m Mode) String() string {
	switch m {
	case Sum:
		return "sum"
	case Product:
		return "product"
	default:
		return fmt.Sprintf("compose(%d)", int(m))
	}
}

// Spec selects the composition and, for products, alpha: 1 keeps the full
// product, 0 subtracts the product of the linear parts.
type Spec struct {
	Mode  Mode
	Alpha float64
}

func (s Spec) Validate() error {
	if s.Mode != Sum && s.Mode != Product {
		return fmt.Errorf("%w: %d", ErrMode, int(s.Mode))
	}
	if math.IsNaN(s.Alpha) || s.Alpha < 0 || s.Alpha > 1 {
		return fmt.Errorf("%w: got %v", ErrAlpha, s.Alpha)
	}
	return nil
}

// Combine folds sub-layer outputs ys into one value. linear holds the
// first-order part of each ys[i] and is only read for products.
func (s Spec) Combine(ys, linear []float64) float64 {
	if s.Mode == Product {
		return Blend(ys, linear, s.Alpha)
	}
	return Accumulate(ys)
}

// Backward writes dOut/dys[i] and dOut/dlinear[i] scaled by gradOut.
func (s Spec) Backward(ys, linear []float64, gradOut float64, dys, dlinear []float64) {
	if s.Mode == Product {
		BlendGrad(ys, linear, s.Alpha, gradOut, dys, dlinear)
		return
	}
	for i := range ys {
		dys[i] = gradOut
		if dlinear != nil {
			dlinear[i] = 0
		}
	}
}

func Accumulate(ys []float64) float64 {
	total := 0.0
	for _, y := range ys {
		total += y
	}
	return total
}

// Blend returns alpha*P + (1-alpha)*(P - L) = P - (1-alpha)*L where P is the
// product of ys and L the product of their linear parts.
func Blend(ys, linear []float64, alpha float64) float64 {
	full := prod(ys)
	if alpha == 1 {
		return full
	}
	return full - (1-alpha)*prod(linear)
}

// BlendGrad is the gradient of Blend. dlinear may be nil when alpha == 1.
func BlendGrad(ys, linear []float64, alpha, gradOut float64, dys, dlinear []float64) {
	leaveOneOut(ys, dys)
	for i := range dys {
		dys[i] *= gradOut
	}
	if dlinear == nil {
		return
	}
	if alpha == 1 {
		for i := range dlinear {
			dlinear[i] = 0
		}
		return
	}
	leaveOneOut(linear, dlinear)
	scale := -(1 - alpha) * gradOut
	for i := range dlinear {
		dlinear[i] *= scale
	}
}

func prod(values []float64) float64 {
	p := 1.0
	for _, v := range values {
		p *= v
	}
	return p
}

// leaveOneOut writes prod_{j!=i} values[j] into out[i] without dividing, so
// zero factors are handled exactly.
func leaveOneOut(values, out []float64) {
	running := 1.0
	for i, v := range values {
		out[i] = running
		running *= v
	}
	running = 1.0
	for i := len(values) - 1; i >= 0; i-- {
		out[i] *= running
		running *= values[i]
	}
}
