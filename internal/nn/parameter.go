package nn

import (
	"fmt"
	"math/rand"

	"highorder/internal/model"
)

// Parameter is a trainable array with its accumulated gradient.
type Parameter struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParameter(name string, shape ...int) *Parameter {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// initUniform fills the parameter with samples from [-bound, bound].
func (p *Parameter) initUniform(rng *rand.Rand, bound float64) {
	for i := range p.Value {
		p.Value[i] = (2*rng.Float64() - 1) * bound
	}
}

func (p *Parameter) Len() int {
	return len(p.Value)
}

func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Step applies one plain gradient-descent update.
func (p *Parameter) Step(lr float64) {
	for i := range p.Value {
		p.Value[i] -= lr * p.Grad[i]
	}
}

func (p *Parameter) State() model.ParameterState {
	return model.ParameterState{
		Name:   p.Name,
		Shape:  append([]int(nil), p.Shape...),
		Values: append([]float64(nil), p.Value...),
	}
}

// Load copies values from a persisted state of the same name and shape.
func (p *Parameter) Load(state model.ParameterState) error {
	if state.Name != p.Name {
		return fmt.Errorf("%w: parameter name %q, want %q", ErrState, state.Name, p.Name)
	}
	if !equalShape(state.Shape, p.Shape) {
		return fmt.Errorf("%w: parameter %s shape %v, want %v", ErrState, p.Name, state.Shape, p.Shape)
	}
	if len(state.Values) != len(p.Value) {
		return fmt.Errorf("%w: parameter %s has %d values, want %d", ErrState, p.Name, len(state.Values), len(p.Value))
	}
	copy(p.Value, state.Values)
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
