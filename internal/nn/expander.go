package nn

import (
	"fmt"

	"highorder/internal/basis"
	"highorder/internal/piecewise"
)

// Expander turns one scalar input into a sparse vector of basis activations
// over the global weight slots of a (feature, output) pair: route, evaluate
// the local basis, then gather through the continuity policy.
type Expander struct {
	family BasisFamily
	router *piecewise.Router
	basis  basis.Basis[float64]
	batch  batchBasis
	policy piecewise.Policy
	nodes  []float64
	// linear holds each local basis derivative at the segment centre, the
	// coefficients of the degree-1 Taylor term in local coordinates.
	linear []float64
}

// Expansion is the expander output for one scalar. Acts, Grads and Index
// all have the basis dimension; Grads is dActs/dx.
type Expansion struct {
	Route piecewise.Route
	Acts  []float64
	Grads []float64
	Index []int
}

// batchBasis is the batched evaluation both basis families provide.
type batchBasis interface {
	EvaluateBatch(xs, out []float64) []float64
	DerivativeBatch(xs, out []float64) []float64
}

// expandBuffer is reusable scratch space for ExpandBatch.
type expandBuffer struct {
	locals []float64
	acts   []float64
	grads  []float64
}

func newExpander(kind KindSpec, n, segments int, scale, period float64) (*Expander, error) {
	lo, hi := Domain(scale)
	cfg := piecewise.RouterConfig{Lo: lo, Hi: hi, Segments: segments, Period: period}
	if !kind.Piecewise {
		cfg.Segments = 1
		cfg.Unbounded = true
	}
	router, err := piecewise.NewRouter(cfg)
	if err != nil {
		return nil, err
	}

	e := &Expander{family: kind.Family, router: router}
	switch kind.Family {
	case FourierFamily:
		f, err := basis.NewFourier[float64](n, 1)
		if err != nil {
			return nil, err
		}
		e.basis, e.batch = f, f
		e.policy, err = piecewise.NewPolicy(f.Dim(), 1, piecewise.Discontinuous)
		if err != nil {
			return nil, err
		}
	case LagrangeFamily:
		l, err := basis.NewLagrange[float64](n)
		if err != nil {
			return nil, err
		}
		e.basis, e.batch = l, l
		e.nodes = l.Nodes()
		e.policy, err = piecewise.NewPolicy(n, cfg.Segments, kind.Continuity)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported basis family %d", int(kind.Family))
	}
	e.linear = e.basis.Derivative(0, nil)
	return e, nil
}

func (e *Expander) Family() BasisFamily {
	return e.family
}

func (e *Expander) Router() *piecewise.Router {
	return e.router
}

func (e *Expander) Policy() piecewise.Policy {
	return e.policy
}

// Dim is the number of basis functions active for any one input.
func (e *Expander) Dim() int {
	return e.basis.Dim()
}

// Size is the number of weight slots per (feature, output) pair.
func (e *Expander) Size() int {
	return e.policy.Size()
}

// Nodes returns the local interpolation nodes, or nil for Fourier.
func (e *Expander) Nodes() []float64 {
	return append([]float64(nil), e.nodes...)
}

func (e *Expander) NewExpansion() Expansion {
	dim := e.Dim()
	return Expansion{
		Acts:  make([]float64, dim),
		Grads: make([]float64, dim),
		Index: make([]int, dim),
	}
}

// Expand fills ex for input x. Grads is only written when withGrad is set.
func (e *Expander) Expand(x float64, ex *Expansion, withGrad bool) {
	e.ExpandRoute(e.router.Route(x), ex, withGrad)
}

// ExpandRoute fills ex for an already routed input.
func (e *Expander) ExpandRoute(route piecewise.Route, ex *Expansion, withGrad bool) {
	ex.Route = route
	e.basis.Evaluate(route.Local, ex.Acts)
	e.policy.Indices(route.Segment, ex.Index)
	if !withGrad {
		return
	}
	e.basis.Derivative(route.Local, ex.Grads)
	for k := range ex.Grads {
		ex.Grads[k] *= route.Slope
	}
}

// ExpandBatch fills exps[i] for xs[i] with one batched basis evaluation over
// all routed local coordinates. buf may be nil.
func (e *Expander) ExpandBatch(xs []float64, exps []Expansion, withGrad bool, buf *expandBuffer) {
	if buf == nil {
		buf = &expandBuffer{}
	}
	buf.locals = buf.locals[:0]
	for i, x := range xs {
		ex := &exps[i]
		ex.Route = e.router.Route(x)
		e.policy.Indices(ex.Route.Segment, ex.Index)
		buf.locals = append(buf.locals, ex.Route.Local)
	}

	dim := e.Dim()
	buf.acts = e.batch.EvaluateBatch(buf.locals, buf.acts)
	for i := range xs {
		copy(exps[i].Acts, buf.acts[i*dim:(i+1)*dim])
	}
	if !withGrad {
		return
	}
	buf.grads = e.batch.DerivativeBatch(buf.locals, buf.grads)
	for i := range xs {
		grads := exps[i].Grads
		copy(grads, buf.grads[i*dim:(i+1)*dim])
		for k := range grads {
			grads[k] *= exps[i].Route.Slope
		}
	}
}

// Linear returns the coefficient of weight k in the linear part of a unit
// evaluated at ex, and its derivative with respect to x.
func (e *Expander) Linear(ex *Expansion, k int) (float64, float64) {
	return e.linear[k] * ex.Route.Local, e.linear[k] * ex.Route.Slope
}
