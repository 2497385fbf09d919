// Package piecewise splits a global input domain into contiguous segments and
// maps per-segment basis functions onto shared or independent weight slots.
package piecewise

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrSegments = errors.New("segment count must be at least 1")
	ErrDomain   = errors.New("invalid routing domain")
)

// RouterConfig describes the global domain [Lo, Hi] split into Segments.
//
// Unbounded routing is the identity affine map onto [-1, 1] with no clamping;
// it is only valid for a single segment. Period > 0 wraps inputs into the
// domain before routing.
type RouterConfig struct {
	Lo        float64
	Hi        float64
	Segments  int
	Unbounded bool
	Period    float64
}

// Route is the routing result for one scalar input.
type Route struct {
	Segment int
	// Local is the coordinate inside the segment on [-1, 1].
	Local float64
	// Slope is dLocal/dx. It is zero when the input was clamped.
	Slope   float64
	Clamped bool
}

// Router maps raw inputs to (segment, local coordinate).
//
// Tie-break: an input exactly on an interior boundary belongs to the segment
// on its right; the global maximum belongs to the last segment. Inputs outside
// [Lo, Hi] are clamped to the nearest end rather than rejected. The segment
// is floor((x-Lo)*Segments/(Hi-Lo)) computed the same way for forward and
// backward passes, so boundary behaviour is reproducible.
type Router struct {
	lo, hi    float64
	segments  int
	span      float64
	unbounded bool
	period    float64
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Segments < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrSegments, cfg.Segments)
	}
	if !(cfg.Hi > cfg.Lo) || math.IsInf(cfg.Lo, 0) || math.IsInf(cfg.Hi, 0) {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrDomain, cfg.Lo, cfg.Hi)
	}
	if cfg.Unbounded && cfg.Segments != 1 {
		return nil, fmt.Errorf("%w: unbounded routing needs exactly one segment, got %d", ErrDomain, cfg.Segments)
	}
	if cfg.Period < 0 || math.IsNaN(cfg.Period) {
		return nil, fmt.Errorf("%w: period %v", ErrDomain, cfg.Period)
	}
	return &Router{
		lo:        cfg.Lo,
		hi:        cfg.Hi,
		segments:  cfg.Segments,
		span:      cfg.Hi - cfg.Lo,
		unbounded: cfg.Unbounded,
		period:    cfg.Period,
	}, nil
}

func (r *Router) Segments() int {
	return r.segments
}

func (r *Router) Domain() (float64, float64) {
	return r.lo, r.hi
}

// Route maps x to its segment and local coordinate.
func (r *Router) Route(x float64) Route {
	if r.period > 0 {
		x = r.wrap(x)
	}
	return r.locate(x)
}

func (r *Router) locate(x float64) Route {
	if r.unbounded {
		return Route{Segment: 0, Local: 2*(x-r.lo)/r.span - 1, Slope: 2 / r.span}
	}

	clamped := false
	switch {
	case x < r.lo:
		x, clamped = r.lo, true
	case x > r.hi:
		x, clamped = r.hi, true
	}

	t := (x - r.lo) * float64(r.segments) / r.span
	seg := int(math.Floor(t))
	if seg >= r.segments {
		seg = r.segments - 1
	}
	if seg < 0 {
		seg = 0
	}
	route := Route{
		Segment: seg,
		Local:   2*(t-float64(seg)) - 1,
		Slope:   2 * float64(r.segments) / r.span,
		Clamped: clamped,
	}
	if clamped {
		route.Slope = 0
	}
	return route
}

// RouteFrom routes x like Route but reads a point lying on a segment edge as
// the limit from the side of toward. Local may then fall marginally outside
// [-1, 1] when x carries rounding error.
//
// Points inside [Lo, Hi] are never wrapped, so with a period equal to the
// domain width Hi reads as the left limit at Hi rather than as Lo.
func (r *Router) RouteFrom(x, toward float64) Route {
	const edge = 1e-9
	var route Route
	if tol := edge * r.span; x >= r.lo-tol && x <= r.hi+tol {
		route = r.locate(x)
	} else {
		route = r.Route(x)
	}
	if r.unbounded || route.Clamped || r.segments == 1 {
		return route
	}
	switch {
	case toward > x && route.Local > 1-edge && route.Segment < r.segments-1:
		route.Segment++
		route.Local -= 2
	case toward < x && route.Local < -1+edge && route.Segment > 0:
		route.Segment--
		route.Local += 2
	}
	return route
}

func (r *Router) wrap(x float64) float64 {
	m := math.Mod(x-r.lo, r.period)
	if m < 0 {
		m += r.period
	}
	return r.lo + m
}

// Bounds returns the global interval covered by a segment.
func (r *Router) Bounds(segment int) (float64, float64) {
	width := r.span / float64(r.segments)
	return r.lo + float64(segment)*width, r.lo + float64(segment+1)*width
}

// ToGlobal inverts Route for an in-domain point.
func (r *Router) ToGlobal(segment int, local float64) float64 {
	lo, hi := r.Bounds(segment)
	return lo + (local+1)*(hi-lo)/2
}

// Center returns the global midpoint of a segment.
func (r *Router) Center(segment int) float64 {
	return r.ToGlobal(segment, 0)
}
