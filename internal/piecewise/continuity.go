package piecewise

import (
	"errors"
	"fmt"
)

var ErrMode = errors.New("unknown continuity mode")

// Mode selects whether boundary basis functions share a weight.
type Mode int

const (
	Discontinuous Mode = iota
	Continuous
)

func (m Mode) String() string {
	switch m {
	case Discontinuous:
		return "discontinuous"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(name string) (Mode, error) {
	switch name {
	case "discontinuous":
		return Discontinuous, nil
	case "continuous":
		return Continuous, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrMode, name)
	}
}

// Slot is one (segment, local basis index) owner of a global weight.
type Slot struct {
	Segment int
	Local   int
}

// Policy maps (segment, local basis index) to a global weight index.
//
// Continuous: the last node of segment i and the first node of segment i+1
// alias the same weight, giving (n-1)*segments+1 slots. Discontinuous: every
// segment owns n slots, giving n*segments.
type Policy struct {
	n        int
	segments int
	mode     Mode
}

func NewPolicy(n, segments int, mode Mode) (Policy, error) {
	if n < 1 {
		return Policy{}, fmt.Errorf("basis order must be at least 1, got %d", n)
	}
	if segments < 1 {
		return Policy{}, fmt.Errorf("%w: got %d", ErrSegments, segments)
	}
	if mode != Continuous && mode != Discontinuous {
		return Policy{}, fmt.Errorf("%w: %d", ErrMode, int(mode))
	}
	return Policy{n: n, segments: segments, mode: mode}, nil
}

func (p Policy) Mode() Mode {
	return p.mode
}

func (p Policy) Order() int {
	return p.n
}

func (p Policy) Segments() int {
	return p.segments
}

// Size is the number of independent weights per (input, output) pair.
func (p Policy) Size() int {
	if p.mode == Continuous {
		return (p.n-1)*p.segments + 1
	}
	return p.n * p.segments
}

func (p Policy) stride() int {
	if p.mode == Continuous {
		return p.n - 1
	}
	return p.n
}

// Index returns the global weight index of local basis function local in segment.
func (p Policy) Index(segment, local int) int {
	return segment*p.stride() + local
}

// Indices writes the n global indices used by segment.
func (p Policy) Indices(segment int, out []int) []int {
	if cap(out) < p.n {
		out = make([]int, p.n)
	}
	out = out[:p.n]
	base := segment * p.stride()
	for k := range out {
		out[k] = base + k
	}
	return out
}

// Owners lists every (segment, local) pair that reads global weight index.
func (p Policy) Owners(index int) []Slot {
	var slots []Slot
	for seg := 0; seg < p.segments; seg++ {
		local := index - seg*p.stride()
		if local >= 0 && local < p.n {
			slots = append(slots, Slot{Segment: seg, Local: local})
		}
	}
	return slots
}
