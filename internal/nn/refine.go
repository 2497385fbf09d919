package nn

import (
	"fmt"

	"highorder/internal/compose"
	"highorder/internal/model"
)

// Refine overwrites dst so that it reproduces src, typically with dst of a
// higher order. Lagrange layers sample src at the destination nodes; Fourier
// layers copy shared harmonics and zero the rest. Both layers must have the
// same shape, domain, basis family and composition; dst may split each source
// segment evenly unless the layer is a product. Stages carry no parameters
// and only have to match.
func Refine(src, dst Layer) error {
	switch s := src.(type) {
	case *BasisLayer:
		d, ok := dst.(*BasisLayer)
		if !ok {
			return fmt.Errorf("%w: cannot refine %T into %T", ErrConfiguration, src, dst)
		}
		if err := compatible(s.spec, d.spec, s.kind, d.kind); err != nil {
			return err
		}
		if err := sameGeometry(s.Spec().InFeatures, d.Spec().InFeatures, s.Spec().OutFeatures, d.Spec().OutFeatures); err != nil {
			return err
		}
		if err := sameDomain(s.exp, d.exp); err != nil {
			return err
		}
		units := s.spec.InFeatures * s.spec.OutFeatures
		srcSize, dstSize := s.exp.Size(), d.exp.Size()
		return refineUnits(s.exp, d.exp, units,
			func(u, slot int) int { return u*srcSize + slot },
			func(u, slot int) int { return u*dstSize + slot },
			s.weights.Value, d.weights.Value)

	case *Conv2d:
		d, ok := dst.(*Conv2d)
		if !ok {
			return fmt.Errorf("%w: cannot refine %T into %T", ErrConfiguration, src, dst)
		}
		if err := compatible(s.spec, d.spec, s.kind, d.kind); err != nil {
			return err
		}
		if err := sameGeometry(s.spec.InFeatures, d.spec.InFeatures, s.spec.OutFeatures, d.spec.OutFeatures); err != nil {
			return err
		}
		if s.opts != d.opts {
			return fmt.Errorf("%w: conv options differ: %+v vs %+v", ErrConfiguration, s.opts, d.opts)
		}
		if err := sameDomain(s.exp, d.exp); err != nil {
			return err
		}
		in := s.spec.InFeatures
		taps := s.opts.KernelSize * s.opts.KernelSize
		at := func(size int) func(u, slot int) int {
			return func(u, slot int) int {
				o, c, tap := u/(in*taps), (u/taps)%in, u%taps
				return o*in*size*taps + (c*size+slot)*taps + tap
			}
		}
		units := s.spec.OutFeatures * in * taps
		return refineUnits(s.exp, d.exp, units, at(s.exp.Size()), at(d.exp.Size()), s.weights.Value, d.weights.Value)

	case *ConvTranspose2d:
		d, ok := dst.(*ConvTranspose2d)
		if !ok {
			return fmt.Errorf("%w: cannot refine %T into %T", ErrConfiguration, src, dst)
		}
		if err := compatible(s.spec, d.spec, s.kind, d.kind); err != nil {
			return err
		}
		if err := sameGeometry(s.spec.InFeatures, d.spec.InFeatures, s.spec.OutFeatures, d.spec.OutFeatures); err != nil {
			return err
		}
		if s.opts != d.opts {
			return fmt.Errorf("%w: conv options differ: %+v vs %+v", ErrConfiguration, s.opts, d.opts)
		}
		if err := sameDomain(s.exp, d.exp); err != nil {
			return err
		}
		in, out := s.spec.InFeatures, s.spec.OutFeatures
		taps := s.opts.KernelSize * s.opts.KernelSize
		at := func(size int) func(u, slot int) int {
			return func(u, slot int) int {
				o, c, tap := u/(in*taps), (u/taps)%in, u%taps
				return (c*size+slot)*out*taps + o*taps + tap
			}
		}
		units := out * in * taps
		return refineUnits(s.exp, d.exp, units, at(s.exp.Size()), at(d.exp.Size()), s.weights.Value, d.weights.Value)

	case *Stage:
		d, ok := dst.(*Stage)
		if !ok || *s != *d {
			return fmt.Errorf("%w: cannot refine stage %s into %T", ErrConfiguration, s.name, dst)
		}
		return nil

	default:
		return fmt.Errorf("%w: cannot refine %T", ErrConfiguration, src)
	}
}

// RefineNetwork refines every layer of src into the matching layer of dst.
func RefineNetwork(src, dst *Network) error {
	if len(src.layers) != len(dst.layers) {
		return fmt.Errorf("%w: networks have %d and %d layers", ErrConfiguration, len(src.layers), len(dst.layers))
	}
	for i := range src.layers {
		if err := Refine(src.layers[i], dst.layers[i]); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// compatible rejects pairs whose source function dst cannot represent. Every
// source segment edge must stay a destination edge, and product layers keep
// their segment centres because the linear part is taken there.
func compatible(srcSpec, dstSpec model.LayerSpec, src, dst KindSpec) error {
	if src.Family != dst.Family || src.Composition != dst.Composition {
		return fmt.Errorf("%w: cannot refine %s into %s", ErrConfiguration, srcSpec.Kind, dstSpec.Kind)
	}
	if dstSpec.Segments%srcSpec.Segments != 0 {
		return fmt.Errorf("%w: %d segments do not nest in %d", ErrConfiguration, srcSpec.Segments, dstSpec.Segments)
	}
	if src.Composition == compose.Product && dstSpec.Segments != srcSpec.Segments {
		return fmt.Errorf("%w: %s cannot change segments from %d to %d", ErrConfiguration, srcSpec.Kind, srcSpec.Segments, dstSpec.Segments)
	}
	return nil
}

func sameGeometry(srcIn, dstIn, srcOut, dstOut int) error {
	if srcIn != dstIn || srcOut != dstOut {
		return fmt.Errorf("%w: refine shape %dx%d into %dx%d", ErrConfiguration, srcIn, srcOut, dstIn, dstOut)
	}
	return nil
}

func sameDomain(src, dst *Expander) error {
	sl, sh := src.router.Domain()
	dl, dh := dst.router.Domain()
	if sl != dl || sh != dh {
		return fmt.Errorf("%w: refine domain [%g, %g] into [%g, %g]", ErrConfiguration, sl, sh, dl, dh)
	}
	return nil
}

func refineUnits(src, dst *Expander, units int, srcAt, dstAt func(u, slot int) int, srcW, dstW []float64) error {
	if src.family == FourierFamily {
		shared := src.Dim()
		if dst.Dim() < shared {
			shared = dst.Dim()
		}
		for u := 0; u < units; u++ {
			for slot := 0; slot < dst.Dim(); slot++ {
				v := 0.0
				if slot < shared {
					v = srcW[srcAt(u, slot)]
				}
				dstW[dstAt(u, slot)] = v
			}
		}
		return nil
	}

	// Each destination slot is the value of the source sub-function at the
	// slot's node, read from inside the owning destination segment.
	samples := make([]Expansion, dst.Size())
	for g := range samples {
		owners := dst.policy.Owners(g)
		if len(owners) == 0 {
			return fmt.Errorf("%w: slot %d has no owner", ErrState, g)
		}
		owner := owners[0]
		x := dst.router.ToGlobal(owner.Segment, dst.nodes[owner.Local])
		samples[g] = src.NewExpansion()
		src.ExpandRoute(src.router.RouteFrom(x, dst.router.Center(owner.Segment)), &samples[g], false)
	}
	for u := 0; u < units; u++ {
		for g := range samples {
			v := 0.0
			for k, idx := range samples[g].Index {
				v += srcW[srcAt(u, idx)] * samples[g].Acts[k]
			}
			dstW[dstAt(u, g)] = v
		}
	}
	return nil
}
