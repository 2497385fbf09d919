package nn

// DefaultScale is the width of the input domain when a spec leaves it unset.
const DefaultScale = 2.0

// Domain returns the input interval [-scale/2, scale/2].
func Domain(scale float64) (float64, float64) {
	if scale == 0 {
		scale = DefaultScale
	}
	return -scale / 2, scale / 2
}

// ToDomain maps value linearly from [min, max] onto Domain(scale). A
// degenerate range maps everything to the domain centre.
func ToDomain(value, min, max, scale float64) float64 {
	lo, hi := Domain(scale)
	if max == min {
		return (lo + hi) / 2
	}
	return lo + (value-min)*(hi-lo)/(max-min)
}

// ToDomainSlice applies ToDomain to every value.
func ToDomainSlice(values []float64, min, max, scale float64) []float64 {
	out := make([]float64, len(values))
	for i, value := range values {
		out[i] = ToDomain(value, min, max, scale)
	}
	return out
}
