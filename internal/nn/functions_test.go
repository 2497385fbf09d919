package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomain(t *testing.T) {
	lo, hi := Domain(0)
	if lo != -1 || hi != 1 {
		t.Fatalf("default domain: got=[%f, %f] want=[-1, 1]", lo, hi)
	}
	lo, hi = Domain(5)
	if lo != -2.5 || hi != 2.5 {
		t.Fatalf("scaled domain: got=[%f, %f] want=[-2.5, 2.5]", lo, hi)
	}
}

func TestToDomain(t *testing.T) {
	if got := ToDomain(5, 0, 10, 0); got != 0 {
		t.Fatalf("midpoint: got=%f want=0", got)
	}
	if got := ToDomain(10, 0, 10, 4); got != 2 {
		t.Fatalf("upper end on a wide domain: got=%f want=2", got)
	}
	if got := ToDomain(3, 3, 3, 0); got != 0 {
		t.Fatalf("degenerate range should map to the centre: got=%f", got)
	}
	require.Equal(t, []float64{-1, -0.5, 1, 3}, ToDomainSlice([]float64{0, 2.5, 10, 20}, 0, 10, 0))
}
