package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"highorder/internal/compose"
	"highorder/internal/piecewise"
)

func TestBuiltInKinds(t *testing.T) {
	resetKindRegistryForTests()
	t.Cleanup(resetKindRegistryForTests)

	for _, name := range []string{
		"polynomial", "polynomial_product", "continuous", "continuous_product",
		"discontinuous", "discontinuous_product", "product", "fourier",
	} {
		spec, err := GetKind(name)
		if err != nil {
			t.Fatalf("get kind %s: %v", name, err)
		}
		require.Equal(t, name, spec.Name)
	}

	disc, err := GetKind("discontinuous_prod")
	require.NoError(t, err)
	require.Equal(t, "discontinuous_product", disc.Name)
	require.Equal(t, piecewise.Discontinuous, disc.Continuity)
	require.Equal(t, compose.Product, disc.Composition)

	prod, err := GetKind("product")
	require.NoError(t, err)
	require.Equal(t, 2, prod.FixedOrder)
	require.False(t, prod.Piecewise)

	require.Contains(t, ListKinds(), "continuous_prod")
}

func TestRegisterKind(t *testing.T) {
	resetKindRegistryForTests()
	t.Cleanup(resetKindRegistryForTests)

	if err := RegisterKind("chebyshev_wide", KindSpec{Family: LagrangeFamily, Piecewise: true, Continuity: piecewise.Continuous}); err != nil {
		t.Fatalf("register kind: %v", err)
	}
	spec, err := GetKind("chebyshev_wide")
	require.NoError(t, err)
	require.Equal(t, SupportedSchemaVersion, spec.SchemaVersion)

	if err := RegisterKind("chebyshev_wide", KindSpec{}); !errors.Is(err, ErrKindExists) {
		t.Fatalf("expected ErrKindExists, got: %v", err)
	}
}

func TestRegisterKindValidation(t *testing.T) {
	resetKindRegistryForTests()
	t.Cleanup(resetKindRegistryForTests)

	if err := RegisterKind("", KindSpec{}); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := RegisterKind("negative", KindSpec{FixedOrder: -1}); err == nil {
		t.Fatal("expected fixed order error")
	}
	err := RegisterKindWithSpec("bad-version", KindSpec{Name: "bad-version", SchemaVersion: 99, CodecVersion: 1})
	if !errors.Is(err, ErrKindVersion) {
		t.Fatalf("expected ErrKindVersion, got: %v", err)
	}
}

func TestGetKindNotFound(t *testing.T) {
	resetKindRegistryForTests()
	t.Cleanup(resetKindRegistryForTests)

	if _, err := GetKind("missing"); !errors.Is(err, ErrKindNotFound) {
		t.Fatalf("expected ErrKindNotFound, got: %v", err)
	}
}
