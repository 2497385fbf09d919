package nn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"highorder/internal/compose"
	"highorder/internal/piecewise"
)

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1
)

var (
	ErrKindExists   = errors.New("layer kind already registered")
	ErrKindNotFound = errors.New("layer kind not found")
	ErrKindVersion  = errors.New("layer kind version mismatch")
)

type BasisFamily int

const (
	LagrangeFamily BasisFamily = iota
	FourierFamily
)

func (f BasisFamily) String() string {
	if f == FourierFamily {
		return "fourier"
	}
	return "lagrange"
}

// KindSpec is the closed description a layer-type tag resolves to. Layers
// are assembled from it once at construction; forward passes never branch on
// the tag again.
type KindSpec struct {
	Name        string
	Family      BasisFamily
	Piecewise   bool
	Continuity  piecewise.Mode
	Composition compose.Mode
	// FixedOrder overrides the requested order when non-zero.
	FixedOrder    int
	SchemaVersion int
	CodecVersion  int
}

var kindRegistry = struct {
	mu sync.RWMutex
	m  map[string]KindSpec
}{
	m: make(map[string]KindSpec),
}

func init() {
	initializeBuiltInKinds()
}

func initializeBuiltInKinds() {
	MustRegisterKind("polynomial", KindSpec{Family: LagrangeFamily, Composition: compose.Sum})
	MustRegisterKind("polynomial_product", KindSpec{Family: LagrangeFamily, Composition: compose.Product})
	MustRegisterKind("continuous", KindSpec{Family: LagrangeFamily, Piecewise: true, Continuity: piecewise.Continuous, Composition: compose.Sum})
	MustRegisterKind("continuous_product", KindSpec{Family: LagrangeFamily, Piecewise: true, Continuity: piecewise.Continuous, Composition: compose.Product})
	MustRegisterKind("discontinuous", KindSpec{Family: LagrangeFamily, Piecewise: true, Continuity: piecewise.Discontinuous, Composition: compose.Sum})
	MustRegisterKind("discontinuous_product", KindSpec{Family: LagrangeFamily, Piecewise: true, Continuity: piecewise.Discontinuous, Composition: compose.Product})
	MustRegisterKind("product", KindSpec{Family: LagrangeFamily, Composition: compose.Product, FixedOrder: 2})
	MustRegisterKind("fourier", KindSpec{Family: FourierFamily, Composition: compose.Sum})

	mustRegisterAlias("continuous_prod", "continuous_product")
	mustRegisterAlias("discontinuous_prod", "discontinuous_product")
	mustRegisterAlias("polynomial_prod", "polynomial_product")
}

// RegisterKind registers spec under name with the current schema and codec versions.
func RegisterKind(name string, spec KindSpec) error {
	spec.Name = name
	spec.SchemaVersion = SupportedSchemaVersion
	spec.CodecVersion = SupportedCodecVersion
	return RegisterKindWithSpec(name, spec)
}

func MustRegisterKind(name string, spec KindSpec) {
	if err := RegisterKind(name, spec); err != nil {
		panic(err)
	}
}

// RegisterKindWithSpec registers spec under name. spec.Name is the canonical
// tag and may differ from name for aliases.
func RegisterKindWithSpec(name string, spec KindSpec) error {
	if name == "" || spec.Name == "" {
		return errors.New("layer kind name is required")
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrKindVersion, spec.SchemaVersion, spec.CodecVersion)
	}
	if spec.FixedOrder < 0 {
		return fmt.Errorf("layer kind %s: fixed order must not be negative", name)
	}

	kindRegistry.mu.Lock()
	defer kindRegistry.mu.Unlock()

	if _, exists := kindRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrKindExists, name)
	}
	kindRegistry.m[name] = spec
	return nil
}

func mustRegisterAlias(alias, canonical string) {
	spec, err := GetKind(canonical)
	if err != nil {
		panic(err)
	}
	if err := RegisterKindWithSpec(alias, spec); err != nil {
		panic(err)
	}
}

func GetKind(name string) (KindSpec, error) {
	kindRegistry.mu.RLock()
	spec, ok := kindRegistry.m[name]
	kindRegistry.mu.RUnlock()
	if !ok {
		return KindSpec{}, fmt.Errorf("%w: %s", ErrKindNotFound, name)
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return KindSpec{}, fmt.Errorf("%w: %s", ErrKindVersion, name)
	}
	return spec, nil
}

// ListKinds returns every registered tag, aliases included, sorted.
func ListKinds() []string {
	kindRegistry.mu.RLock()
	defer kindRegistry.mu.RUnlock()

	names := make([]string, 0, len(kindRegistry.m))
	for name := range kindRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetKindRegistryForTests() {
	kindRegistry.mu.Lock()
	kindRegistry.m = make(map[string]KindSpec)
	kindRegistry.mu.Unlock()
	initializeBuiltInKinds()
}
