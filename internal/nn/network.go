package nn

import (
	"fmt"

	"highorder/internal/model"
	"highorder/internal/tensor"
)

// Network chains layers; the output of each feeds the next.
type Network struct {
	layers []Layer
}

func NewNetwork(layers ...Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: network needs at least one layer", ErrConfiguration)
	}
	return &Network{layers: append([]Layer(nil), layers...)}, nil
}

func (n *Network) Layers() []Layer {
	return append([]Layer(nil), n.layers...)
}

func (n *Network) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	for i, layer := range n.layers {
		y, err := layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		x = y
	}
	return x, nil
}

// Backward recomputes the intermediate activations and propagates gradOut
// back through every layer, accumulating parameter gradients.
func (n *Network) Backward(x, gradOut *tensor.Dense) (*tensor.Dense, error) {
	inputs := make([]*tensor.Dense, len(n.layers))
	for i, layer := range n.layers {
		inputs[i] = x
		y, err := layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		x = y
	}
	g := gradOut
	for i := len(n.layers) - 1; i >= 0; i-- {
		var err error
		g, err = n.layers[i].Backward(inputs[i], g)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return g, nil
}

func (n *Network) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range n.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (n *Network) ZeroGrad() {
	for _, p := range n.Parameters() {
		p.ZeroGrad()
	}
}

func (n *Network) Step(lr float64) {
	for _, p := range n.Parameters() {
		p.Step(lr)
	}
}

// NewMLP stacks an input layer, HiddenLayers hidden layers and an output
// layer of fully connected basis layers. Optional normalization and
// non-linearity stages sit between them.
func NewMLP(spec model.MLPSpec) (*Network, error) {
	if spec.InWidth < 1 || spec.OutWidth < 1 || spec.HiddenWidth < 1 {
		return nil, fmt.Errorf("%w: widths must be at least 1, got in=%d hidden=%d out=%d",
			ErrConfiguration, spec.InWidth, spec.HiddenWidth, spec.OutWidth)
	}
	if spec.HiddenLayers < 0 {
		return nil, fmt.Errorf("%w: hidden layers must not be negative, got %d", ErrConfiguration, spec.HiddenLayers)
	}

	stage := func(n, segments, in, out int, seed int64) model.LayerSpec {
		return model.LayerSpec{
			Kind:          spec.Kind,
			N:             orDefault(n, spec.N),
			InFeatures:    in,
			OutFeatures:   out,
			Segments:      orDefault(segments, spec.Segments),
			Alpha:         spec.Alpha,
			Scale:         spec.Scale,
			Periodicity:   spec.Periodicity,
			RescaleOutput: spec.RescaleOutput,
			Seed:          seed,
		}
	}

	var layers []Layer
	add := func(s model.LayerSpec) error {
		layer, err := NewLayer(s)
		if err != nil {
			return fmt.Errorf("mlp layer %d: %w", len(layers), err)
		}
		layers = append(layers, layer)
		return nil
	}
	addStage := func(name string) error {
		if name == "" {
			return nil
		}
		st, err := NewStage(name, spec.HiddenWidth)
		if err != nil {
			return fmt.Errorf("mlp layer %d: %w", len(layers), err)
		}
		layers = append(layers, st)
		return nil
	}

	if err := add(stage(spec.NIn, spec.InSegments, spec.InWidth, spec.HiddenWidth, spec.Seed)); err != nil {
		return nil, err
	}
	for i := 0; i < spec.HiddenLayers; i++ {
		if err := addStage(spec.Normalization); err != nil {
			return nil, err
		}
		if err := addStage(spec.NonLinearity); err != nil {
			return nil, err
		}
		if err := add(stage(spec.NHidden, spec.HiddenSegments, spec.HiddenWidth, spec.HiddenWidth, spec.Seed+int64(i)+1)); err != nil {
			return nil, err
		}
	}
	if err := addStage(spec.NonLinearity); err != nil {
		return nil, err
	}
	if err := add(stage(spec.NOut, spec.OutSegments, spec.HiddenWidth, spec.OutWidth, spec.Seed+int64(spec.HiddenLayers)+1)); err != nil {
		return nil, err
	}
	return NewNetwork(layers...)
}

// NewConvNetwork stacks convolutional basis layers from parallel per-layer
// lists. Channels carries one more entry than the other lists.
func NewConvNetwork(spec model.ConvNetworkSpec) (*Network, error) {
	return convStack(spec, false)
}

// NewDeconvNetwork is NewConvNetwork with transposed convolutions, so each
// layer grows the spatial size by kernel-1.
func NewDeconvNetwork(spec model.ConvNetworkSpec) (*Network, error) {
	return convStack(spec, true)
}

func convStack(spec model.ConvNetworkSpec, transpose bool) (*Network, error) {
	if len(spec.Channels) < 2 {
		return nil, fmt.Errorf("%w: channels needs at least input and output counts, got %d entries", ErrConfiguration, len(spec.Channels))
	}
	count := len(spec.Channels) - 1
	for _, list := range []struct {
		name   string
		length int
	}{
		{"kinds", len(spec.Kinds)},
		{"n", len(spec.N)},
		{"segments", len(spec.Segments)},
		{"kernel_sizes", len(spec.KernelSizes)},
	} {
		if list.length != count {
			return nil, fmt.Errorf("%w: %s has %d entries, want one less than channels (%d)", ErrConfiguration, list.name, list.length, count)
		}
	}

	layers := make([]Layer, 0, 2*count)
	for i := 0; i < count; i++ {
		if spec.Normalization != "" {
			st, err := NewStage(spec.Normalization, spec.Channels[i])
			if err != nil {
				return nil, fmt.Errorf("conv layer %d: %w", i, err)
			}
			layers = append(layers, st)
		}
		layer, err := NewConvLayer(model.LayerSpec{
			Kind:          spec.Kinds[i],
			N:             spec.N[i],
			InFeatures:    spec.Channels[i],
			OutFeatures:   spec.Channels[i+1],
			Segments:      spec.Segments[i],
			Scale:         spec.Scale,
			Periodicity:   spec.Periodicity,
			RescaleOutput: spec.RescaleOutput,
			Seed:          spec.Seed + int64(i),
		}, model.ConvOptions{KernelSize: spec.KernelSizes[i], Transpose: transpose})
		if err != nil {
			return nil, fmt.Errorf("conv layer %d: %w", i, err)
		}
		layers = append(layers, layer)
	}
	return NewNetwork(layers...)
}

func orDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}
