package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"highorder/internal/model"
	"highorder/pkg/highorder"
)

// fileConfig is the JSON layout accepted by -config. Layer fields sit at the
// top level; conv, mlp, conv_network and deconv_network select the other
// builders.
type fileConfig struct {
	model.LayerSpec
	Conv          *model.ConvOptions     `json:"conv,omitempty"`
	MLP           *model.MLPSpec         `json:"mlp,omitempty"`
	ConvNetwork   *model.ConvNetworkSpec `json:"conv_network,omitempty"`
	DeconvNetwork *model.ConvNetworkSpec `json:"deconv_network,omitempty"`
}

type layerFlags struct {
	kind        *string
	n           *int
	in          *int
	out         *int
	segments    *int
	alpha       *float64
	scale       *float64
	periodicity *float64
	rescale     *bool
	seed        *int64
}

func addLayerFlags(fs *flag.FlagSet) layerFlags {
	return layerFlags{
		kind:        fs.String("kind", "continuous", "layer kind (see the kinds command)"),
		n:           fs.Int("n", 3, "basis order"),
		in:          fs.Int("in", 1, "input features"),
		out:         fs.Int("out", 1, "output features"),
		segments:    fs.Int("segments", 2, "segment count for piecewise kinds"),
		alpha:       fs.Float64("alpha", 1, "linear-part retention for product kinds, in [0,1]"),
		scale:       fs.Float64("scale", 0, "domain length (0 uses 2, i.e. [-1,1])"),
		periodicity: fs.Float64("periodicity", 0, "input period (0 disables)"),
		rescale:     fs.Bool("rescale", false, "average instead of sum over input features"),
		seed:        fs.Int64("seed", 1, "weight init seed"),
	}
}

func (f layerFlags) spec() model.LayerSpec {
	return model.LayerSpec{
		Kind:          *f.kind,
		N:             *f.n,
		InFeatures:    *f.in,
		OutFeatures:   *f.out,
		Segments:      *f.segments,
		Alpha:         *f.alpha,
		Scale:         *f.scale,
		Periodicity:   *f.periodicity,
		RescaleOutput: *f.rescale,
		Seed:          *f.seed,
	}
}

func loadConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg fileConfig
	if err := dec.Decode(&cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// overrideFromFlags copies every explicitly set layer flag onto spec.
func overrideFromFlags(spec *model.LayerSpec, fs *flag.FlagSet, f layerFlags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "kind":
			spec.Kind = *f.kind
		case "n":
			spec.N = *f.n
		case "in":
			spec.InFeatures = *f.in
		case "out":
			spec.OutFeatures = *f.out
		case "segments":
			spec.Segments = *f.segments
		case "alpha":
			spec.Alpha = *f.alpha
		case "scale":
			spec.Scale = *f.scale
		case "periodicity":
			spec.Periodicity = *f.periodicity
		case "rescale":
			spec.RescaleOutput = *f.rescale
		case "seed":
			spec.Seed = *f.seed
		}
	})
}

func resolveLayerSpec(fs *flag.FlagSet, configPath string, f layerFlags) (model.LayerSpec, error) {
	if configPath == "" {
		return f.spec(), nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return model.LayerSpec{}, err
	}
	spec := cfg.LayerSpec
	overrideFromFlags(&spec, fs, f)
	return spec, nil
}

func resolveBuildRequest(fs *flag.FlagSet, configPath string, f layerFlags) (highorder.BuildRequest, error) {
	if configPath == "" {
		spec := f.spec()
		return highorder.BuildRequest{Layer: &spec}, nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return highorder.BuildRequest{}, err
	}
	stacks := 0
	for _, set := range []bool{cfg.MLP != nil, cfg.ConvNetwork != nil, cfg.DeconvNetwork != nil} {
		if set {
			stacks++
		}
	}
	switch {
	case stacks > 1:
		return highorder.BuildRequest{}, fmt.Errorf("config %s sets more than one of mlp, conv_network and deconv_network", configPath)
	case cfg.MLP != nil:
		return highorder.BuildRequest{MLP: cfg.MLP}, nil
	case cfg.ConvNetwork != nil:
		return highorder.BuildRequest{ConvNetwork: cfg.ConvNetwork}, nil
	case cfg.DeconvNetwork != nil:
		return highorder.BuildRequest{DeconvNetwork: cfg.DeconvNetwork}, nil
	}
	spec := cfg.LayerSpec
	overrideFromFlags(&spec, fs, f)
	return highorder.BuildRequest{Layer: &spec, Conv: cfg.Conv}, nil
}
