package nn

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/zeebo/blake3"

	"highorder/internal/model"
)

var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// LayerState captures the LayerSpec and parameter values of a layer.
func LayerState(layer Layer) model.LayerState {
	state := model.LayerState{Spec: layer.Spec()}
	if conv, ok := layer.(ConvLayer); ok {
		opts := conv.Options()
		state.Conv = &opts
	}
	for _, p := range layer.Parameters() {
		state.Parameters = append(state.Parameters, p.State())
	}
	return state
}

func Snapshot(layers []Layer) []model.LayerState {
	states := make([]model.LayerState, 0, len(layers))
	for _, layer := range layers {
		states = append(states, LayerState(layer))
	}
	return states
}

// RestoreLayer rebuilds a layer from its spec and loads the stored values.
func RestoreLayer(state model.LayerState) (Layer, error) {
	var (
		layer Layer
		err   error
	)
	switch {
	case IsStage(state.Spec.Kind):
		layer, err = NewStage(state.Spec.Kind, state.Spec.InFeatures)
	case state.Conv != nil:
		layer, err = NewConvLayer(state.Spec, *state.Conv)
	default:
		layer, err = NewLayer(state.Spec)
	}
	if err != nil {
		return nil, err
	}

	params := layer.Parameters()
	if len(params) != len(state.Parameters) {
		return nil, fmt.Errorf("%w: %d parameters stored, layer has %d", ErrState, len(state.Parameters), len(params))
	}
	for i, p := range params {
		if err := p.Load(state.Parameters[i]); err != nil {
			return nil, err
		}
	}
	return layer, nil
}

func Restore(states []model.LayerState) ([]Layer, error) {
	layers := make([]Layer, 0, len(states))
	for i, state := range states {
		layer, err := RestoreLayer(state)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// Fingerprint is a blake3 content hash over layer specs and parameter values.
func Fingerprint(states []model.LayerState) string {
	h := blake3.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	putString := func(s string) {
		putInt(int64(len(s)))
		_, _ = h.Write([]byte(s))
	}

	putInt(int64(len(states)))
	for _, state := range states {
		s := state.Spec
		putString(s.Kind)
		for _, v := range []int{s.N, s.InFeatures, s.OutFeatures, s.Segments} {
			putInt(int64(v))
		}
		putFloat(s.Alpha)
		putFloat(s.Scale)
		putFloat(s.Periodicity)
		if s.RescaleOutput {
			putInt(1)
		} else {
			putInt(0)
		}
		putInt(s.Seed)
		if state.Conv != nil {
			putInt(int64(state.Conv.KernelSize))
			putInt(int64(state.Conv.Stride))
			putInt(int64(state.Conv.Padding))
			if state.Conv.Transpose {
				putInt(1)
			}
		} else {
			putInt(-1)
		}
		putInt(int64(len(state.Parameters)))
		for _, p := range state.Parameters {
			putString(p.Name)
			putInt(int64(len(p.Shape)))
			for _, d := range p.Shape {
				putInt(int64(d))
			}
			putInt(int64(len(p.Values)))
			for _, v := range p.Values {
				putFloat(v)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func VerifyFingerprint(states []model.LayerState, fingerprint string) error {
	if got := Fingerprint(states); got != fingerprint {
		return fmt.Errorf("%w: got %s want %s", ErrFingerprintMismatch, got, fingerprint)
	}
	return nil
}
