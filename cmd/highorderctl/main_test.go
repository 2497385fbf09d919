package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"highorder/internal/model"
	"highorder/internal/stats"
	"highorder/internal/storage"
	"highorder/pkg/highorder"
)

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}

func runCapture(t *testing.T, args ...string) string {
	t.Helper()
	out, err := captureStdout(func() error {
		return run(context.Background(), args)
	})
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

// useMemoryStore makes every command in the test share one memory store.
func useMemoryStore(t *testing.T) {
	t.Helper()
	store := storage.NewMemoryStore()
	dir := t.TempDir()
	orig := openClient
	openClient = func(string, string) (*highorder.Client, error) {
		return highorder.NewWithStore(store, dir), nil
	}
	t.Cleanup(func() {
		openClient = orig
	})
}

var idPattern = regexp.MustCompile(`id=([0-9a-f-]{36})`)

func firstID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no checkpoint id in output: %q", out)
	}
	return m[1]
}

func TestRunRequiresKnownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got: %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command: train") {
		t.Fatalf("expected unknown command error, got: %v", err)
	}
}

func TestRunNodes(t *testing.T) {
	out := runCapture(t, "nodes", "-n", "5")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "0 -1", lines[0])
	require.Equal(t, "4 1", lines[4])

	out = runCapture(t, "nodes", "-n", "2", "-scale", "4")
	require.Equal(t, "0 -2\n1 2\n", out)

	if err := run(context.Background(), []string{"nodes", "-n", "0"}); err == nil {
		t.Fatal("expected order error")
	}
}

func TestRunBasis(t *testing.T) {
	out := runCapture(t, "basis", "-n", "3", "-x", "1")
	require.Contains(t, out, "dim=3")
	require.Regexp(t, `activations=[^,\n]+,[^,\n]+,[^,\n]+\n`, out)
	require.Contains(t, out, "sum=1\n")

	out = runCapture(t, "basis", "-n", "4", "-x", "0.3", "-samples", "50")
	require.Contains(t, out, "partition_error samples=50")

	out = runCapture(t, "basis", "-n", "2", "-fourier")
	require.Contains(t, out, "dim=5")

	if err := run(context.Background(), []string{"basis", "-fourier", "-samples", "5"}); err == nil {
		t.Fatal("expected fourier partition error")
	}
}

func TestRunKinds(t *testing.T) {
	out := runCapture(t, "kinds")
	require.Contains(t, out, "continuous basis=lagrange routing=piecewise/continuous composition=sum\n")
	require.Contains(t, out, "fourier basis=fourier routing=global composition=sum\n")
	require.Contains(t, out, "product basis=lagrange routing=global composition=product\n")
}

func TestRunEvalWritesCSV(t *testing.T) {
	useMemoryStore(t)
	csvPath := filepath.Join(t.TempDir(), "eval.csv")

	out := runCapture(t, "eval", "-kind", "discontinuous", "-n", "3", "-segments", "2", "-inputs", "-1, 0, 0.5, 1", "-target", "0", "-out", csvPath)
	require.Contains(t, out, "outputs count=4")
	require.Contains(t, out, "error count=4")

	inputs, outputs, err := stats.ReadEvaluationCSV(csvPath)
	require.NoError(t, err)
	require.Equal(t, []float64{-1, 0, 0.5, 1}, inputs)
	require.Len(t, outputs, 4)
}

func TestRunEvalMapsInputRange(t *testing.T) {
	useMemoryStore(t)
	raw := runCapture(t, "eval", "-kind", "continuous", "-n", "4", "-seed", "3", "-inputs", "0,25,100", "-input-min", "0", "-input-max", "100")
	mapped := runCapture(t, "eval", "-kind", "continuous", "-n", "4", "-seed", "3", "-inputs", "-1,-0.5,1")
	require.Contains(t, raw, "x=25 y=")
	require.InDeltaSlice(t, outputValues(t, mapped), outputValues(t, raw), 1e-12)

	if err := run(context.Background(), []string{"eval", "-inputs", "1", "-input-min", "0"}); err == nil {
		t.Fatal("expected error for a one-sided input range")
	}
}

func TestRunEvalRejectsBadInput(t *testing.T) {
	useMemoryStore(t)
	if err := run(context.Background(), []string{"eval", "-inputs", "1,x"}); err == nil {
		t.Fatal("expected parse error")
	}
	if err := run(context.Background(), []string{"eval", "-inputs", ""}); err == nil {
		t.Fatal("expected missing inputs error")
	}
	if err := run(context.Background(), []string{"eval", "-kind", "cubic", "-inputs", "0"}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestRunCheckpointLifecycle(t *testing.T) {
	useMemoryStore(t)

	out := runCapture(t, "save", "-kind", "continuous", "-n", "3", "-segments", "2", "-seed", "5", "-name", "base")
	baseID := firstID(t, out)

	out = runCapture(t, "checkpoints")
	require.Contains(t, out, "id="+baseID+" name=base")

	out = runCapture(t, "show", "-id", baseID)
	var shown model.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, baseID, shown.ID)
	require.Equal(t, 3, shown.Layers[0].Spec.N)
	require.Nil(t, shown.Layers[0].Parameters[0].Values)

	out = runCapture(t, "refine", "-id", baseID, "-n", "6", "-name", "fine")
	fineID := firstID(t, out)
	require.Contains(t, out, "parent="+baseID)

	inputs := "-1,-0.4,0,0.3,1"
	before := runCapture(t, "eval", "-id", baseID, "-inputs", inputs)
	after := runCapture(t, "eval", "-id", fineID, "-inputs", inputs)
	want, got := outputValues(t, before), outputValues(t, after)
	require.Len(t, got, 5)
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("refined output %d: got=%f want=%f", i, got[i], want[i])
		}
	}

	runCapture(t, "delete", "-id", fineID)
	out = runCapture(t, "checkpoints")
	require.NotContains(t, out, fineID)

	if err := run(context.Background(), []string{"show"}); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestRunSaveFromMLPConfig(t *testing.T) {
	useMemoryStore(t)
	configPath := filepath.Join(t.TempDir(), "mlp.json")
	config := `{"mlp": {"kind": "continuous", "n": 3, "in_width": 2, "out_width": 1, "hidden_layers": 1, "hidden_width": 3, "segments": 2}}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	out := runCapture(t, "save", "-config", configPath, "-name", "mlp")
	require.Contains(t, out, "layers=3")
}

func TestRunSaveFromDeconvConfig(t *testing.T) {
	useMemoryStore(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "deconv.json")
	config := `{"deconv_network": {"kinds": ["continuous", "polynomial"], "n": [3, 2], "channels": [1, 2, 1], "segments": [2, 1], "kernel_sizes": [2, 2], "normalization": "max_abs"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	out := runCapture(t, "save", "-config", configPath, "-name", "deconv")
	require.Contains(t, out, "layers=4")
	id := firstID(t, out)

	out = runCapture(t, "show", "-id", id)
	var shown model.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, "max_abs", shown.Layers[0].Spec.Kind)
	require.True(t, shown.Layers[1].Conv.Transpose)

	both := filepath.Join(dir, "both.json")
	require.NoError(t, os.WriteFile(both, []byte(`{"mlp": {"kind": "continuous"}, "deconv_network": {"kinds": ["continuous"]}}`), 0o644))
	if err := run(context.Background(), []string{"save", "-config", both}); err == nil {
		t.Fatal("expected error for two stacks in one config")
	}
}

func TestResolveLayerSpecFlagsOverrideConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "layer.json")
	config := `{"kind": "polynomial", "n": 2, "in_features": 1, "out_features": 1, "segments": 1, "alpha": 0.5, "seed": 3}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	fs := newFlagSet("eval")
	lf := addLayerFlags(fs)
	require.NoError(t, fs.Parse([]string{"-n", "4", "-kind", "fourier"}))

	spec, err := resolveLayerSpec(fs, configPath, lf)
	require.NoError(t, err)
	require.Equal(t, model.LayerSpec{Kind: "fourier", N: 4, InFeatures: 1, OutFeatures: 1, Segments: 1, Alpha: 0.5, Seed: 3}, spec)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"kind": "continuous", "order": 3}`), 0o644))
	if _, err := loadConfig(configPath); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func outputValues(t *testing.T, out string) []float64 {
	t.Helper()
	var values []float64
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "x=") {
			continue
		}
		fields := strings.SplitN(line, " y=", 2)
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			t.Fatalf("parse output line %q: %v", line, err)
		}
		values = append(values, v)
	}
	return values
}
