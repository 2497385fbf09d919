package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"highorder/internal/basis"
	"highorder/internal/nn"
	"highorder/internal/stats"
	"highorder/internal/storage"
	"highorder/pkg/highorder"
)

const (
	artifactsDir  = "artifacts"
	defaultDBPath = "highorder.db"
)

var openClient = func(storeKind, dbPath string) (*highorder.Client, error) {
	return highorder.New(highorder.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
	})
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	klog.Flush()
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "nodes":
		return runNodes(ctx, args[1:])
	case "basis":
		return runBasis(ctx, args[1:])
	case "kinds":
		return runKinds(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "save":
		return runSave(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	case "refine":
		return runRefine(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	klog.InitFlags(fs)
	return fs
}

type storeFlags struct {
	kind   *string
	dbPath *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:   fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath: fs.String("db-path", defaultDBPath, "sqlite database path"),
	}
}

func (f storeFlags) open(ctx context.Context) (*highorder.Client, error) {
	client, err := openClient(*f.kind, *f.dbPath)
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runNodes(_ context.Context, args []string) error {
	fs := newFlagSet("nodes")
	n := fs.Int("n", 5, "number of Chebyshev-Lobatto nodes")
	scale := fs.Float64("scale", 0, "domain length (0 uses the reference interval [-1,1])")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nodes, err := basis.ChebyshevLobatto[float64](*n)
	if err != nil {
		return err
	}
	if *scale != 0 {
		lo, hi := nn.Domain(*scale)
		nodes = basis.MapToInterval(nodes, lo, hi)
	}
	for i, x := range nodes {
		fmt.Printf("%d %.17g\n", i, x)
	}
	return nil
}

func runBasis(_ context.Context, args []string) error {
	fs := newFlagSet("basis")
	n := fs.Int("n", 5, "Lagrange node count or Fourier order")
	x := fs.Float64("x", 0, "query point")
	fourier := fs.Bool("fourier", false, "evaluate the Fourier basis instead of Lagrange")
	samples := fs.Int("samples", 0, "random points in [-10,10] for a partition-of-unity error summary (Lagrange only)")
	seed := fs.Int64("seed", 1, "rng seed for -samples")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var b basis.Basis[float64]
	if *fourier {
		f, err := basis.NewFourier[float64](*n, 1)
		if err != nil {
			return err
		}
		b = f
	} else {
		l, err := basis.NewLagrange[float64](*n)
		if err != nil {
			return err
		}
		b = l
	}

	acts := b.Evaluate(*x, nil)
	fmt.Printf("x=%g dim=%d\n", *x, len(acts))
	fmt.Printf("activations=%s\n", formatFloats(acts))
	fmt.Printf("sum=%.17g\n", sum(acts))

	if *samples <= 0 {
		return nil
	}
	if *fourier {
		return errors.New("partition-of-unity check applies to the Lagrange basis only")
	}
	rng := rand.New(rand.NewSource(*seed))
	sums := make([]float64, *samples)
	buf := make([]float64, b.Dim())
	for i := range sums {
		sums[i] = sum(b.Evaluate(rng.Float64()*20-10, buf))
	}
	summary, err := stats.Summarize(stats.AbsDeviation(sums, 1))
	if err != nil {
		return err
	}
	fmt.Printf("partition_error samples=%d mean=%.3e max=%.3e p95=%.3e\n", summary.Count, summary.Mean, summary.Max, summary.P95)
	return nil
}

func runKinds(_ context.Context, args []string) error {
	fs := newFlagSet("kinds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range nn.ListKinds() {
		kind, err := nn.GetKind(name)
		if err != nil {
			return err
		}
		routing := "global"
		if kind.Piecewise {
			routing = "piecewise/" + kind.Continuity.String()
		}
		fmt.Printf("%s basis=%s routing=%s composition=%s\n", name, kind.Family, routing, kind.Composition)
	}
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := newFlagSet("eval")
	configPath := fs.String("config", "", "optional layer config JSON path")
	layerFlags := addLayerFlags(fs)
	id := fs.String("id", "", "evaluate a stored checkpoint instead of a fresh layer")
	inputsRaw := fs.String("inputs", "", "comma-separated input values")
	target := fs.Float64("target", 0, "report |output - target| statistics")
	inputMin := fs.Float64("input-min", 0, "raw input lower bound mapped onto the layer domain (needs -input-max)")
	inputMax := fs.Float64("input-max", 0, "raw input upper bound mapped onto the layer domain (needs -input-min)")
	runID := fs.String("run-id", "", "write artifacts under artifacts/<run-id>")
	outPath := fs.String("out", "", "write input,output CSV to this path")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	inputs, err := parseFloatList(*inputsRaw)
	if err != nil {
		return err
	}
	spec, err := resolveLayerSpec(fs, *configPath, layerFlags)
	if err != nil {
		return err
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := highorder.EvaluateRequest{
		Spec:         spec,
		CheckpointID: *id,
		Inputs:       inputs,
		RunID:        *runID,
	}
	if flagWasSet(fs, "target") {
		req.Target = target
	}
	if minSet, maxSet := flagWasSet(fs, "input-min"), flagWasSet(fs, "input-max"); minSet || maxSet {
		if !minSet || !maxSet {
			return usageError("-input-min and -input-max must be set together")
		}
		req.InputRange = &highorder.InputRange{Min: *inputMin, Max: *inputMax}
	}
	result, err := client.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	for i, y := range result.Outputs {
		fmt.Printf("x=%g y=%.17g\n", inputs[i], y)
	}
	printSummary("outputs", result.Summary)
	if result.Error != nil {
		printSummary("error", *result.Error)
	}
	if result.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", result.ArtifactsDir)
	}
	if *outPath != "" {
		if err := stats.WriteEvaluationCSV(*outPath, inputs, result.Outputs); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *outPath)
	}
	return nil
}

func runSave(ctx context.Context, args []string) error {
	fs := newFlagSet("save")
	configPath := fs.String("config", "", "optional layer, conv or mlp config JSON path")
	layerFlags := addLayerFlags(fs)
	name := fs.String("name", "", "checkpoint name (defaults to a random id)")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := resolveBuildRequest(fs, *configPath, layerFlags)
	if err != nil {
		return err
	}
	layers, err := highorder.Build(req)
	if err != nil {
		return err
	}
	if *name == "" {
		*name = "layers-" + uuid.NewString()[:8]
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	saved, err := client.Save(ctx, highorder.SaveRequest{Name: *name, Layers: layers})
	if err != nil {
		return err
	}
	fmt.Printf("saved id=%s name=%s layers=%d fingerprint=%s\n", saved.ID, saved.Name, saved.Layers, saved.Fingerprint)
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := newFlagSet("checkpoints")
	limit := fs.Int("limit", 20, "max checkpoints to list")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	list, err := client.Checkpoints(ctx, *limit)
	if err != nil {
		return err
	}
	for _, item := range list {
		parent := item.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("id=%s name=%s created_at=%s layers=%d parent=%s\n", item.ID, item.Name, item.CreatedAtUTC, item.Layers, parent)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	id := fs.String("id", "", "checkpoint id")
	withValues := fs.Bool("values", false, "include parameter values")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("show requires --id")
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	checkpoint, err := client.Checkpoint(ctx, *id)
	if err != nil {
		return err
	}
	if err := nn.VerifyFingerprint(checkpoint.Layers, checkpoint.Fingerprint); err != nil {
		return err
	}
	if !*withValues {
		for i := range checkpoint.Layers {
			for j := range checkpoint.Layers[i].Parameters {
				checkpoint.Layers[i].Parameters[j].Values = nil
			}
		}
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "checkpoint id")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("delete requires --id")
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("deleted id=%s\n", *id)
	return nil
}

func runRefine(ctx context.Context, args []string) error {
	fs := newFlagSet("refine")
	id := fs.String("id", "", "source checkpoint id")
	n := fs.Int("n", 0, "target order")
	segments := fs.Int("segments", 0, "target segment count for piecewise layers; a multiple of the current count, unchanged for product kinds (0 keeps)")
	name := fs.String("name", "", "refined checkpoint name")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("refine requires --id")
	}

	client, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	refined, err := client.Refine(ctx, highorder.RefineRequest{ID: *id, N: *n, Segments: *segments, Name: *name})
	if err != nil {
		return err
	}
	fmt.Printf("refined id=%s parent=%s name=%s fingerprint=%s\n", refined.ID, refined.ParentID, refined.Name, refined.Fingerprint)
	return nil
}

func printSummary(label string, s stats.Summary) {
	fmt.Printf("%s count=%d mean=%.6f median=%.6f stddev=%.6f min=%.6f max=%.6f p95=%.6f\n",
		label, s.Count, s.Mean, s.Median, s.StdDev, s.Min, s.Max, s.P95)
}

func parseFloatList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse input %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one input is required")
	}
	return out, nil
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', 12, 64)
	}
	return strings.Join(parts, ",")
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: highorderctl <nodes|basis|kinds|eval|save|checkpoints|show|delete|refine> [flags]", msg)
}
