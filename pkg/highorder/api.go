package highorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"highorder/internal/model"
	"highorder/internal/nn"
	"highorder/internal/stats"
	"highorder/internal/storage"
	"highorder/internal/tensor"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultDBPath       = "highorder.db"
	defaultListLimit    = 20
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrBuildRequest       = errors.New("exactly one of layer, mlp, conv network or deconv network must be set; conv needs layer")
	ErrScalarEvaluation   = errors.New("evaluation needs a fully-connected stack with one input and one output")
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
}

type Client struct {
	store        storage.Store
	artifactsDir string
	now          func() time.Time

	initMu sync.Mutex
	ready  bool
}

// BuildRequest describes a layer stack. Exactly one of Layer, MLP,
// ConvNetwork and DeconvNetwork is set; Conv requires Layer as well.
type BuildRequest struct {
	Layer         *model.LayerSpec
	Conv          *model.ConvOptions
	MLP           *model.MLPSpec
	ConvNetwork   *model.ConvNetworkSpec
	DeconvNetwork *model.ConvNetworkSpec
}

type SaveRequest struct {
	Name     string
	ParentID string
	Layers   []nn.Layer
}

type Loaded struct {
	Checkpoint model.CheckpointSummary
	Layers     []nn.Layer
}

type RefineRequest struct {
	ID string
	N  int
	// Segments replaces the segment count of piecewise layers when > 0.
	Segments int
	Name     string
}

type EvaluateRequest struct {
	// Spec builds a fresh layer when CheckpointID is empty.
	Spec         model.LayerSpec
	CheckpointID string
	Inputs       []float64
	// Target, when set, adds a summary of |output - target|.
	Target *float64
	// RunID names the artifact directory; artifacts are skipped when empty.
	RunID string
	// InputRange, when set, maps raw inputs from [Min, Max] onto the domain
	// of the first layer before evaluation.
	InputRange *InputRange
}

type InputRange struct {
	Min float64
	Max float64
}

type EvaluateSummary struct {
	Outputs      []float64
	Summary      stats.Summary
	Error        *stats.Summary
	ArtifactsDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return newClient(store, artifactsDir), nil
}

// NewWithStore wraps an existing store. Close still closes it.
func NewWithStore(store storage.Store, artifactsDir string) *Client {
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	return newClient(store, artifactsDir)
}

func newClient(store storage.Store, artifactsDir string) *Client {
	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		now:          time.Now,
	}
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.ready {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// Build constructs the layers described by req.
func Build(req BuildRequest) ([]nn.Layer, error) {
	set := 0
	for _, ok := range []bool{req.Layer != nil, req.MLP != nil, req.ConvNetwork != nil, req.DeconvNetwork != nil} {
		if ok {
			set++
		}
	}
	if set != 1 || (req.Conv != nil && req.Layer == nil) {
		return nil, ErrBuildRequest
	}

	switch {
	case req.Layer != nil && req.Conv != nil:
		layer, err := nn.NewConvLayer(*req.Layer, *req.Conv)
		if err != nil {
			return nil, err
		}
		return []nn.Layer{layer}, nil
	case req.Layer != nil:
		layer, err := nn.NewLayer(*req.Layer)
		if err != nil {
			return nil, err
		}
		return []nn.Layer{layer}, nil
	case req.MLP != nil:
		network, err := nn.NewMLP(*req.MLP)
		if err != nil {
			return nil, err
		}
		return network.Layers(), nil
	case req.ConvNetwork != nil:
		network, err := nn.NewConvNetwork(*req.ConvNetwork)
		if err != nil {
			return nil, err
		}
		return network.Layers(), nil
	default:
		network, err := nn.NewDeconvNetwork(*req.DeconvNetwork)
		if err != nil {
			return nil, err
		}
		return network.Layers(), nil
	}
}

func (c *Client) Save(ctx context.Context, req SaveRequest) (model.CheckpointSummary, error) {
	if len(req.Layers) == 0 {
		return model.CheckpointSummary{}, fmt.Errorf("%w: no layers to save", nn.ErrConfiguration)
	}
	if err := c.Init(ctx); err != nil {
		return model.CheckpointSummary{}, err
	}

	states := nn.Snapshot(req.Layers)
	checkpoint := model.Checkpoint{
		VersionedRecord: storage.Versioned(),
		ID:              uuid.NewString(),
		Name:            req.Name,
		ParentID:        req.ParentID,
		CreatedAtUTC:    c.now().UTC().Format(time.RFC3339Nano),
		Layers:          states,
		Fingerprint:     nn.Fingerprint(states),
	}
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return model.CheckpointSummary{}, err
	}
	klog.V(2).Infof("saved checkpoint %s (%d layers, fingerprint %s)", checkpoint.ID, len(states), checkpoint.Fingerprint[:12])
	return checkpoint.Summary(), nil
}

// Load restores the layers of a checkpoint after verifying its fingerprint.
func (c *Client) Load(ctx context.Context, id string) (Loaded, error) {
	checkpoint, err := c.checkpoint(ctx, id)
	if err != nil {
		return Loaded{}, err
	}
	if err := nn.VerifyFingerprint(checkpoint.Layers, checkpoint.Fingerprint); err != nil {
		return Loaded{}, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	layers, err := nn.Restore(checkpoint.Layers)
	if err != nil {
		return Loaded{}, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	return Loaded{Checkpoint: checkpoint.Summary(), Layers: layers}, nil
}

// Checkpoint returns the stored record without restoring layers.
func (c *Client) Checkpoint(ctx context.Context, id string) (model.Checkpoint, error) {
	return c.checkpoint(ctx, id)
}

func (c *Client) Checkpoints(ctx context.Context, limit int) ([]model.CheckpointSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	list, err := c.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if _, err := c.checkpoint(ctx, id); err != nil {
		return err
	}
	return c.store.DeleteCheckpoint(ctx, id)
}

// Refine p-refines every layer of a stored checkpoint to order req.N and
// saves the result as a child checkpoint.
func (c *Client) Refine(ctx context.Context, req RefineRequest) (model.CheckpointSummary, error) {
	if req.N < 1 {
		return model.CheckpointSummary{}, fmt.Errorf("%w: refine order must be >= 1, got %d", nn.ErrConfiguration, req.N)
	}
	loaded, err := c.Load(ctx, req.ID)
	if err != nil {
		return model.CheckpointSummary{}, err
	}

	refined := make([]nn.Layer, 0, len(loaded.Layers))
	for i, src := range loaded.Layers {
		dst, err := refinedLayer(src, req.N, req.Segments)
		if err != nil {
			return model.CheckpointSummary{}, fmt.Errorf("layer %d: %w", i, err)
		}
		if err := nn.Refine(src, dst); err != nil {
			return model.CheckpointSummary{}, fmt.Errorf("layer %d: %w", i, err)
		}
		refined = append(refined, dst)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s-n%d", loaded.Checkpoint.Name, req.N)
	}
	return c.Save(ctx, SaveRequest{Name: name, ParentID: req.ID, Layers: refined})
}

func refinedLayer(src nn.Layer, n, segments int) (nn.Layer, error) {
	if stage, ok := src.(*nn.Stage); ok {
		return stage, nil
	}
	spec := src.Spec()
	spec.N = n
	if segments > 0 {
		kind, err := nn.GetKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		if kind.Piecewise {
			spec.Segments = segments
		}
	}
	if conv, ok := src.(nn.ConvLayer); ok {
		return nn.NewConvLayer(spec, conv.Options())
	}
	return nn.NewLayer(spec)
}

// Evaluate runs a scalar-in, scalar-out stack over req.Inputs and summarizes
// the outputs.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if len(req.Inputs) == 0 {
		return EvaluateSummary{}, fmt.Errorf("%w: no inputs", nn.ErrInput)
	}

	var (
		layers []nn.Layer
		spec   = req.Spec
	)
	if req.CheckpointID != "" {
		loaded, err := c.Load(ctx, req.CheckpointID)
		if err != nil {
			return EvaluateSummary{}, err
		}
		layers = loaded.Layers
		spec = layers[0].Spec()
	} else {
		layer, err := nn.NewLayer(spec)
		if err != nil {
			return EvaluateSummary{}, err
		}
		layers = []nn.Layer{layer}
	}
	if err := checkScalar(layers); err != nil {
		return EvaluateSummary{}, err
	}

	network, err := nn.NewNetwork(layers...)
	if err != nil {
		return EvaluateSummary{}, err
	}
	inputs := append([]float64(nil), req.Inputs...)
	if r := req.InputRange; r != nil {
		if !(r.Max > r.Min) {
			return EvaluateSummary{}, fmt.Errorf("%w: input range [%g, %g] is empty", nn.ErrInput, r.Min, r.Max)
		}
		inputs = nn.ToDomainSlice(req.Inputs, r.Min, r.Max, layers[0].Spec().Scale)
	}
	x, err := tensor.New([]int{len(inputs), 1}, inputs)
	if err != nil {
		return EvaluateSummary{}, err
	}
	y, err := network.Forward(x)
	if err != nil {
		return EvaluateSummary{}, err
	}

	outputs := append([]float64(nil), y.Data()...)
	summary, err := stats.Summarize(outputs)
	if err != nil {
		return EvaluateSummary{}, err
	}
	result := EvaluateSummary{Outputs: outputs, Summary: summary}
	if req.Target != nil {
		errSummary, err := stats.Summarize(stats.AbsDeviation(outputs, *req.Target))
		if err != nil {
			return EvaluateSummary{}, err
		}
		result.Error = &errSummary
	}

	if req.RunID != "" {
		runDir, err := stats.WriteEvaluationArtifacts(c.artifactsDir, stats.EvaluationArtifacts{
			RunID:   req.RunID,
			Spec:    spec,
			Inputs:  req.Inputs,
			Outputs: outputs,
			Summary: summary,
		})
		if err != nil {
			return EvaluateSummary{}, err
		}
		result.ArtifactsDir = filepath.Clean(runDir)
	}
	return result, nil
}

func checkScalar(layers []nn.Layer) error {
	for _, layer := range layers {
		if _, ok := layer.(nn.ConvLayer); ok {
			return ErrScalarEvaluation
		}
	}
	first, last := layers[0].Spec(), layers[len(layers)-1].Spec()
	if first.InFeatures != 1 || last.OutFeatures != 1 {
		return fmt.Errorf("%w: got %d inputs and %d outputs", ErrScalarEvaluation, first.InFeatures, last.OutFeatures)
	}
	return nil
}

func (c *Client) checkpoint(ctx context.Context, id string) (model.Checkpoint, error) {
	if err := c.Init(ctx); err != nil {
		return model.Checkpoint{}, err
	}
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, id)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if !ok {
		return model.Checkpoint{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return checkpoint, nil
}
