package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// LayerSpec is the construction-time description of one basis layer. For
// convolutions InFeatures and OutFeatures are channel counts.
type LayerSpec struct {
	Kind          string  `json:"kind"`
	N             int     `json:"n"`
	InFeatures    int     `json:"in_features"`
	OutFeatures   int     `json:"out_features"`
	Segments      int     `json:"segments"`
	Alpha         float64 `json:"alpha"`
	Scale         float64 `json:"scale,omitempty"`
	Periodicity   float64 `json:"periodicity,omitempty"`
	RescaleOutput bool    `json:"rescale_output,omitempty"`
	Seed          int64   `json:"seed,omitempty"`
}

// ConvOptions holds the patch bookkeeping of a convolutional layer.
// Transpose selects the transposed (upsampling) convolution.
type ConvOptions struct {
	KernelSize int  `json:"kernel_size"`
	Stride     int  `json:"stride,omitempty"`
	Padding    int  `json:"padding,omitempty"`
	Transpose  bool `json:"transpose,omitempty"`
}

// MLPSpec mirrors a stacked fully-connected network: input layer, hidden
// layers and output layer. Zero per-stage orders and segments fall back to
// N and Segments. Normalization precedes every hidden layer; NonLinearity
// follows the normalization and also precedes the output layer.
type MLPSpec struct {
	Kind           string  `json:"kind"`
	N              int     `json:"n"`
	NIn            int     `json:"n_in,omitempty"`
	NHidden        int     `json:"n_hidden,omitempty"`
	NOut           int     `json:"n_out,omitempty"`
	InWidth        int     `json:"in_width"`
	OutWidth       int     `json:"out_width"`
	HiddenLayers   int     `json:"hidden_layers"`
	HiddenWidth    int     `json:"hidden_width"`
	Segments       int     `json:"segments"`
	InSegments     int     `json:"in_segments,omitempty"`
	HiddenSegments int     `json:"hidden_segments,omitempty"`
	OutSegments    int     `json:"out_segments,omitempty"`
	Alpha          float64 `json:"alpha"`
	Scale          float64 `json:"scale,omitempty"`
	Periodicity    float64 `json:"periodicity,omitempty"`
	RescaleOutput  bool    `json:"rescale_output,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Normalization  string  `json:"normalization,omitempty"`
	NonLinearity   string  `json:"non_linearity,omitempty"`
}

// ConvNetworkSpec describes a fully convolutional or fully transposed
// convolutional stack. Channels has one more entry than the per-layer lists.
// Normalization, when set, precedes every layer.
type ConvNetworkSpec struct {
	Kinds         []string `json:"kinds"`
	N             []int    `json:"n"`
	Channels      []int    `json:"channels"`
	Segments      []int    `json:"segments"`
	KernelSizes   []int    `json:"kernel_sizes"`
	Scale         float64  `json:"scale,omitempty"`
	Periodicity   float64  `json:"periodicity,omitempty"`
	RescaleOutput bool     `json:"rescale_output,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
	Normalization string   `json:"normalization,omitempty"`
}

// ParameterState is a named trainable array.
type ParameterState struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// LayerState is the persisted form of one layer.
type LayerState struct {
	Spec       LayerSpec        `json:"spec"`
	Conv       *ConvOptions     `json:"conv,omitempty"`
	Parameters []ParameterState `json:"parameters"`
}

// Checkpoint is a stored snapshot of a layer stack.
type Checkpoint struct {
	VersionedRecord
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	ParentID     string       `json:"parent_id,omitempty"`
	CreatedAtUTC string       `json:"created_at_utc"`
	Layers       []LayerState `json:"layers"`
	Fingerprint  string       `json:"fingerprint"`
}

// CheckpointSummary is the list view of a checkpoint.
type CheckpointSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
	CreatedAtUTC string `json:"created_at_utc"`
	Layers       int    `json:"layers"`
	Fingerprint  string `json:"fingerprint"`
}

func (c Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{
		ID:           c.ID,
		Name:         c.Name,
		ParentID:     c.ParentID,
		CreatedAtUTC: c.CreatedAtUTC,
		Layers:       len(c.Layers),
		Fingerprint:  c.Fingerprint,
	}
}
