package nn

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Models  []SavedModel `json:"models"`
}

// SavedModel represents a single saved model with config and weights
type SavedModel struct {
	ID      string         `json:"id"`
	Config  NetworkConfig  `json:"cfg"`
	Weights EncodedWeights `json:"weights"`
}

// NetworkConfig represents the network architecture
type NetworkConfig struct {
	ID        string            `json:"id"`
	BatchSize int               `json:"batch_size"`
	Layers    []LayerDefinition `json:"layers"`
}

// LayerDefinition defines a single layer's configuration
type LayerDefinition struct {
	Type       string `json:"type"`
	Activation string `json:"activation"`

	// Dense fields
	InputSize  int `json:"input_size,omitempty"`
	OutputSize int `json:"output_size,omitempty"`

	// Shift batch normalization fields
	InputShape []int   `json:"input_shape,omitempty"`
	Axes       []int   `json:"axes,omitempty"`
	Epsilon    float32 `json:"epsilon,omitempty"`
	Alpha      float32 `json:"alpha,omitempty"`
}

// EncodedWeights stores weights in base64-encoded JSON format
type EncodedWeights struct {
	Format string `json:"fmt"`
	Data   string `json:"data"`
}

// WeightsData represents the actual weight values
type WeightsData struct {
	Type   string         `json:"type"` // "float32"
	Layers []LayerWeights `json:"layers"`
}

// LayerWeights stores weights and persistent state for a single layer
type LayerWeights struct {
	// Dense weights
	Kernel []float32 `json:"kernel,omitempty"`
	Biases []float32 `json:"biases,omitempty"`

	// Shift batch normalization running statistics
	RunningMean []float32 `json:"running_mean,omitempty"`
	RunningStd  []float32 `json:"running_std,omitempty"`
}

// SaveModel saves a single model to a file
func (n *Network) SaveModel(filename string, modelID string) error {
	bundle := ModelBundle{
		Type:    "modelhost/bundle",
		Version: 1,
		Models:  []SavedModel{},
	}

	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return fmt.Errorf("failed to serialize model: %w", err)
	}

	bundle.Models = append(bundle.Models, savedModel)

	return bundle.SaveToFile(filename)
}

// SaveBundle saves multiple models to a bundle file
func SaveBundle(filename string, models map[string]*Network) error {
	bundle := ModelBundle{
		Type:    "modelhost/bundle",
		Version: 1,
		Models:  []SavedModel{},
	}

	for id, network := range models {
		savedModel, err := network.SerializeModel(id)
		if err != nil {
			return fmt.Errorf("failed to serialize model %s: %w", id, err)
		}
		bundle.Models = append(bundle.Models, savedModel)
	}

	return bundle.SaveToFile(filename)
}

// SerializeModel converts the network to a SavedModel structure.
// Running statistics are serialized alongside the weights so a reloaded
// model resumes inference with the state it was saved with.
func (n *Network) SerializeModel(modelID string) (SavedModel, error) {
	config := NetworkConfig{
		ID:        modelID,
		BatchSize: n.BatchSize,
		Layers:    []LayerDefinition{},
	}

	weightsData := WeightsData{
		Type:   "float32",
		Layers: []LayerWeights{},
	}

	for i := range n.Layers {
		layerConfig := &n.Layers[i]

		layerDef := LayerDefinition{
			Type:       layerTypeToString(layerConfig.Type),
			Activation: activationToString(layerConfig.Activation),
		}
		layerWeights := LayerWeights{}

		switch layerConfig.Type {
		case LayerDense:
			layerDef.InputSize = layerConfig.InputSize
			layerDef.OutputSize = layerConfig.OutputSize
			layerWeights.Kernel = layerConfig.Kernel
			layerWeights.Biases = layerConfig.Bias

		case LayerShiftBatchNorm:
			layerDef.InputShape = layerConfig.InputShape
			layerDef.Axes = layerConfig.Axes
			layerDef.Epsilon = layerConfig.Epsilon
			layerDef.Alpha = layerConfig.Alpha
			layerWeights.RunningMean = layerConfig.RunningMean
			layerWeights.RunningStd = layerConfig.RunningStd

		default:
			return SavedModel{}, fmt.Errorf("unknown layer type: %d", layerConfig.Type)
		}

		config.Layers = append(config.Layers, layerDef)
		weightsData.Layers = append(weightsData.Layers, layerWeights)
	}

	weightsJSON, err := json.Marshal(weightsData)
	if err != nil {
		return SavedModel{}, fmt.Errorf("failed to marshal weights: %w", err)
	}

	encodedWeights := EncodedWeights{
		Format: "jsonModelB64",
		Data:   base64.StdEncoding.EncodeToString(weightsJSON),
	}

	return SavedModel{
		ID:      modelID,
		Config:  config,
		Weights: encodedWeights,
	}, nil
}

// LoadModel loads a single model from a file
func LoadModel(filename string, modelID string) (*Network, error) {
	bundle, err := LoadBundle(filename)
	if err != nil {
		return nil, err
	}

	for _, savedModel := range bundle.Models {
		if savedModel.ID == modelID {
			return DeserializeModel(savedModel)
		}
	}

	return nil, fmt.Errorf("model %s not found in bundle", modelID)
}

// LoadBundle loads a model bundle from a file
func LoadBundle(filename string) (*ModelBundle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadBundleFromString(string(data))
}

// LoadBundleFromString loads a model bundle from a JSON string
func LoadBundleFromString(jsonString string) (*ModelBundle, error) {
	var bundle ModelBundle
	if err := json.Unmarshal([]byte(jsonString), &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}

	if bundle.Type != "modelhost/bundle" {
		return nil, fmt.Errorf("invalid bundle type: %s", bundle.Type)
	}

	return &bundle, nil
}

// LoadModelFromString loads a single model from a JSON string
func LoadModelFromString(jsonString string, modelID string) (*Network, error) {
	bundle, err := LoadBundleFromString(jsonString)
	if err != nil {
		return nil, err
	}

	for _, savedModel := range bundle.Models {
		if savedModel.ID == modelID {
			return DeserializeModel(savedModel)
		}
	}

	return nil, fmt.Errorf("model %s not found in bundle", modelID)
}

// SaveToString converts the bundle to a JSON string
func (b *ModelBundle) SaveToString() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return string(data), nil
}

// SaveModelToString saves a single model to a JSON string
func (n *Network) SaveModelToString(modelID string) (string, error) {
	bundle := ModelBundle{
		Type:    "modelhost/bundle",
		Version: 1,
		Models:  []SavedModel{},
	}

	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return "", fmt.Errorf("failed to serialize model: %w", err)
	}

	bundle.Models = append(bundle.Models, savedModel)

	return bundle.SaveToString()
}

// SaveToFile saves the bundle to a file
func (b *ModelBundle) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// DeserializeModel creates a Network from a SavedModel.
// Normalization layers are rebuilt through their constructor, so a bundle
// with an invalid shape or axes configuration fails here rather than at
// the first forward pass. Missing running statistics fall back to the
// fresh-layer defaults of mean 0 and reciprocal std 1.
func DeserializeModel(saved SavedModel) (*Network, error) {
	config := saved.Config

	network := NewNetwork(config.BatchSize)

	weightsJSON, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}

	var weightsData WeightsData
	if err := json.Unmarshal(weightsJSON, &weightsData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}

	if len(config.Layers) != len(weightsData.Layers) {
		return nil, fmt.Errorf("layer count mismatch: config=%d, weights=%d",
			len(config.Layers), len(weightsData.Layers))
	}

	for i, layerDef := range config.Layers {
		layerWeights := weightsData.Layers[i]

		layerConfig, err := buildLayer(layerDef, layerWeights)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}

		network.Add(layerConfig)
	}

	return network, nil
}

// buildLayer constructs a LayerConfig from its definition and saved state
func buildLayer(def LayerDefinition, w LayerWeights) (LayerConfig, error) {
	switch def.Type {
	case "dense":
		return LayerConfig{
			Type:       LayerDense,
			Activation: stringToActivation(def.Activation),
			InputSize:  def.InputSize,
			OutputSize: def.OutputSize,
			Kernel:     w.Kernel,
			Bias:       w.Biases,
		}, nil

	case "shift_batch_norm":
		config, err := InitShiftBatchNormLayer(def.InputShape, def.Axes,
			def.Epsilon, def.Alpha, stringToActivation(def.Activation))
		if err != nil {
			return LayerConfig{}, err
		}
		if len(w.RunningMean) > 0 {
			if len(w.RunningMean) != len(config.RunningMean) {
				return LayerConfig{}, fmt.Errorf("running mean length mismatch: got %d, want %d",
					len(w.RunningMean), len(config.RunningMean))
			}
			copy(config.RunningMean, w.RunningMean)
		}
		if len(w.RunningStd) > 0 {
			if len(w.RunningStd) != len(config.RunningStd) {
				return LayerConfig{}, fmt.Errorf("running std length mismatch: got %d, want %d",
					len(w.RunningStd), len(config.RunningStd))
			}
			copy(config.RunningStd, w.RunningStd)
		}
		return config, nil

	default:
		return LayerConfig{}, fmt.Errorf("unknown layer type: %s", def.Type)
	}
}

// BuildNetworkFromJSON creates a network from a JSON configuration string.
// The JSON structure matches the NetworkConfig format used in serialization.
// Dense layers come back without weights; call InitializeWeights to fill
// them in.
func BuildNetworkFromJSON(jsonConfig string) (*Network, error) {
	var config NetworkConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	network := NewNetwork(config.BatchSize)

	for i, layerDef := range config.Layers {
		layerConfig, err := buildLayer(layerDef, LayerWeights{})
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		network.Add(layerConfig)
	}

	return network, nil
}

// InitializeWeights fills in random weights for dense layers that have
// none yet. Layers that already carry weights are left untouched.
func (n *Network) InitializeWeights() {
	for i := range n.Layers {
		config := &n.Layers[i]
		if config.Type == LayerDense && len(config.Kernel) == 0 {
			fresh := InitDenseLayer(config.InputSize, config.OutputSize, config.Activation)
			config.Kernel = fresh.Kernel
			config.Bias = fresh.Bias
		}
	}
}

// Helper functions for type conversions
func layerTypeToString(lt LayerType) string {
	switch lt {
	case LayerDense:
		return "dense"
	case LayerShiftBatchNorm:
		return "shift_batch_norm"
	default:
		return "unknown"
	}
}

func activationToString(a ActivationType) string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationLeakyReLU:
		return "leaky_relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	case ActivationSoftplus:
		return "softplus"
	default:
		return "identity"
	}
}

func stringToActivation(s string) ActivationType {
	switch s {
	case "relu":
		return ActivationReLU
	case "leaky_relu":
		return ActivationLeakyReLU
	case "sigmoid":
		return ActivationSigmoid
	case "tanh":
		return ActivationTanh
	case "softplus":
		return ActivationSoftplus
	case "identity", "linear", "":
		return ActivationIdentity
	default:
		return ActivationIdentity
	}
}
