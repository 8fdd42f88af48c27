package nn

import (
	"github.com/openfluke/shiftnorm/gpu"
)

// ActivationType defines the activation function applied by a layer.
// The zero value is the identity, which is what a freshly constructed
// normalization layer uses until a nonlinearity is attached to it.
type ActivationType int

const (
	ActivationIdentity  ActivationType = 0 // v unchanged
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationLeakyReLU ActivationType = 2 // v if v >= 0, else v * 0.1
	ActivationSigmoid   ActivationType = 3 // 1 / (1 + exp(-v))
	ActivationTanh      ActivationType = 4 // tanh(v)
	ActivationSoftplus  ActivationType = 5 // log(1 + exp(v))
)

// LayerType defines the type of neural network layer
type LayerType int

const (
	LayerDense          LayerType = 0 // Dense/Fully-connected layer
	LayerShiftBatchNorm LayerType = 1 // Shift-based power-of-two batch normalization
)

// LayerConfig holds configuration and state for a single layer.
// Only the fields of the layer's type are populated.
type LayerConfig struct {
	Type       LayerType
	Activation ActivationType

	// Dense parameters
	InputSize  int
	OutputSize int
	Kernel     []float32 // Weight matrix [inputSize * outputSize]
	Bias       []float32 // Bias vector [outputSize], nil when the bias is removed

	// Shift batch normalization parameters.
	// InputShape may carry -1 for dimensions that vary at runtime, such as
	// the batch axis. Every axis not listed in Axes must have a known size.
	InputShape []int
	Axes       []int   // Axes reduced over when estimating statistics
	Epsilon    float32 // Added to the variance surrogate before the square root
	Alpha      float32 // Moving-average coefficient for the running statistics

	// Persistent running statistics, shaped like InputShape with the
	// reduced axes collapsed to size 1. RunningStd stores the quantized
	// reciprocal standard deviation, so normalization multiplies by it.
	RunningMean []float32
	RunningStd  []float32
	StateShape  []int
}

// Network is a sequential stack of layers
type Network struct {
	Layers    []LayerConfig
	BatchSize int

	gpuLayers  map[int]*gpu.ShiftBatchNormLayer
	gpuMounted bool
}

// NewNetwork creates an empty network with the given batch size
func NewNetwork(batchSize int) *Network {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Network{
		BatchSize: batchSize,
		Layers:    []LayerConfig{},
	}
}

// Add appends a layer to the network
func (n *Network) Add(config LayerConfig) {
	n.Layers = append(n.Layers, config)
}

// GetLayer returns the layer configuration at the given index
func (n *Network) GetLayer(idx int) *LayerConfig {
	if idx >= 0 && idx < len(n.Layers) {
		return &n.Layers[idx]
	}
	return nil
}

// TotalLayers returns the number of layers in the network
func (n *Network) TotalLayers() int {
	return len(n.Layers)
}
